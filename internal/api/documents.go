package api

import (
	"errors"
	"io"
	"net/http"

	"ragbridge/internal/query"
	"ragbridge/internal/util"
)

// multipartMemory is how much of a multipart body is held in memory before
// the rest spills to temporary files.
const multipartMemory = 32 << 20

func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, r, util.ErrMethodNotAllowed, "")
		return
	}
	if limit := s.cfg.MaxUploadBytes(); limit > 0 {
		// leave room for the multipart envelope around the file part
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.fail(w, r, err, "")
			return
		}
		writeErr(w, apiError{Status: http.StatusBadRequest, Message: msgNoFile})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("pdf")
	if err != nil {
		writeErr(w, apiError{Status: http.StatusBadRequest, Message: msgNoFile})
		return
	}
	defer file.Close()

	staged, err := s.stager.Stage(file, header.Filename)
	if err != nil {
		s.fail(w, r, err, msgStagingFailed)
		return
	}
	defer func() {
		if err := staged.Discard(); err != nil {
			s.logger.Warn("discard staged upload", "path", staged.Path, "err", err)
		}
	}()

	res, err := s.ingester.Ingest(r.Context(), staged, header.Filename)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	msg := msgIngested
	if res.Reprocessed {
		msg = msgReprocessed
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, r, util.ErrMethodNotAllowed, "")
		return
	}
	if err := s.ingester.Rebuild(r.Context()); err != nil {
		s.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msgReindexed})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.fail(w, r, util.ErrMethodNotAllowed, "")
		return
	}
	names, err := s.store.List()
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": names})
}

type queryRequest struct {
	Question string       `json:"question"`
	History  []query.Turn `json:"history"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, r, util.ErrMethodNotAllowed, "")
		return
	}
	var req queryRequest
	// an empty body is a request without a question
	if err := decodeJSON(r, w, &req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, err, "")
		return
	}

	answer, err := s.querier.Query(r.Context(), req.Question, req.History)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(answer)
}
