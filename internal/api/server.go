package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ragbridge/internal/accounts"
	"ragbridge/internal/config"
	"ragbridge/internal/corpus"
	"ragbridge/internal/ingest"
	"ragbridge/internal/query"
	"ragbridge/internal/util"

	"github.com/google/uuid"
)

// Wire messages are kept in French; the web client displays them as-is.
const (
	msgNoFile           = "Aucun fichier envoyé."
	msgInvalidPDF       = "Fichier PDF invalide."
	msgTooLarge         = "Fichier trop volumineux."
	msgStagingFailed    = "Erreur lors de l'enregistrement du fichier."
	msgMoveFailed       = "Erreur de déplacement du fichier."
	msgIngestFailed     = "Erreur lors du traitement Python."
	msgReprocessFailed  = "Erreur lors du traitement Python (fichier déjà existant)."
	msgIngested         = "PDF ajouté et traité avec succès."
	msgReprocessed      = "PDF déjà existant mais retraité avec succès."
	msgReindexed        = "Index reconstruit avec succès."
	msgMissingQuestion  = "Question manquante"
	msgQueryFailed      = "Erreur d'exécution Python"
	msgQueryMalformed   = "Erreur parsing JSON Python"
	msgInvalidJSON      = "Requête JSON invalide."
	msgMethodNotAllowed = "Méthode non autorisée."
	msgUnauthorized     = "Authentification requise."
	msgAccountsDisabled = "Service de comptes indisponible."
	msgSignupOK         = "Inscription réussie"
	msgLoginOK          = "Connexion réussie"
	msgInvalidEmail     = "Email invalide"
	msgMissingPassword  = "Mot de passe manquant"
	msgPasswordTooLong  = "Mot de passe trop long (72 octets maximum)"
	msgEmailTaken       = "Email déjà utilisé"
	msgUnknownUser      = "Utilisateur non trouvé"
	msgWrongPassword    = "Mot de passe incorrect"
	msgSignupFailed     = "Erreur serveur lors de l'inscription"
	msgLoginFailed      = "Erreur serveur lors de la connexion"
	msgServerError      = "Erreur serveur."
)

// maxDiagnostics caps the stderr/stdout excerpt returned to clients.
const maxDiagnostics = 8 << 10

const maxJSONBody = 1 << 20

type Server struct {
	cfg      config.Config
	store    *corpus.Store
	stager   *corpus.Stager
	ingester *ingest.Orchestrator
	querier  *query.Orchestrator
	accounts *accounts.Service
	tokens   *accounts.Tokens
	logger   *slog.Logger
}

// Deps are the components the API layer fronts. Accounts and Tokens may be
// nil: account routes then answer 503 and no bearer tokens are issued.
type Deps struct {
	Store    *corpus.Store
	Stager   *corpus.Stager
	Ingester *ingest.Orchestrator
	Querier  *query.Orchestrator
	Accounts *accounts.Service
	Tokens   *accounts.Tokens
	Logger   *slog.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    d.Store,
		stager:   d.Stager,
		ingester: d.Ingester,
		querier:  d.Querier,
		accounts: d.Accounts,
		tokens:   d.Tokens,
		logger:   logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/signup", s.handleSignup)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.Handle("/api/upload-pdf", s.requireAuth(http.HandlerFunc(s.handleUploadPDF)))
	mux.Handle("/api/query", s.requireAuth(http.HandlerFunc(s.handleQuery)))
	mux.Handle("/api/reindex", s.requireAuth(http.HandlerFunc(s.handleReindex)))
	mux.Handle("/api/documents", s.requireAuth(http.HandlerFunc(s.handleDocuments)))
	mux.Handle("/static/rapports/", http.StripPrefix("/static/rapports/", noDirListing(http.FileServer(http.Dir(s.store.Dir)))))
	return s.withRequestLog(withCORS(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Status  int
	Message string
	// Extra holds additional body fields such as pipeline diagnostics.
	Extra map[string]string
}

func writeErr(w http.ResponseWriter, e apiError) {
	body := map[string]any{"error": e.Message}
	for k, v := range e.Extra {
		body[k] = v
	}
	writeJSON(w, e.Status, body)
}

// toAPIError maps a component error to its status and wire message. Bodies are
// built from the error kind and pipeline diagnostics only, never from paths or
// wrapped error text. fallback is the message for unrecognised failures.
func (s *Server) toAPIError(err error, fallback string) apiError {
	var ie *ingest.Error
	if errors.As(err, &ie) {
		switch ie.Kind {
		case ingest.KindNoFile:
			return apiError{Status: http.StatusBadRequest, Message: msgNoFile}
		case ingest.KindInvalidDocument:
			return apiError{Status: http.StatusBadRequest, Message: msgInvalidPDF}
		case ingest.KindRelocationFailed:
			return apiError{Status: http.StatusInternalServerError, Message: msgMoveFailed}
		case ingest.KindPipelineFailed:
			msg := msgIngestFailed
			if ie.Reprocessed {
				msg = msgReprocessFailed
			}
			return apiError{Status: http.StatusInternalServerError, Message: msg, Extra: map[string]string{
				"details": util.TailText(ie.Details, maxDiagnostics),
				"output":  util.TailText(ie.Output, maxDiagnostics),
			}}
		}
	}

	var qe *query.Error
	if errors.As(err, &qe) {
		switch qe.Kind {
		case query.KindMissingQuestion:
			return apiError{Status: http.StatusBadRequest, Message: msgMissingQuestion}
		case query.KindPipelineFailed:
			return apiError{Status: http.StatusInternalServerError, Message: msgQueryFailed, Extra: map[string]string{
				"details": util.TailText(qe.Details, maxDiagnostics),
			}}
		case query.KindMalformedResponse:
			return apiError{Status: http.StatusInternalServerError, Message: msgQueryMalformed}
		}
	}

	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe), errors.Is(err, corpus.ErrTooLarge):
		return apiError{Status: http.StatusRequestEntityTooLarge, Message: msgTooLarge}
	case errors.Is(err, corpus.ErrInvalidDocument), errors.Is(err, corpus.ErrInvalidFilename):
		return apiError{Status: http.StatusBadRequest, Message: msgInvalidPDF}
	case errors.Is(err, util.ErrInvalidJSON):
		return apiError{Status: http.StatusBadRequest, Message: msgInvalidJSON}
	case errors.Is(err, util.ErrMethodNotAllowed):
		return apiError{Status: http.StatusMethodNotAllowed, Message: msgMethodNotAllowed}
	case errors.Is(err, util.ErrUnauthorized):
		return apiError{Status: http.StatusUnauthorized, Message: msgUnauthorized}
	case errors.Is(err, util.ErrAccountsDisabled):
		return apiError{Status: http.StatusServiceUnavailable, Message: msgAccountsDisabled}
	case errors.Is(err, accounts.ErrWrongDomain):
		return apiError{Status: http.StatusBadRequest, Message: "Email doit se terminer par " + s.cfg.EmailDomain}
	case errors.Is(err, accounts.ErrInvalidEmail):
		return apiError{Status: http.StatusBadRequest, Message: msgInvalidEmail}
	case errors.Is(err, accounts.ErrMissingPassword):
		return apiError{Status: http.StatusBadRequest, Message: msgMissingPassword}
	case errors.Is(err, accounts.ErrPasswordTooLong):
		return apiError{Status: http.StatusBadRequest, Message: msgPasswordTooLong}
	case errors.Is(err, accounts.ErrEmailTaken):
		return apiError{Status: http.StatusBadRequest, Message: msgEmailTaken}
	case errors.Is(err, accounts.ErrUnknownUser):
		return apiError{Status: http.StatusBadRequest, Message: msgUnknownUser}
	case errors.Is(err, accounts.ErrWrongPassword):
		return apiError{Status: http.StatusBadRequest, Message: msgWrongPassword}
	}

	if fallback == "" {
		fallback = msgServerError
	}
	return apiError{Status: http.StatusInternalServerError, Message: fallback}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	e := s.toAPIError(err, fallback)
	log := s.logger.With("path", r.URL.Path, "status", e.Status, "request_id", w.Header().Get("X-Request-ID"))
	if e.Status >= 500 {
		log.Error("request failed", "err", err)
	} else {
		log.Info("request rejected", "err", err)
	}
	writeErr(w, e)
}

func decodeJSON(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(util.ErrInvalidJSON, err)
	}
	return nil
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if !s.cfg.RequireAuth {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := bearerToken(r)
		if err != nil || s.tokens == nil {
			s.fail(w, r, errors.Join(util.ErrUnauthorized, err), "")
			return
		}
		claims, err := s.tokens.Parse(raw)
		if err != nil {
			s.fail(w, r, errors.Join(util.ErrUnauthorized, err), "")
			return
		}
		s.logger.Debug("authenticated request", "path", r.URL.Path, "user", claims.Subject)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("authorization header missing")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("authorization header must be Bearer token")
	}
	return strings.TrimSpace(parts[1]), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
