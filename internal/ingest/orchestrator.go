// Package ingest adds uploaded documents to the corpus and drives the external
// indexing program, which rebuilds its indexes from the whole corpus.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ragbridge/internal/corpus"
	"ragbridge/internal/models"
	"ragbridge/internal/pipeline"
)

type Orchestrator struct {
	store   *corpus.Store
	lock    *corpus.Lock
	runner  pipeline.Runner
	program string
	args    []string
	logger  *slog.Logger
}

// New builds an Orchestrator. command is the indexing program followed by any
// fixed arguments; no per-document arguments are ever appended.
func New(store *corpus.Store, lock *corpus.Lock, runner pipeline.Runner, command []string, logger *slog.Logger) (*Orchestrator, error) {
	if len(command) == 0 {
		return nil, errors.New("ingest command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		lock:    lock,
		runner:  runner,
		program: command[0],
		args:    command[1:],
		logger:  logger,
	}, nil
}

// Ingest places staged in the corpus as filename and rebuilds the indexes.
// If a document with that name already exists it is left untouched and only
// the rebuild runs; Reprocessed reports that case. The caller still owns
// staged and should Discard it afterwards.
func (o *Orchestrator) Ingest(ctx context.Context, staged *corpus.Staged, filename string) (models.IngestResult, error) {
	if staged == nil || staged.Size == 0 {
		return models.IngestResult{}, &Error{Kind: KindNoFile}
	}
	name, err := corpus.CleanName(filename)
	if err != nil {
		return models.IngestResult{}, &Error{Kind: KindInvalidDocument, Err: err}
	}

	release := o.lock.Ingesting()
	defer release()
	if ierr := pipeline.Interrupted(ctx, o.program); ierr != nil {
		o.logger.Warn("ingestion abandoned while waiting for the corpus", "filename", name, "kind", ierr.Kind)
		return models.IngestResult{}, &Error{Kind: KindPipelineFailed, Err: ierr}
	}

	exists, err := o.store.Exists(name)
	if err != nil {
		return models.IngestResult{}, &Error{Kind: KindRelocationFailed, Err: err}
	}
	if exists {
		o.logger.Info("document already in corpus, reprocessing", "filename", name)
	} else if _, err := o.store.Adopt(staged, name); err != nil {
		o.logger.Error("relocating upload failed", "filename", name, "err", err)
		return models.IngestResult{}, &Error{Kind: KindRelocationFailed, Err: err}
	}

	start := time.Now()
	if err := o.rebuild(ctx); err != nil {
		err.Reprocessed = exists
		return models.IngestResult{}, err
	}
	res := models.IngestResult{
		Filename:    name,
		Reprocessed: exists,
		SHA256:      staged.SHA256,
		Duration:    time.Since(start),
	}
	o.logger.Info("ingestion complete", "filename", name, "reprocessed", exists, "duration", res.Duration)
	return res, nil
}

// Rebuild reruns the indexing program over the current corpus without adding
// a document.
func (o *Orchestrator) Rebuild(ctx context.Context) error {
	release := o.lock.Ingesting()
	defer release()
	if ierr := pipeline.Interrupted(ctx, o.program); ierr != nil {
		return &Error{Kind: KindPipelineFailed, Err: ierr}
	}
	if err := o.rebuild(ctx); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) rebuild(ctx context.Context) *Error {
	res, err := o.runner.Run(ctx, o.program, o.args)
	if err == nil {
		return nil
	}
	out := &Error{Kind: KindPipelineFailed, Err: err}
	if ie, ok := pipeline.AsInvocationError(err); ok {
		out.Details = string(ie.Stderr)
		out.Output = string(ie.Stdout)
	} else {
		out.Details = string(res.Stderr)
		out.Output = string(res.Stdout)
	}
	o.logger.Error("indexing pipeline failed", "err", err)
	return out
}
