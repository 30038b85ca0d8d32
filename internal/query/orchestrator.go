// Package query forwards questions and caller-held conversation history to the
// external answering program and returns its JSON answer.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"ragbridge/internal/corpus"
	"ragbridge/internal/pipeline"
)

// Turn is one prior exchange. Its shape belongs to the answering program and
// is passed through untouched.
type Turn = json.RawMessage

type Orchestrator struct {
	lock    *corpus.Lock
	runner  pipeline.Runner
	program string
	args    []string
	logger  *slog.Logger
}

func New(lock *corpus.Lock, runner pipeline.Runner, command []string, logger *slog.Logger) (*Orchestrator, error) {
	if len(command) == 0 {
		return nil, errors.New("query command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		lock:    lock,
		runner:  runner,
		program: command[0],
		args:    command[1:],
		logger:  logger,
	}, nil
}

// Query runs the answering program once with question and the JSON-encoded
// history as its two trailing arguments. Queries share the corpus lock, so
// they wait for a running ingestion but not for each other.
func (o *Orchestrator) Query(ctx context.Context, question string, history []Turn) (json.RawMessage, error) {
	if question == "" {
		return nil, &Error{Kind: KindMissingQuestion}
	}
	historyArg, err := EncodeHistory(history)
	if err != nil {
		return nil, &Error{Kind: KindPipelineFailed, Err: err}
	}

	args := make([]string, 0, len(o.args)+2)
	args = append(args, o.args...)
	args = append(args, question, historyArg)

	release := o.lock.Reading()
	if ierr := pipeline.Interrupted(ctx, o.program); ierr != nil {
		release()
		return nil, &Error{Kind: KindPipelineFailed, Err: ierr}
	}
	res, err := o.runner.Run(ctx, o.program, args)
	release()
	if err != nil {
		qerr := &Error{Kind: KindPipelineFailed, Err: err, Details: string(res.Stderr)}
		if ie, ok := pipeline.AsInvocationError(err); ok {
			qerr.Details = string(ie.Stderr)
		}
		o.logger.Error("answering pipeline failed", "err", err, "history_turns", len(history))
		return nil, qerr
	}

	answer, err := DecodeAnswer(res.Stdout)
	if err != nil {
		o.logger.Error("answering pipeline broke its output contract", "err", err, "stdout_bytes", len(res.Stdout))
		return nil, &Error{Kind: KindMalformedResponse, Err: err}
	}
	o.logger.Info("query answered", "history_turns", len(history), "duration", res.Duration)
	return answer, nil
}

// EncodeHistory renders history as a JSON array; nil becomes "[]".
func EncodeHistory(history []Turn) (string, error) {
	if history == nil {
		history = []Turn{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(b), nil
}

// DecodeAnswer requires stdout to hold exactly one UTF-8 JSON document,
// surrounded by nothing but whitespace, and returns the document bytes as
// written.
func DecodeAnswer(stdout []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, errors.New("empty output")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var doc json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON document")
	}
	// encoding/json accepts invalid UTF-8 inside strings
	if !utf8.Valid(doc) {
		return nil, errors.New("output is not valid UTF-8")
	}
	return doc, nil
}
