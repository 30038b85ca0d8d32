package query

import "fmt"

type Kind string

const (
	KindMissingQuestion   Kind = "missing_question"
	KindPipelineFailed    Kind = "pipeline_failed"
	KindMalformedResponse Kind = "malformed_response"
)

// Error is returned by Query. A MalformedResponse means the program exited
// cleanly but its stdout was not a single JSON document; PipelineFailed means
// the program itself failed. Details holds stderr for PipelineFailed only.
type Error struct {
	Kind    Kind
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("query: %s", e.Kind)
	}
	return fmt.Sprintf("query: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ClientError() bool {
	return e.Kind == KindMissingQuestion
}
