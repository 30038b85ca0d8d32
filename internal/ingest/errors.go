package ingest

import "fmt"

type Kind string

const (
	KindNoFile           Kind = "no_file"
	KindInvalidDocument  Kind = "invalid_document"
	KindRelocationFailed Kind = "relocation_failed"
	KindPipelineFailed   Kind = "pipeline_failed"
)

// Error is returned by Ingest and Rebuild. For KindPipelineFailed, Details and
// Output carry the pipeline's stderr and stdout, and Reprocessed is set when
// the document was already in the corpus.
type Error struct {
	Kind        Kind
	Details     string
	Output      string
	Reprocessed bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ingest: %s", e.Kind)
	}
	return fmt.Sprintf("ingest: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClientError reports whether the failure was caused by the request itself.
func (e *Error) ClientError() bool {
	return e.Kind == KindNoFile || e.Kind == KindInvalidDocument
}
