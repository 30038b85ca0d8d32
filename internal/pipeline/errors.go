package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

var ErrTimeout = errors.New("pipeline timed out")

type Kind string

const (
	KindSpawn       Kind = "spawn"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindNonZeroExit Kind = "exit"
)

// InvocationError describes a child process that could not be started or did
// not finish with exit code 0. Stdout and Stderr hold whatever was captured
// before the process ended.
type InvocationError struct {
	Program  string
	Kind     Kind
	ExitCode int
	Timeout  time.Duration
	Stdout   []byte
	Stderr   []byte
	Err      error
}

func (e *InvocationError) Error() string {
	name := filepath.Base(e.Program)
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("%s exited with code %d", name, e.ExitCode)
	case KindTimeout:
		return fmt.Sprintf("%s timed out after %s", name, e.Timeout)
	case KindCanceled:
		return fmt.Sprintf("%s canceled: %v", name, e.Err)
	default:
		return fmt.Sprintf("start %s: %v", name, e.Err)
	}
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// AsInvocationError is errors.As for *InvocationError.
func AsInvocationError(err error) (*InvocationError, bool) {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
