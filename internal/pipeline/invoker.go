// Package pipeline runs the external ingestion and answering programs as child
// processes and reports their captured output and exit status.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	DefaultTimeout = 120 * time.Second

	// waitDelay bounds how long Wait keeps draining pipes after the child is
	// gone, in case something outside the process group still holds them.
	waitDelay = 2 * time.Second
)

type Runner interface {
	Run(ctx context.Context, program string, args []string) (Result, error)
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Invoker is the os/exec backed Runner. Each Run starts a fresh process; no
// state is shared between invocations.
type Invoker struct {
	Timeout time.Duration
	Dir     string
	Env     []string
	Logger  *slog.Logger
}

func NewInvoker(timeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{Timeout: timeout, Logger: logger}
}

func (inv *Invoker) timeout() time.Duration {
	if inv.Timeout <= 0 {
		return DefaultTimeout
	}
	return inv.Timeout
}

func (inv *Invoker) logger() *slog.Logger {
	if inv.Logger == nil {
		return slog.Default()
	}
	return inv.Logger
}

// Run executes program with args (no shell) and blocks until the process has
// exited and been reaped. A non-zero exit, a timeout, a cancelled ctx and a
// failed start are all reported as *InvocationError.
func (inv *Invoker) Run(ctx context.Context, program string, args []string) (Result, error) {
	timeout := inv.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := inv.logger().With("program", filepath.Base(program), "argc", len(args))

	var stdout, stderr bytes.Buffer
	stderrLines := &lineWriter{emit: func(line string) {
		log.Debug("pipeline stderr", "line", line)
	}}

	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, stderrLines)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if ierr := interrupted(ctx, runCtx, InvocationError{Program: program, ExitCode: -1, Timeout: timeout}); ierr != nil {
			log.Warn("pipeline not started", "kind", ierr.Kind)
			return Result{ExitCode: -1}, ierr
		}
		log.Error("pipeline start failed", "err", err)
		return Result{}, &InvocationError{Program: program, Kind: KindSpawn, ExitCode: -1, Err: err}
	}
	log.Debug("pipeline started", "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	stderrLines.Flush()

	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if ierr := classify(ctx, runCtx, waitErr, program, timeout, res); ierr != nil {
		log.Warn("pipeline failed", "kind", ierr.Kind, "exit_code", res.ExitCode, "duration", res.Duration)
		return res, ierr
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn("pipeline output pipes stayed open after exit", "duration", res.Duration)
	}
	log.Info("pipeline finished", "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

func classify(parent, runCtx context.Context, waitErr error, program string, timeout time.Duration, res Result) *InvocationError {
	base := InvocationError{
		Program:  program,
		ExitCode: res.ExitCode,
		Timeout:  timeout,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if waitErr == nil {
		return nil
	}
	if ierr := interrupted(parent, runCtx, base); ierr != nil {
		return ierr
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) && res.ExitCode == 0 {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		base.Kind = KindNonZeroExit
		base.Err = waitErr
		return &base
	}
	base.Kind = KindSpawn
	base.Err = waitErr
	return &base
}

// Interrupted returns the error a Run under ctx would report once ctx is done,
// or nil while ctx is still live. Callers that block before running a program
// use it to give up without starting one.
func Interrupted(ctx context.Context, program string) *InvocationError {
	return interrupted(ctx, ctx, InvocationError{Program: program, ExitCode: -1})
}

func interrupted(parent, runCtx context.Context, base InvocationError) *InvocationError {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		base.Kind = KindCanceled
		base.Err = parent.Err()
	case parent.Err() != nil, errors.Is(runCtx.Err(), context.DeadlineExceeded):
		base.Kind = KindTimeout
		base.Err = ErrTimeout
	default:
		return nil
	}
	return &base
}
