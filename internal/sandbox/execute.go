package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result is the outcome of one sandboxed execution. It exists only
// when the process was actually spawned; validation failures return an
// error instead.
type Result struct {
	Status          Status
	ExitCode        int // -1 when the process never exited normally
	Stdout          string
	Stderr          string
	OutputTruncated bool
	Duration        time.Duration
}

// Execute validates and then runs one plugin invocation:
//
//	requested → validating → (rejected | running) →
//	    (succeeded | crashed | timed_out)
//
// Validation failures return (nil, err) and no process starts. After
// that, every outcome is a Result: timeouts and crashes are values the
// caller inspects, not errors. Exactly one subprocess per call, argv
// passed directly with no shell anywhere, and no retry here; retry
// policy belongs to the caller.
func (s *Sandbox) Execute(ctx context.Context, executable string, args []string, extraEnv map[string]string) (*Result, error) {
	s.transition(StateRequested)
	s.transition(StateValidating)

	exe, err := s.ValidateExecutable(executable)
	if err != nil {
		s.transition(StateRejected)
		s.logger.Warn("sandbox rejected execution",
			"plugin", s.plugin,
			"error", err,
			"security_event", "sandbox_rejected")
		return nil, err
	}
	if err := s.ValidateArgs(args); err != nil {
		s.transition(StateRejected)
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	stdout := &limitedWriter{max: s.cfg.MaxOutputBytes}
	stderr := &limitedWriter{max: s.cfg.MaxOutputBytes}

	cmd := exec.CommandContext(runCtx, exe, args...)
	cmd.Dir = s.root
	cmd.Env = s.Environment(extraEnv)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A child may leave pipe-holding grandchildren behind after the
	// kill; WaitDelay stops Wait from hanging on them forever.
	cmd.WaitDelay = killGrace

	s.transition(StateRunning)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		s.transition(StateCrashed)
		return &Result{
			Status:   StatusCrashed,
			ExitCode: -1,
			Stderr:   err.Error(),
			Duration: time.Since(start),
		}, nil
	}

	s.applyCPULimit(cmd.Process.Pid)

	waitErr := cmd.Wait()
	res := &Result{
		ExitCode:        -1,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		OutputTruncated: stdout.truncated || stderr.truncated,
		Duration:        time.Since(start),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimeout
		s.transition(StateTimedOut)
		s.logger.Warn("plugin hit wall-clock limit",
			"plugin", s.plugin,
			"timeout", s.cfg.Timeout,
			"security_event", "sandbox_timeout")
	case waitErr != nil:
		res.Status = StatusCrashed
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		s.transition(StateCrashed)
	default:
		res.Status = StatusSuccess
		res.ExitCode = 0
		s.transition(StateSucceeded)
	}

	if res.OutputTruncated {
		s.logger.Warn("plugin output truncated",
			"plugin", s.plugin,
			"max_bytes", s.cfg.MaxOutputBytes)
	}
	return res, nil
}

// limitedWriter keeps the first max bytes and silently swallows the
// rest. It never errors: backpressure against a hostile child would
// just stall the pipe.
type limitedWriter struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remain := w.max - int64(w.buf.Len())
	switch {
	case remain <= 0:
		if len(p) > 0 {
			w.truncated = true
		}
	case int64(len(p)) > remain:
		w.buf.Write(p[:remain])
		w.truncated = true
	default:
		w.buf.Write(p)
	}
	return len(p), nil
}

func (w *limitedWriter) String() string { return w.buf.String() }
