package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"agentfs/internal/logging"
)

// Output capture cap per stream. Anything past this is discarded, not
// buffered.
const maxExecOutputBytes = 1 << 20

// DefaultExecTimeout bounds command execution when the caller's context
// carries no deadline.
const DefaultExecTimeout = 30 * time.Second

// limitedWriter caps how much output a stream may buffer.
type limitedWriter struct {
	w         io.Writer
	max       int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += n
	return len(p), err
}

// Execute runs a shell command inside the backend's root directory.
// Non-zero exit is a command outcome, not an error; infrastructure
// failures and timeouts are errors.
func (l *Local) Execute(ctx context.Context, command string) (*ExecResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultExecTimeout)
		defer cancel()
	}

	logging.Backend("%s: executing: %s", l.name, command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = l.root

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, max: maxExecOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, max: maxExecOutputBytes}

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	res := &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			logging.BackendWarn("%s: command timed out after %s", l.name, duration.Round(time.Millisecond))
			return nil, NewOpError("execute", "", l.name, ErrTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			logging.BackendDebug("%s: command exited %d", l.name, res.ExitCode)
			return res, nil
		}
		logging.BackendError("%s: command failed to run: %v", l.name, err)
		return nil, NewOpError("execute", "", l.name, err)
	}

	logging.BackendDebug("%s: command ok in %s", l.name, duration.Round(time.Millisecond))
	return res, nil
}
