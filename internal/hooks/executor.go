// Package hooks revalidates pipelines after graph edits and runs an
// operator-supplied command when a pipeline stops being acyclic.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 5 * time.Minute

	// maxOutput bounds how much hook output is kept for logging.
	maxOutput = 4 << 10
)

// Result is the outcome of one hook command. ExitCode is -1 when the
// command did not exit on its own.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
	Err      error
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Execute runs command through sh -c. Entries in env are appended to the
// process environment in key order, so they win over inherited values.
// Stdout and stderr are captured together.
func Execute(ctx context.Context, command string, timeout time.Duration, env map[string]string) Result {
	timeout = clampTimeout(timeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command) //nolint:gosec // hook command comes from server config
	cmd.Env = os.Environ()
	for _, k := range slices.Sorted(maps.Keys(env)) {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	// Grandchildren may hold the output pipe open after sh is killed.
	cmd.WaitDelay = time.Second
	out := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   strings.TrimSpace(out.String()),
		ExitCode: -1,
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Err = fmt.Errorf("hook timed out after %s", timeout)
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("hook cancelled: %w", ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("hook exited with status %d", res.ExitCode)
	default:
		res.Err = err
	}
	return res
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + " [truncated]"
	}
	return b.buf.String()
}
