// Package exec is a minimal context-aware wrapper around os/exec, serving
// as the "container-exec bridge" adjunct: a way for fsxctl to run a command
// against the filesystem a running fsxd instance exposes, without fsxd
// itself gaining a remote-code-execution surface. It is not part of the
// core metastore/blobstore/fsengine triad and is exercised only by
// `fsxctl exec`.
package exec

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Result holds a finished command's captured output and exit status.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands. The default implementation shells out via
// os/exec; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// execRunner is the real Runner, backed by os/exec.CommandContext.
type execRunner struct {
	timeout time.Duration
}

// NewRunner returns a Runner that kills the child process if it outlives
// timeout. A non-positive timeout disables the deadline, relying solely on
// the caller's context.
func NewRunner(timeout time.Duration) Runner {
	return &execRunner{timeout: timeout}
}

// Run executes name with args in dir, capturing stdout/stderr separately.
// A non-zero exit from the child is reported via Result.ExitCode, not as an
// error — only a failure to start the process (missing binary, bad dir) or
// context cancellation returns an error.
func (r *execRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, err
}
