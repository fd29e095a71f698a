// Package execx wraps invocation of external tools (wp-cli, mysqldump,
// mysql, rsync) behind a Runner interface so pipeline stages can be tested
// without the tools installed.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Result captures the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands.
type Runner interface {
	// Run executes name with args and captures stdout/stderr.
	Run(ctx context.Context, name string, args ...string) (Result, error)
	// RunOut executes a command with stdout streamed to w (used for dumps
	// that can be far larger than memory).
	RunOut(ctx context.Context, w io.Writer, name string, args ...string) (Result, error)
	// RunIn executes a command with stdin fed from r (used for SQL imports).
	RunIn(ctx context.Context, r io.Reader, name string, args ...string) (Result, error)
	// LookPath reports whether the named tool is on PATH.
	LookPath(name string) (string, error)
}

// System is the Runner backed by os/exec.
type System struct{}

var _ Runner = System{}

func (System) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return run(ctx, nil, nil, name, args...)
}

func (System) RunOut(ctx context.Context, w io.Writer, name string, args ...string) (Result, error) {
	return run(ctx, nil, w, name, args...)
}

func (System) RunIn(ctx context.Context, r io.Reader, name string, args ...string) (Result, error) {
	return run(ctx, r, nil, name, args...)
}

func (System) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func run(ctx context.Context, stdin io.Reader, stdout io.Writer, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var outb, errb bytes.Buffer
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = &outb
	}
	cmd.Stderr = &errb
	cmd.Stdin = stdin

	err := cmd.Run()

	res := Result{
		Stdout: outb.String(),
		Stderr: errb.String(),
	}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("command interrupted: %s: %w", name, ctx.Err())
	}

	if err == nil {
		return res, nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
		return res, fmt.Errorf("%s exited %d: %s", name, res.ExitCode, firstLine(res.Stderr))
	}

	return res, fmt.Errorf("running %s: %w", name, err)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
