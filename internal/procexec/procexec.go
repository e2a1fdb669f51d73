// Package procexec runs external command-line tools as child processes.
//
// Commands are argument vectors, never shell strings: the program name and
// each argument are passed to the OS verbatim, so values derived from request
// data cannot inject extra arguments or shell syntax. Tool command lines that
// come from configuration are split into argv once, at startup, by
// [ParseCommand].
//
// A [Runner] makes exactly one attempt per call. Failures are reported as
// [*ProcessExecutionError] carrying the exit status and captured stderr.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/talkback/internal/observe"
)

// Command describes one child process invocation.
type Command struct {
	// Name is the program to execute. Resolved through PATH when it contains
	// no path separator.
	Name string

	// Args are passed to the program as separate argv entries.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra KEY=value entries appended to the parent environment.
	Env []string
}

// String renders c for logs. The result is not meant to be re-parsed.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a successful run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	// Run starts cmd, waits for it to exit and returns its captured output.
	// A non-zero exit, a launch failure or ctx cancellation returns a
	// *ProcessExecutionError.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Option configures an [ExecRunner].
type Option func(*ExecRunner)

// WithMaxProcs caps the number of child processes running at once. Callers
// beyond the cap wait (honouring ctx) for a slot. n <= 0 means unlimited.
func WithMaxProcs(n int) Option {
	return func(r *ExecRunner) {
		if n > 0 {
			r.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMetrics records each run to m.ProcessDuration.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *ExecRunner) { r.metrics = m }
}

// ExecRunner implements [Runner] on top of os/exec.
type ExecRunner struct {
	slots   *semaphore.Weighted
	metrics *observe.Metrics
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner returns a ready-to-use ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run implements [Runner].
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, &ProcessExecutionError{ExitCode: -1, Err: errors.New("empty command")}
	}

	if r.slots != nil {
		if err := r.slots.Acquire(ctx, 1); err != nil {
			return nil, newLaunchError(c, err)
		}
		defer r.slots.Release(1)
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.ProcessDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("tool", c.Name),
				attribute.String("status", status),
			),
		)
	}
	observe.Logger(ctx).Debug("process finished",
		"cmd", c.String(),
		"status", status,
		"duration", elapsed,
	)

	if err != nil {
		return nil, classify(ctx, c, err, stderr.Bytes())
	}
	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
	}, nil
}

// classify turns an exec error into a *ProcessExecutionError.
func classify(ctx context.Context, c Command, err error, stderr []byte) error {
	pe := &ProcessExecutionError{
		Name:     c.Name,
		Args:     append([]string(nil), c.Args...),
		ExitCode: -1,
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	}
	// A killed-by-context process reports a signal exit; surface the
	// context error instead so callers can tell a timeout from a tool fault.
	if ctxErr := ctx.Err(); ctxErr != nil {
		pe.Err = fmt.Errorf("%w: %w", ctxErr, err)
		return pe
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		pe.ExitCode = exitErr.ExitCode()
	}
	return pe
}

func newLaunchError(c Command, err error) error {
	return &ProcessExecutionError{
		Name:     c.Name,
		Args:     append([]string(nil), c.Args...),
		ExitCode: -1,
		Err:      err,
	}
}

// LookPath reports whether the program name can be resolved through PATH.
// A bare name missing from PATH yields an error wrapping [exec.ErrNotFound].
// The readiness check of each configured tool runs it.
func LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("procexec: %s: %w", name, err)
	}
	return nil
}
