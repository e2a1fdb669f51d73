package procexec

import (
	"fmt"
	"log/slog"
	"strings"
)

// maxStderrInMessage bounds how much stderr is echoed by Error. The full text
// remains available in the Stderr field.
const maxStderrInMessage = 512

// ProcessExecutionError reports a child process that could not be launched,
// exited non-zero, or was cancelled.
type ProcessExecutionError struct {
	// Name and Args identify the command.
	Name string
	Args []string

	// ExitCode is the process exit status, or -1 when the process never
	// started or was killed.
	ExitCode int

	// Stderr is the captured standard error, trimmed.
	Stderr string

	// Err is the underlying cause (e.g. exec.ErrNotFound, *exec.ExitError,
	// context.DeadlineExceeded).
	Err error
}

// Error implements error.
func (e *ProcessExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "procexec: %s", e.Name)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		s := e.Stderr
		if len(s) > maxStderrInMessage {
			s = s[:maxStderrInMessage] + "…"
		}
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ProcessExecutionError) Unwrap() error { return e.Err }

// LogValue keeps the error attribute compact in structured logs.
func (e *ProcessExecutionError) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cmd", Command{Name: e.Name, Args: e.Args}.String()),
		slog.Int("exit_code", e.ExitCode),
		slog.String("stderr", e.Stderr),
		slog.String("err", fmt.Sprint(e.Err)),
	)
}
