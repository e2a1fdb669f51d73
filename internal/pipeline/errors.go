package pipeline

import (
	"errors"
	"fmt"

	"github.com/MrWong99/talkback/internal/dialogue"
	"github.com/MrWong99/talkback/internal/lipsync"
	"github.com/MrWong99/talkback/internal/procexec"
	"github.com/MrWong99/talkback/internal/speech"
)

// ValidationError reports a chat request that was rejected before any stage
// ran. It is the only error whose detail may be shown to the client.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: invalid request: %s %s", e.Field, e.Reason)
}

// StageError attributes a failure to the stage that produced it. Err is the
// stage's own typed error.
type StageError struct {
	Stage     Stage
	RequestID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage failed (request %s): %v", e.Stage, e.RequestID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrorKind names the error category of err for operator logs: the typed
// stage error it wraps, or "unknown".
func ErrorKind(err error) string {
	var (
		valErr  *ValidationError
		genErr  *dialogue.GenerationError
		synErr  *speech.SynthesisError
		convErr *lipsync.ConversionError
		extErr  *lipsync.ExtractionError
		procErr *procexec.ProcessExecutionError
	)
	switch {
	case errors.As(err, &valErr):
		return "ValidationError"
	case errors.As(err, &genErr):
		return "UpstreamGenerationError"
	case errors.As(err, &synErr):
		return "UpstreamSynthesisError"
	case errors.As(err, &convErr):
		return "ConversionError"
	case errors.As(err, &extErr):
		return "ExtractionError"
	case errors.As(err, &procErr):
		return "ProcessExecutionError"
	default:
		return "unknown"
	}
}
