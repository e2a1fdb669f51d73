// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform interface: Synthesize turns one complete text into an
// encoded audio stream, ListVoices returns the provider's voice catalogue.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel.
type Provider interface {
	// Synthesize renders text with the given voice and returns the encoded audio
	// as a stream. The caller must close the returned ReadCloser. Reading from it
	// may fail mid-stream if the provider aborts; such errors surface from Read.
	//
	// Returns a non-nil error only if the synthesis cannot be started (invalid
	// credentials, unknown voice, rejected request). Cancelling ctx aborts both
	// the request and any in-progress read.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (io.ReadCloser, error)

	// ListVoices returns all voice profiles available from this provider. The list
	// reflects the provider's current catalogue and may change between calls if the
	// underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
