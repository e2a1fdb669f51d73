// Package speech renders reply text into a complete audio artifact through a
// TTS provider.
//
// The provider's stream is buffered in full before Synthesize returns: the
// downstream format conversion needs a whole file, and partial playback is not
// offered.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// DefaultMaxBytes caps the size of a buffered artifact.
const DefaultMaxBytes = 32 << 20

// Default voice settings.
const (
	DefaultVoiceName = "Bill"
	DefaultVoiceID   = "pqHfZKP75CvOlQylNhV4"
	DefaultModel     = "eleven_turbo_v2_5"
)

// Artifact is a finished audio clip.
type Artifact struct {
	Data     []byte
	Encoding audio.Encoding
}

var (
	// ErrEmptyText is returned when Synthesize is called with blank text.
	ErrEmptyText = errors.New("speech: text must not be empty")

	// ErrEmptyAudio means the provider finished without sending any audio.
	ErrEmptyAudio = errors.New("speech: provider returned no audio")

	// ErrTooLarge means the provider stream exceeded the configured limit.
	ErrTooLarge = errors.New("speech: audio exceeds size limit")
)

// SynthesisError reports an upstream synthesis failure: the provider rejected
// the request (including authentication), the stream broke, or no audio came
// back.
type SynthesisError struct {
	// Voice is the voice the synthesis was attempted with.
	Voice string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech: upstream synthesis failed (voice %s): %v", e.Voice, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithEncoding sets the encoding the provider delivers. Default is mp3.
func WithEncoding(enc audio.Encoding) Option {
	return func(s *Synthesizer) { s.encoding = enc }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(s *Synthesizer) { s.maxBytes = n }
}

// Synthesizer turns text into an Artifact with a fixed voice. It is safe for
// concurrent use.
type Synthesizer struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	encoding audio.Encoding
	maxBytes int64
}

// NewSynthesizer creates a Synthesizer for voice.
func NewSynthesizer(provider tts.Provider, voice tts.VoiceProfile, opts ...Option) (*Synthesizer, error) {
	if provider == nil {
		return nil, errors.New("speech: provider must not be nil")
	}
	if voice.ID == "" && voice.Name == "" {
		return nil, errors.New("speech: voice needs an ID or a name")
	}
	s := &Synthesizer{
		provider: provider,
		voice:    voice,
		encoding: audio.EncodingMP3,
		maxBytes: DefaultMaxBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if !s.encoding.IsValid() {
		return nil, fmt.Errorf("speech: unsupported encoding %q", s.encoding)
	}
	if s.maxBytes <= 0 {
		return nil, fmt.Errorf("speech: max bytes must be positive, got %d", s.maxBytes)
	}
	return s, nil
}

// Voice returns the configured voice.
func (s *Synthesizer) Voice() tts.VoiceProfile { return s.voice }

// Synthesize renders text and returns the fully buffered audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return Artifact{}, &SynthesisError{Voice: s.voice.String(), Err: ErrEmptyText}
	}

	rc, err := s.provider.Synthesize(ctx, text, s.voice)
	if err != nil {
		return Artifact{}, s.fail(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.maxBytes+1))
	if err != nil {
		return Artifact{}, s.fail(fmt.Errorf("read audio stream: %w", err))
	}
	// A stream that ends because ctx was cancelled may look clean to the reader.
	if err := ctx.Err(); err != nil {
		return Artifact{}, s.fail(err)
	}
	if int64(len(data)) > s.maxBytes {
		return Artifact{}, s.fail(fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxBytes))
	}
	if len(data) == 0 {
		return Artifact{}, s.fail(ErrEmptyAudio)
	}
	return Artifact{Data: data, Encoding: s.encoding}, nil
}

func (s *Synthesizer) fail(err error) *SynthesisError {
	return &SynthesisError{Voice: s.voice.String(), Err: err}
}
