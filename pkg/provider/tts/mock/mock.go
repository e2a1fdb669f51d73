// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify that the
// correct text and VoiceProfile are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:            []byte("ID3..."),
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Bill"}},
//	}
//	rc, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is the content of the stream returned by Synthesize.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// ReadErr, if non-nil, is returned by the stream after Audio is consumed,
	// simulating a connection that drops mid-transfer.
	ReadErr error

	// SynthesizeFunc, if set, overrides Audio, SynthesizeErr and ReadErr. It is
	// called without the mock's lock held.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceProfile) (io.ReadCloser, error)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall

	closed int
}

// Synthesize records the call and returns a stream over Audio.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (io.ReadCloser, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	audio, synthErr, readErr := p.Audio, p.SynthesizeErr, p.ReadErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if synthErr != nil {
		return nil, synthErr
	}
	var r io.Reader = bytes.NewReader(audio)
	if readErr != nil {
		r = io.MultiReader(r, errReader{readErr})
	}
	return &stream{Reader: r, p: p}, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize invocations. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// ClosedStreams returns how many streams returned by Synthesize were closed.
func (p *Provider) ClosedStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
	p.closed = 0
}

type stream struct {
	io.Reader
	p    *Provider
	once sync.Once
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		s.p.closed++
		s.p.mu.Unlock()
	})
	return nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
