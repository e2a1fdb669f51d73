package resilience

import (
	"context"
	"io"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// LLM implements [llm.Provider] by guarding another provider with a
// [CircuitBreaker]. Every call is counted in the provider request metrics.
type LLM struct {
	inner   llm.Provider
	name    string
	breaker *CircuitBreaker
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM wraps p. name labels metrics and breaker log lines; cfg.Name
// defaults to it. m may be nil to skip metrics.
func NewLLM(p llm.Provider, name string, cfg CircuitBreakerConfig, m *observe.Metrics) *LLM {
	if cfg.Name == "" {
		cfg.Name = "llm/" + name
	}
	return &LLM{inner: p, name: name, breaker: NewCircuitBreaker(cfg), metrics: m}
}

// Breaker exposes the underlying breaker for health reporting.
func (l *LLM) Breaker() *CircuitBreaker { return l.breaker }

// Complete implements [llm.Provider].
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := l.breaker.Execute(func() error {
		var err error
		resp, err = l.inner.Complete(ctx, req)
		return err
	})
	record(ctx, l.metrics, l.name, "llm", err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Capabilities implements [llm.Provider].
func (l *LLM) Capabilities() llm.ModelCapabilities {
	return l.inner.Capabilities()
}

// TTS implements [tts.Provider] by guarding another provider with a
// [CircuitBreaker]. Only opening the audio stream is guarded; a failure while
// reading the stream is the caller's to handle.
type TTS struct {
	inner   tts.Provider
	name    string
	breaker *CircuitBreaker
	metrics *observe.Metrics
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS wraps p. name labels metrics and breaker log lines; cfg.Name
// defaults to it. m may be nil to skip metrics.
func NewTTS(p tts.Provider, name string, cfg CircuitBreakerConfig, m *observe.Metrics) *TTS {
	if cfg.Name == "" {
		cfg.Name = "tts/" + name
	}
	return &TTS{inner: p, name: name, breaker: NewCircuitBreaker(cfg), metrics: m}
}

// Breaker exposes the underlying breaker for health reporting.
func (t *TTS) Breaker() *CircuitBreaker { return t.breaker }

// Synthesize implements [tts.Provider].
func (t *TTS) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := t.breaker.Execute(func() error {
		var err error
		rc, err = t.inner.Synthesize(ctx, text, voice)
		return err
	})
	record(ctx, t.metrics, t.name, "tts", err)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// ListVoices implements [tts.Provider].
func (t *TTS) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	var voices []tts.VoiceProfile
	err := t.breaker.Execute(func() error {
		var err error
		voices, err = t.inner.ListVoices(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return voices, nil
}

func record(ctx context.Context, m *observe.Metrics, provider, kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}
