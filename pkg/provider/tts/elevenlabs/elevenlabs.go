// Package elevenlabs provides an ElevenLabs-backed TTS provider. It implements
// the tts.Provider interface over the HTTP streaming endpoint, with the
// stream-input WebSocket API available as an alternative transport.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_turbo_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// maxErrorBody caps how much of an error response is kept for diagnostics.
	maxErrorBody = 1 << 10
)

// Transport selects how Synthesize talks to ElevenLabs.
type Transport string

const (
	// TransportHTTP uses POST /v1/text-to-speech/{voice}/stream.
	TransportHTTP Transport = "http"
	// TransportWebSocket uses the stream-input WebSocket API.
	TransportWebSocket Transport = "websocket"
)

// ErrVoiceNotFound is returned when a voice name cannot be resolved to an ID.
var ErrVoiceNotFound = errors.New("elevenlabs: voice not found")

// APIError is returned when ElevenLabs answers with a non-success status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("elevenlabs: %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("elevenlabs: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unauthorized reports whether the API rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_turbo_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the API base URL. The WebSocket endpoint is derived
// from it by switching the scheme.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTransport selects the synthesis transport. The default is TransportHTTP.
func WithTransport(t Transport) Option {
	return func(p *Provider) {
		p.transport = t
	}
}

// WithVoiceSettings sets stability and similarity boost sent with every
// synthesis request.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	transport    Transport
	settings     voiceSettings
	httpClient   *http.Client

	// voiceIDs caches name → ID lookups. Lowercased keys.
	mu       sync.Mutex
	voiceIDs map[string]string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		transport:    TransportHTTP,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.transport {
	case TransportHTTP, TransportWebSocket:
	default:
		return nil, fmt.Errorf("elevenlabs: unknown transport %q", p.transport)
	}
	return p, nil
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// streamRequest is the JSON body of POST /v1/text-to-speech/{voice}/stream.
type streamRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize implements tts.Provider. It resolves the voice, then renders text
// over the configured transport.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voiceID, err := p.resolveVoiceID(ctx, voice)
	if err != nil {
		return nil, err
	}
	if p.transport == TransportWebSocket {
		return p.synthesizeWebSocket(ctx, text, voiceID)
	}
	return p.synthesizeHTTP(ctx, text, voiceID)
}

func (p *Provider) synthesizeHTTP(ctx context.Context, text, voiceID string) (io.ReadCloser, error) {
	body, err := json.Marshal(streamRequest{Text: text, ModelID: p.model, VoiceSettings: p.settings})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		p.baseURL, url.PathEscape(voiceID), url.QueryEscape(p.outputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize HTTP: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newAPIError("synthesize", resp)
	}
	return resp.Body, nil
}

// resolveVoiceID returns voice.ID, or looks the voice up by name.
func (p *Provider) resolveVoiceID(ctx context.Context, voice tts.VoiceProfile) (string, error) {
	if voice.ID != "" {
		return voice.ID, nil
	}
	if voice.Name == "" {
		return "", errors.New("elevenlabs: voice needs an ID or a name")
	}
	key := strings.ToLower(voice.Name)

	p.mu.Lock()
	id, ok := p.voiceIDs[key]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	voices, err := p.ListVoices(ctx)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: resolve voice %q: %w", voice.Name, err)
	}
	found, ok := tts.FindVoice(voices, voice.Name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrVoiceNotFound, voice.Name)
	}

	p.mu.Lock()
	if p.voiceIDs == nil {
		p.voiceIDs = make(map[string]string)
	}
	p.voiceIDs[key] = found.ID
	p.mu.Unlock()
	return found.ID, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("list voices", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	profiles, err := parseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}

func newAPIError(op string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
