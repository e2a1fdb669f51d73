// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server. Coqui answers with a complete RIFF/WAVE file, so speech produced by
// this provider can be handed to lip-sync without transcoding.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body; the voice catalogue comes from
//     GET /studio_speakers.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	rc, err := p.Synthesize(ctx, "Hello there.", tts.VoiceProfile{ID: "p225"})
package coqui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second

	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	maxErrorBody = 1 << 10
)

// ErrNotWAV is returned from Read when the server answers 200 with a body
// that is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("coqui: response is not a RIFF/WAVE file")

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server (e.g., "en", "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode selects the server flavour. The default is APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithHTTPClient replaces the HTTP client. A timeout set before this option
// is discarded.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider that targets the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// xttsRequest is the JSON body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// detailsResponse is the body of GET /details. Speakers is empty for
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize implements tts.Provider. The returned stream is the wav file the
// server produced. XTTS needs a voice ID; the standard server falls back to
// the model's only speaker when none is given.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text, voice)
	} else {
		req, err = p.standardRequest(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(req, resp)
	}
	return newWAVReader(resp.Body), nil
}

func (p *Provider) xttsRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	if voice.ID == "" {
		return nil, errors.New("coqui: voice ID is required in xtts mode")
	}
	body, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: voice.ID, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) standardRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	return req, nil
}

// ListVoices implements tts.Provider. XTTS servers report their studio
// speakers; standard servers report one voice per speaker of a multi-speaker
// model, or a single voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		return p.listStudioSpeakers(ctx)
	}
	return p.listModelSpeakers(ctx)
}

func (p *Provider) listStudioSpeakers(ctx context.Context) ([]tts.VoiceProfile, error) {
	var raw map[string]json.RawMessage
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func (p *Provider) listModelSpeakers(ctx context.Context) ([]tts.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) == 0 {
		name := details.ModelName
		if name == "" {
			name = "default"
		}
		return []tts.VoiceProfile{{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "single-speaker", "model_name": name},
		}}, nil
	}

	speakers := append([]string(nil), details.Speakers...)
	sort.Strings(speakers)
	profiles := make([]tts.VoiceProfile, 0, len(speakers))
	for _, spk := range speakers {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       spk,
			Name:     spk,
			Provider: "coqui",
			Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
		})
	}
	return profiles, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(req, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func statusError(req *http.Request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return fmt.Errorf("coqui: %s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
}

// wavReader checks the RIFF/WAVE magic on first read so a misconfigured
// server answering 200 with JSON or HTML fails before lip-sync sees it.
type wavReader struct {
	body    io.ReadCloser
	br      *bufio.Reader
	checked bool
}

func newWAVReader(body io.ReadCloser) *wavReader {
	return &wavReader{body: body, br: bufio.NewReader(body)}
}

func (r *wavReader) Read(b []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(12)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("coqui: read response: %w", err)
		}
		if len(head) < 12 || string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
			return 0, ErrNotWAV
		}
	}
	return r.br.Read(b)
}

func (r *wavReader) Close() error {
	return r.body.Close()
}
