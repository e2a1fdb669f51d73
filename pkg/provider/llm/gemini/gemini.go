// Package gemini provides an LLM provider backed by the Google Gemini API via
// google.golang.org/genai.
//
// Unlike the generic any-llm backends, this provider applies the full Gemini
// generation config: topK, a plain-text response MIME type and a harassment
// safety setting. Blocked prompts and safety-stopped candidates are reported
// through llm.CompletionResponse.Blocked.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = "gemini-1.5-pro"

// Provider implements llm.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Gemini provider. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if cfg.httpClient != nil {
		cc.HTTPClient = cfg.httpClient
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, system := buildContents(req)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: request has no messages")
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, buildConfig(req, system))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	result := &llm.CompletionResponse{}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		result.Blocked = true
		result.BlockReason = string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			result.BlockReason += ": " + fb.BlockReasonMessage
		}
	}
	if len(resp.Candidates) > 0 {
		reason := resp.Candidates[0].FinishReason
		result.FinishReason = string(reason)
		switch reason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			result.Blocked = true
			if result.BlockReason == "" {
				result.BlockReason = string(reason)
			}
		}
	}
	if !result.Blocked {
		result.Content = resp.Text()
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return result, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildContents maps the conversation onto Gemini contents. System-role
// messages are merged into the system instruction since Gemini only accepts
// "user" and "model" turns.
func buildContents(req llm.CompletionRequest) ([]*genai.Content, string) {
	system := req.SystemPrompt
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}

func buildConfig(req llm.CompletionRequest, system string) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		ResponseMIMEType: "text/plain",
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != 0 {
		gc.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP != 0 {
		gc.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.TopK > 0 {
		gc.TopK = genai.Ptr(float32(req.TopK))
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SafetyThreshold != "" {
		gc.SafetySettings = []*genai.SafetySetting{{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockThreshold(req.SafetyThreshold),
		}}
	}
	return gc
}

func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:          128_000,
		MaxOutputTokens:        8_192,
		SupportsTopK:           true,
		SupportsSafetySettings: true,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "gemini-2.5"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 65_536
	case strings.Contains(lower, "gemini-2.0-flash"):
		caps.ContextWindow = 1_048_576
	case strings.Contains(lower, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
	case strings.Contains(lower, "gemini-1.5-flash"):
		caps.ContextWindow = 1_048_576
	}
	return caps
}
