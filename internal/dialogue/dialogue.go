// Package dialogue turns user input into a reply text by running one fresh,
// single-turn completion against an LLM provider.
//
// The persona and sampling parameters are fixed at construction and applied
// identically to every call; no conversation history is kept between calls.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// DefaultPersona is the system instruction used when none is configured.
const DefaultPersona = "You are Shahad, everybody's friend. Conversation and response should be like talking to a real friend and it should be casual"

// Params are the fixed generation parameters sent with every request.
type Params struct {
	SystemPrompt    string
	Temperature     float64
	TopP            float64
	TopK            int
	MaxTokens       int
	SafetyThreshold string
}

// DefaultParams returns the stock persona and sampling settings.
func DefaultParams() Params {
	return Params{
		SystemPrompt:    DefaultPersona,
		Temperature:     2,
		TopP:            0.95,
		TopK:            64,
		MaxTokens:       8192,
		SafetyThreshold: llm.SafetyBlockMediumAndAbove,
	}
}

// Reply is the generated dialogue text.
type Reply struct {
	Text string
}

var (
	// ErrEmptyInput is returned when Generate is called with blank input.
	ErrEmptyInput = errors.New("dialogue: user input must not be empty")

	// ErrEmptyCompletion means the provider answered without any text.
	ErrEmptyCompletion = errors.New("dialogue: empty completion")

	// ErrBlocked means the provider refused to answer for policy reasons.
	ErrBlocked = errors.New("dialogue: completion blocked")
)

// GenerationError reports an upstream generation failure: the provider was
// unreachable, returned an error, or produced an empty or blocked completion.
type GenerationError struct {
	// Provider names the backend, when known.
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("dialogue: upstream generation failed: %v", e.Err)
	}
	return fmt.Sprintf("dialogue: upstream generation failed (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Option configures a Generator.
type Option func(*Generator)

// WithParams replaces the default generation parameters.
func WithParams(p Params) Option {
	return func(g *Generator) { g.params = p }
}

// WithProviderName labels errors and logs with the backend name.
func WithProviderName(name string) Option {
	return func(g *Generator) { g.name = name }
}

// Generator produces replies. It is safe for concurrent use.
type Generator struct {
	provider llm.Provider
	params   Params
	name     string
}

// NewGenerator creates a Generator backed by provider.
func NewGenerator(provider llm.Provider, opts ...Option) (*Generator, error) {
	if provider == nil {
		return nil, errors.New("dialogue: provider must not be nil")
	}
	g := &Generator{provider: provider, params: DefaultParams()}
	for _, o := range opts {
		o(g)
	}
	if !llm.ValidSafetyThreshold(g.params.SafetyThreshold) {
		return nil, fmt.Errorf("dialogue: invalid safety threshold %q", g.params.SafetyThreshold)
	}

	caps := provider.Capabilities()
	if g.params.TopK > 0 && !caps.SupportsTopK {
		slog.Debug("dialogue: provider ignores topK", "provider", g.name, "top_k", g.params.TopK)
	}
	if g.params.SafetyThreshold != "" && !caps.SupportsSafetySettings {
		slog.Debug("dialogue: provider ignores safety threshold", "provider", g.name, "threshold", g.params.SafetyThreshold)
	}
	if caps.MaxOutputTokens > 0 && g.params.MaxTokens > caps.MaxOutputTokens {
		slog.Warn("dialogue: max tokens above model limit, clamping",
			"provider", g.name, "max_tokens", g.params.MaxTokens, "model_limit", caps.MaxOutputTokens)
		g.params.MaxTokens = caps.MaxOutputTokens
	}
	return g, nil
}

// Params returns the effective generation parameters.
func (g *Generator) Params() Params { return g.params }

// Generate sends userInput as a single-turn request and returns the reply.
// Any provider failure, empty completion or block yields a *GenerationError.
func (g *Generator) Generate(ctx context.Context, userInput string) (Reply, error) {
	if strings.TrimSpace(userInput) == "" {
		return Reply{}, ErrEmptyInput
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:    g.params.SystemPrompt,
		Messages:        []llm.Message{{Role: llm.RoleUser, Content: userInput}},
		Temperature:     g.params.Temperature,
		TopP:            g.params.TopP,
		TopK:            g.params.TopK,
		MaxTokens:       g.params.MaxTokens,
		SafetyThreshold: g.params.SafetyThreshold,
	})
	if err != nil {
		return Reply{}, &GenerationError{Provider: g.name, Err: err}
	}
	if resp == nil {
		return Reply{}, &GenerationError{Provider: g.name, Err: ErrEmptyCompletion}
	}
	if resp.Blocked {
		return Reply{}, &GenerationError{Provider: g.name, Err: fmt.Errorf("%w: %s", ErrBlocked, resp.BlockReason)}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return Reply{}, &GenerationError{Provider: g.name, Err: fmt.Errorf("%w (finish reason %q)", ErrEmptyCompletion, resp.FinishReason)}
	}
	return Reply{Text: text}, nil
}
