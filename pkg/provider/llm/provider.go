// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., Google Gemini, OpenAI,
// or a local Ollama instance) and exposes a uniform interface for the dialogue
// generator to request a completion and inspect model capabilities without
// coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
)

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and system
	// prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a convenience;
	// some providers return it directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. For a single-turn exchange this is
	// one "user" message.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero means
	// use the provider default.
	Temperature float64

	// TopP is the nucleus sampling probability mass. Zero means use the provider
	// default.
	TopP float64

	// TopK limits sampling to the K most likely tokens. Zero means use the
	// provider default. Ignored by backends without SupportsTopK.
	TopK int

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default (usually the model's MaxOutputTokens).
	MaxTokens int

	// SafetyThreshold is the harassment block threshold, one of the Safety*
	// constants. Empty means use the provider default. Ignored by backends
	// without SupportsSafetySettings.
	SafetyThreshold string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason is the backend's reason for stopping generation
	// (e.g. "stop", "length", "SAFETY").
	FinishReason string

	// Blocked is true when the backend refused the prompt or withheld the
	// answer because of a content policy.
	Blocked bool

	// BlockReason is the backend's explanation when Blocked is true.
	BlockReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Complete must return promptly once ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives. A content-policy refusal is not an error; it is
	// reported through CompletionResponse.Blocked.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what this provider's underlying
	// model supports. The result is assumed to be constant for the lifetime of the
	// Provider instance.
	Capabilities() ModelCapabilities
}
