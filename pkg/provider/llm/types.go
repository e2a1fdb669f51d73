package llm

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsTopK indicates the backend honours CompletionRequest.TopK.
	SupportsTopK bool

	// SupportsSafetySettings indicates the backend honours
	// CompletionRequest.SafetyThreshold.
	SupportsSafetySettings bool
}

// Safety block thresholds accepted in CompletionRequest.SafetyThreshold. The
// values follow the Gemini API naming.
const (
	SafetyBlockNone           = "BLOCK_NONE"
	SafetyBlockOnlyHigh       = "BLOCK_ONLY_HIGH"
	SafetyBlockMediumAndAbove = "BLOCK_MEDIUM_AND_ABOVE"
	SafetyBlockLowAndAbove    = "BLOCK_LOW_AND_ABOVE"
)

// ValidSafetyThreshold reports whether s is empty or one of the Safety*
// constants.
func ValidSafetyThreshold(s string) bool {
	switch s {
	case "", SafetyBlockNone, SafetyBlockOnlyHigh, SafetyBlockMediumAndAbove, SafetyBlockLowAndAbove:
		return true
	}
	return false
}
