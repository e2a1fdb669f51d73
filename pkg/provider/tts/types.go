package tts

import "strings"

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. When empty, providers that
	// support it resolve the voice by Name.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// String returns the voice name, falling back to the ID.
func (v VoiceProfile) String() string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}

// FindVoice returns the first voice in voices whose name matches name
// case-insensitively.
func FindVoice(voices []VoiceProfile, name string) (VoiceProfile, bool) {
	for _, v := range voices {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return VoiceProfile{}, false
}
