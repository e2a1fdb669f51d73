// Package config provides the configuration schema, loader, and provider registry
// for the talkback chat service.
package config

import (
	"time"

	"github.com/MrWong99/talkback/internal/procexec"
)

// LogLevel controls log verbosity for the talkback server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for talkback.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Speech     SpeechConfig     `yaml:"speech"`
	Tools      ToolsConfig      `yaml:"tools"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3001").
	// The PORT environment variable overrides it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigin is the single browser origin allowed to call the API with
	// credentials. Wildcards are rejected.
	CORSOrigin string `yaml:"cors_origin"`

	// MaxBodyBytes caps the size of a /chat request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation serves each upstream
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-1.5-pro").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DialogueConfig holds the persona and sampling parameters sent with every
// completion.
type DialogueConfig struct {
	Persona         string  `yaml:"persona"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	// SafetyThreshold is the harassment block threshold, one of BLOCK_NONE,
	// BLOCK_ONLY_HIGH, BLOCK_MEDIUM_AND_ABOVE or BLOCK_LOW_AND_ABOVE.
	SafetyThreshold string `yaml:"safety_threshold"`
}

// The default voice is ElevenLabs' premade "Bill". It only means something to
// ElevenLabs and is dropped when another TTS provider is configured.
const (
	ElevenLabsVoiceID   = "pqHfZKP75CvOlQylNhV4"
	ElevenLabsVoiceName = "Bill"
)

// SpeechConfig selects the synthesis voice and output encoding.
type SpeechConfig struct {
	// VoiceID is the provider voice identifier. When empty, VoiceName is
	// resolved through the provider's voice list.
	VoiceID   string `yaml:"voice_id"`
	VoiceName string `yaml:"voice_name"`

	// Encoding is the container the provider delivers: mp3 or wav.
	Encoding string `yaml:"encoding"`

	// MaxBytes caps the size of one synthesized clip.
	MaxBytes int64 `yaml:"max_bytes"`
}

// ToolsConfig names the external binaries used for conversion and lip-sync
// extraction. Command lines are split into argv, never run through a shell.
type ToolsConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	Rhubarb string `yaml:"rhubarb"`

	// Recognizer is passed to rhubarb's -r flag (pocketSphinx or phonetic).
	Recognizer string `yaml:"recognizer"`

	// MaxProcs caps concurrently running child processes. Zero means no cap.
	MaxProcs int `yaml:"max_procs"`
}

// FFmpegCommand parses the ffmpeg command line.
func (t ToolsConfig) FFmpegCommand() (procexec.Command, error) {
	return procexec.ParseCommand(t.FFmpeg)
}

// RhubarbCommand parses the rhubarb command line.
func (t ToolsConfig) RhubarbCommand() (procexec.Command, error) {
	return procexec.ParseCommand(t.Rhubarb)
}

// PipelineConfig controls the chat pipeline.
type PipelineConfig struct {
	// WorkspaceRoot is the directory under which per-request working
	// directories are created. Empty means a talkback folder in the OS temp dir.
	WorkspaceRoot string `yaml:"workspace_root"`

	StageTimeouts StageTimeouts `yaml:"stage_timeouts"`
}

// StageTimeouts bound each pipeline stage individually.
type StageTimeouts struct {
	Generate   time.Duration `yaml:"generate"`
	Synthesize time.Duration `yaml:"synthesize"`
	Convert    time.Duration `yaml:"convert"`
	Extract    time.Duration `yaml:"extract"`
}

// ResilienceConfig tunes the circuit breakers around the upstream providers.
type ResilienceConfig struct {
	// Disabled turns the breakers off entirely.
	Disabled bool `yaml:"disabled"`

	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// Default returns a configuration populated with the stock settings. Decoded
// YAML and the environment overlay are applied on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":3001",
			LogLevel:        LogInfo,
			CORSOrigin:      "http://localhost:5173",
			MaxBodyBytes:    64 << 10,
			ShutdownTimeout: 15 * time.Second,
		},
		Providers: ProvidersConfig{
			LLM: ProviderEntry{Name: "gemini", Model: "gemini-1.5-pro"},
			TTS: ProviderEntry{Name: "elevenlabs", Model: "eleven_turbo_v2_5"},
		},
		Dialogue: DialogueConfig{
			Persona:         "You are Shahad, everybody's friend. Conversation and response should be like talking to a real friend and it should be casual",
			Temperature:     2,
			TopP:            0.95,
			TopK:            64,
			MaxOutputTokens: 8192,
			SafetyThreshold: "BLOCK_MEDIUM_AND_ABOVE",
		},
		Speech: SpeechConfig{
			VoiceID:   ElevenLabsVoiceID,
			VoiceName: ElevenLabsVoiceName,
			Encoding:  "mp3",
			MaxBytes:  32 << 20,
		},
		Tools: ToolsConfig{
			FFmpeg:     "ffmpeg",
			Rhubarb:    "rhubarb",
			Recognizer: "phonetic",
		},
		Pipeline: PipelineConfig{
			StageTimeouts: StageTimeouts{
				Generate:   60 * time.Second,
				Synthesize: 60 * time.Second,
				Convert:    30 * time.Second,
				Extract:    60 * time.Second,
			},
		},
		Resilience: ResilienceConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
}
