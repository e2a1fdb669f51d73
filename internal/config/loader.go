package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "coqui"},
}

// keylessLLMs run locally and need no API key.
var keylessLLMs = []string{"ollama", "llamacpp", "llamafile"}

// wavTTS names local TTS servers that deliver wav and are addressed by
// base_url instead of an API key.
var wavTTS = []string{"coqui"}

// Load reads the YAML configuration file at path on top of [Default], applies
// the environment overlay from getenv and validates the result. An empty path
// skips the file. getenv may be nil to skip the overlay.
func Load(path string, getenv func(string) string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""), getenv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment
// overlay and validates the result. An empty document yields [Default].
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader, getenv func(string) string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if getenv != nil {
		ApplyEnv(cfg, getenv)
	}
	dropForeignVoice(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dropForeignVoice clears the built-in ElevenLabs voice fields that were
// left at their default when another TTS provider is selected.
func dropForeignVoice(cfg *Config) {
	if cfg.Providers.TTS.Name == "elevenlabs" {
		return
	}
	if cfg.Speech.VoiceID == ElevenLabsVoiceID {
		cfg.Speech.VoiceID = ""
	}
	if cfg.Speech.VoiceName == ElevenLabsVoiceName {
		cfg.Speech.VoiceName = ""
	}
}

// LoadDotEnv loads KEY=value pairs from the file at path into the process
// environment. Variables that are already set keep their value. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment settings on cfg. Only non-empty variables
// are applied; they take precedence over the YAML file.
//
//	PORT                 server.listen_addr (":" + PORT)
//	API_KEY              providers.llm.api_key
//	GEMINI_API_KEY       providers.llm.api_key when API_KEY is unset
//	ELEVENLABS_API_KEY   providers.tts.api_key
//	CORS_ORIGIN          server.cors_origin
//	LOG_LEVEL            server.log_level
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		cfg.Server.ListenAddr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := getenv("API_KEY"); v != "" {
		cfg.Providers.LLM.APIKey = v
	} else if v := getenv("GEMINI_API_KEY"); v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v := getenv("ELEVENLABS_API_KEY"); v != "" {
		cfg.Providers.TTS.APIKey = v
	}
	if v := getenv("CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	switch {
	case cfg.Server.CORSOrigin == "":
		errs = append(errs, errors.New("server.cors_origin must not be empty"))
	case strings.Contains(cfg.Server.CORSOrigin, "*"):
		errs = append(errs, fmt.Errorf("server.cors_origin %q: wildcards cannot be combined with credentials", cfg.Server.CORSOrigin))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else if cfg.Providers.LLM.APIKey == "" && !slices.Contains(keylessLLMs, cfg.Providers.LLM.Name) {
		errs = append(errs, fmt.Errorf("providers.llm.api_key is required for %q (set API_KEY)", cfg.Providers.LLM.Name))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	} else if slices.Contains(wavTTS, cfg.Providers.TTS.Name) {
		if cfg.Providers.TTS.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.tts.base_url is required for %q", cfg.Providers.TTS.Name))
		}
		if cfg.Speech.Encoding != string(audio.EncodingWAV) {
			errs = append(errs, fmt.Errorf("speech.encoding must be wav for %q, got %q", cfg.Providers.TTS.Name, cfg.Speech.Encoding))
		}
	} else if cfg.Providers.TTS.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.tts.api_key is required for %q (set ELEVENLABS_API_KEY)", cfg.Providers.TTS.Name))
	}

	// Dialogue
	d := cfg.Dialogue
	if d.Temperature < 0 || d.Temperature > 2 {
		errs = append(errs, fmt.Errorf("dialogue.temperature %v out of range [0, 2]", d.Temperature))
	}
	if d.TopP < 0 || d.TopP > 1 {
		errs = append(errs, fmt.Errorf("dialogue.top_p %v out of range [0, 1]", d.TopP))
	}
	if d.TopK < 0 {
		errs = append(errs, fmt.Errorf("dialogue.top_k must not be negative, got %d", d.TopK))
	}
	if d.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_output_tokens must be positive, got %d", d.MaxOutputTokens))
	}
	if !llm.ValidSafetyThreshold(d.SafetyThreshold) {
		errs = append(errs, fmt.Errorf("dialogue.safety_threshold %q is invalid", d.SafetyThreshold))
	}

	// Speech
	localTTS := slices.Contains(wavTTS, cfg.Providers.TTS.Name)
	switch {
	case localTTS && cfg.Providers.TTS.OptString("api_mode") == "xtts":
		if cfg.Speech.VoiceID == "" {
			errs = append(errs, errors.New("speech.voice_id is required for xtts (the studio speaker name)"))
		}
	case localTTS:
		// Standard Coqui servers fall back to the model's only speaker.
	case cfg.Speech.VoiceID == "" && cfg.Speech.VoiceName == "":
		errs = append(errs, errors.New("speech needs voice_id or voice_name"))
	}
	if !audio.Encoding(cfg.Speech.Encoding).IsValid() {
		errs = append(errs, fmt.Errorf("speech.encoding %q is invalid; valid values: mp3, wav", cfg.Speech.Encoding))
	}
	if cfg.Speech.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("speech.max_bytes must be positive, got %d", cfg.Speech.MaxBytes))
	}

	// Tools
	if _, err := cfg.Tools.FFmpegCommand(); err != nil {
		errs = append(errs, fmt.Errorf("tools.ffmpeg: %w", err))
	}
	if _, err := cfg.Tools.RhubarbCommand(); err != nil {
		errs = append(errs, fmt.Errorf("tools.rhubarb: %w", err))
	}
	if cfg.Tools.Recognizer == "" {
		errs = append(errs, errors.New("tools.recognizer must not be empty"))
	}
	if cfg.Tools.MaxProcs < 0 {
		errs = append(errs, fmt.Errorf("tools.max_procs must not be negative, got %d", cfg.Tools.MaxProcs))
	}

	// Pipeline
	st := cfg.Pipeline.StageTimeouts
	for _, stage := range []struct {
		name string
		d    time.Duration
	}{
		{"generate", st.Generate},
		{"synthesize", st.Synthesize},
		{"convert", st.Convert},
		{"extract", st.Extract},
	} {
		if stage.d <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.stage_timeouts.%s must be positive", stage.name))
		}
	}

	// Resilience
	if r := cfg.Resilience; !r.Disabled {
		if r.MaxFailures < 0 || r.HalfOpenMax < 0 || r.ResetTimeout < 0 {
			errs = append(errs, errors.New("resilience values must not be negative"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
