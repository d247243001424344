package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/jobvoice/internal/assistant"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s/gemini"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live"},
	"llm":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-direct"},
}

// Environment variables that override secrets in the file.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvLLMAPIKey    = "OPENAI_API_KEY"
	EnvGmailToken   = "GMAIL_ACCESS_TOKEN"
	EnvPostgresDSN  = "JOBVOICE_POSTGRES_DSN"
)

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr      = "127.0.0.1:8787"
	DefaultVoice           = "Kore"
	DefaultSpeechThreshold = 0.06
	DefaultGmailQuery      = "newer_than:7d (application OR interview OR offer)"
)

// Load reads the YAML configuration file at path, fills defaults and
// environment overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies [ApplyEnv] with the
// process environment and [ApplyDefaults], and validates the result. An
// empty document is a valid configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadWithEnv(r, os.LookupEnv)
}

// LoadWithEnv is [LoadFromReader] with a custom environment lookup.
func LoadWithEnv(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, lookup)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the process environment without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// ApplyEnv fills secrets from the environment. Non-empty variables win over
// values in the file.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Providers.Live.APIKey, EnvGeminiAPIKey)
	set(&cfg.Providers.LLM.APIKey, EnvLLMAPIKey)
	set(&cfg.Gmail.AccessToken, EnvGmailToken)
	set(&cfg.Store.PostgresDSN, EnvPostgresDSN)
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Assistant.Voice == "" {
		cfg.Assistant.Voice = DefaultVoice
	}
	if cfg.Assistant.ResponseStyle == "" {
		cfg.Assistant.ResponseStyle = string(s2s.StyleNormal)
	}
	if cfg.Assistant.SpeechThreshold == 0 {
		cfg.Assistant.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini-live"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = AudioPulse
	}
	if cfg.Gmail.Query == "" {
		cfg.Gmail.Query = DefaultGmailQuery
	}
	if cfg.Gmail.MaxResults == 0 {
		cfg.Gmail.MaxResults = 25
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Assistant
	if !gemini.ValidVoice(cfg.Assistant.Voice) {
		errs = append(errs, fmt.Errorf("assistant.voice %q is invalid; valid values: %s", cfg.Assistant.Voice, strings.Join(gemini.Voices, ", ")))
	}
	if _, err := s2s.ParseResponseStyle(cfg.Assistant.ResponseStyle); err != nil {
		errs = append(errs, fmt.Errorf("assistant.response_style %q is invalid; valid values: concise, normal, detailed", cfg.Assistant.ResponseStyle))
	}
	if t := cfg.Assistant.SpeechThreshold; t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("assistant.speech_threshold %.3f is out of range [0, 1)", t))
	}

	// Providers
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	for i, e := range append([]ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...) {
		if e.ContextWindow < 0 {
			errs = append(errs, fmt.Errorf("context_window %d of text model %d (%s) must not be negative", e.ContextWindow, i, e.Name))
		}
	}
	if cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; voice sessions will fail until " + EnvGeminiAPIKey + " is set")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; email reconciliation and typed commands without a session are unavailable")
	}

	// Store
	switch {
	case !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, file, badger, postgres", cfg.Store.Backend))
	case (cfg.Store.Backend == StoreFile || cfg.Store.Backend == StoreBadger) && cfg.Store.Path == "":
		errs = append(errs, fmt.Errorf("store.path is required when store.backend is %s", cfg.Store.Backend))
	case cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, fmt.Errorf("store.postgres_dsn (or %s) is required when store.backend is postgres", EnvPostgresDSN))
	}
	for i, f := range cfg.Store.ImportFiles {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("store.import_files[%d] is empty", i))
		}
	}

	// Audio
	if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: pulse, none", cfg.Audio.Backend))
	}
	if cfg.Audio.PlaybackLatencyMS < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_latency_ms %d must not be negative", cfg.Audio.PlaybackLatencyMS))
	}

	// Gmail
	if cfg.Gmail.MaxResults < 0 || cfg.Gmail.MaxResults > 500 {
		errs = append(errs, fmt.Errorf("gmail.max_results %d is out of range [1, 500]", cfg.Gmail.MaxResults))
	}

	// MCP
	if p := cfg.MCP.HTTPPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("mcp.http_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// AssistantSettings converts the assistant block into the settings a voice
// session is opened with.
func (c *Config) AssistantSettings() assistant.Settings {
	style, _ := s2s.ParseResponseStyle(c.Assistant.ResponseStyle)
	return assistant.Settings{
		Model:           c.Providers.Live.Model,
		Voice:           c.Assistant.Voice,
		Persona:         c.Assistant.Persona,
		Style:           style,
		SpeechThreshold: c.Assistant.SpeechThreshold,
	}
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
