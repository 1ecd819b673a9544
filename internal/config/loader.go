package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"llm":  {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"live": {"gemini-live"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("live", cfg.Providers.Live.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; text concierge replies will use the fallback message")
	}
	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
	}
	if cfg.Providers.Live.Name == "" {
		slog.Warn("providers.live is not configured; voice concierge will fall back to text")
	}

	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Backend))
	case cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	case cfg.Store.Backend == StoreSQLite && cfg.Store.Path == "":
		errs = append(errs, errors.New("store.path is required when store.backend is sqlite"))
	}

	if cfg.Admin.Password == "" {
		slog.Warn("admin.password is empty; the admin surface is disabled")
	}

	cc := cfg.Concierge
	if cc.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("concierge.frame_size %d must be positive", cc.FrameSize))
	}
	if cc.InputSampleRate < 0 || cc.OutputSampleRate < 0 {
		errs = append(errs, errors.New("concierge sample rates must be positive"))
	}
	if cfg.Advisor.MaxConversations < 0 {
		errs = append(errs, fmt.Errorf("advisor.max_conversations %d must not be negative", cfg.Advisor.MaxConversations))
	}
	if cfg.Advisor.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("advisor.idle_timeout %s must not be negative", cfg.Advisor.IdleTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
