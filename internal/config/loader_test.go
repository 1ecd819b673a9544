package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/apex/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["*.apex.example", "localhost:5173"]
providers:
  llm:
    name: gemini
    api_key: key
    model: gemini-3-flash-preview
  llm_fallback:
    name: openai
    model: gpt-4o-mini
  live:
    name: gemini-live
    api_key: key
    options:
      voice: Puck
store:
  backend: sqlite
  path: /tmp/apex.db
admin:
  password: secret
concierge:
  frame_size: 2048
advisor:
  max_conversations: 10
  idle_timeout: 5m
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if got := cfg.Server.AllowedOrigins; len(got) != 2 || got[0] != "*.apex.example" || got[1] != "localhost:5173" {
		t.Errorf("allowed_origins = %v", got)
	}
	if cfg.Providers.LLMFallback.Name != "openai" {
		t.Errorf("llm_fallback.name = %q", cfg.Providers.LLMFallback.Name)
	}
	if got := cfg.Providers.Live.Option("voice", "Zephyr"); got != "Puck" {
		t.Errorf("live voice = %q, want Puck", got)
	}
	if cfg.Store.Backend != config.StoreSQLite || cfg.Store.Path != "/tmp/apex.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Concierge.FrameSize != 2048 {
		t.Errorf("frame_size = %d, want 2048", cfg.Concierge.FrameSize)
	}
	if cfg.Advisor.IdleTimeout != 5*time.Minute || cfg.Advisor.MaxConversations != 10 {
		t.Errorf("advisor = %+v", cfg.Advisor)
	}
	// Unset copy gets the defaults.
	if cfg.Concierge.FallbackMessage != config.DefaultFallbackMessage {
		t.Errorf("fallback message = %q", cfg.Concierge.FallbackMessage)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Store.Backend != config.StoreMemory {
		t.Errorf("store.backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Concierge.FrameSize != 4096 || cfg.Concierge.InputSampleRate != 16000 || cfg.Concierge.OutputSampleRate != 24000 {
		t.Errorf("concierge audio = %+v", cfg.Concierge)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"bad backend", "store:\n  backend: redis\n", "store.backend"},
		{"postgres without dsn", "store:\n  backend: postgres\n", "postgres_dsn"},
		{"half tls", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"fallback without primary", "providers:\n  llm_fallback:\n    name: openai\n", "llm_fallback"},
		{"negative frame size", "concierge:\n  frame_size: -1\n", "frame_size"},
		{"negative idle timeout", "advisor:\n  idle_timeout: -1s\n", "idle_timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nstore:\n  backend: redis\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "store.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apex.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Admin.Password != "secret" {
		t.Errorf("admin.password = %q", cfg.Admin.Password)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Store.Backend != config.StoreSQLite {
		t.Errorf("store backend = %q, want sqlite", cfg.Store.Backend)
	}
	if got := cfg.Providers.Live.Option("voice", ""); got != "Zephyr" {
		t.Errorf("live voice = %q, want Zephyr", got)
	}
	if cfg.Advisor.IdleTimeout != 30*time.Minute {
		t.Errorf("idle_timeout = %v, want 30m", cfg.Advisor.IdleTimeout)
	}
}
