package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/apex/internal/config"
	"github.com/MrWong99/apex/pkg/provider/live"
	livemock "github.com/MrWong99/apex/pkg/provider/live/mock"
	"github.com/MrWong99/apex/pkg/provider/llm"
	llmmock "github.com/MrWong99/apex/pkg/provider/llm/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestProviderEntry_Option(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"voice": "Kore", "rate": 3}}
	if got := e.Option("voice", "Zephyr"); got != "Kore" {
		t.Errorf("voice = %q", got)
	}
	if got := e.Option("rate", "x"); got != "x" {
		t.Errorf("non-string option = %q, want default", got)
	}
	if got := (config.ProviderEntry{}).Option("voice", "Zephyr"); got != "Zephyr" {
		t.Errorf("nil options = %q, want default", got)
	}
}

func TestApplyDefaults_KeepsSetValues(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Concierge: config.ConciergeConfig{Greeting: "Hi."},
		Store:     config.StoreConfig{Backend: config.StoreSQLite},
	}
	cfg.ApplyDefaults()
	if cfg.Concierge.Greeting != "Hi." {
		t.Errorf("greeting overwritten: %q", cfg.Concierge.Greeting)
	}
	if cfg.Store.Path != "apex.db" {
		t.Errorf("sqlite path = %q, want apex.db", cfg.Store.Path)
	}
	if cfg.Concierge.VoiceUnavailableMessage != config.DefaultVoiceUnavailableMessage {
		t.Errorf("voice unavailable message = %q", cfg.Concierge.VoiceUnavailableMessage)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	textMock := &llmmock.Provider{}
	liveMock := &livemock.Provider{}

	r.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		if e.Model != "m1" {
			t.Errorf("entry model = %q", e.Model)
		}
		return textMock, nil
	})
	r.RegisterLive("fake-live", func(config.ProviderEntry) (live.Provider, error) { return liveMock, nil })

	p, err := r.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m1"})
	if err != nil || p != textMock {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	lp, err := r.CreateLive(config.ProviderEntry{Name: "fake-live"})
	if err != nil || lp != liveMock {
		t.Fatalf("CreateLive = %v, %v", lp, err)
	}

	if _, err := r.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM unknown: err = %v", err)
	}
	if _, err := r.CreateLive(config.ProviderEntry{Name: "fake"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive unknown: err = %v", err)
	}

	// The mock satisfies the session contract end to end.
	if _, err := lp.Connect(context.Background(), live.Config{}, live.Handler{}); err != nil {
		t.Errorf("mock Connect: %v", err)
	}
}
