package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/CannonWest/CannonAI-sub001/internal/config"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/llmmock"
)

const sampleYAML = `
provider: openai
model: gpt-4o
credential: sk-test
use_streaming: true
conversations_dir: /var/lib/cannonai/conversations
default_system_instruction: "You are a helpful assistant."
log_level: debug
generation_params:
  temperature: 0.7
  max_tokens: 2048
providers:
  openai:
    credential: sk-oai-test
    model: gpt-4o-mini
  anthropic:
    credential: sk-ant-test
    base_url: https://api.anthropic.example
`

func TestLoadFromReader_FullSchema(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "openai" {
		t.Errorf("provider: expected %q, got %q", "openai", cfg.Provider)
	}
	if !cfg.UseStreaming {
		t.Error("expected use_streaming true")
	}
	if cfg.ConversationsDir != "/var/lib/cannonai/conversations" {
		t.Errorf("conversations_dir: unexpected value %q", cfg.ConversationsDir)
	}
	if cfg.LogLevel != config.LogLevelDebug {
		t.Errorf("log_level: expected %q, got %q", config.LogLevelDebug, cfg.LogLevel)
	}
	if got := cfg.GenerationParams["temperature"]; got != 0.7 {
		t.Errorf("generation_params.temperature: expected 0.7, got %v", got)
	}

	anthropic, ok := cfg.Providers["anthropic"]
	if !ok {
		t.Fatal("expected providers.anthropic entry")
	}
	if anthropic.Name != "anthropic" {
		t.Errorf("expected entry.Name populated from map key, got %q", anthropic.Name)
	}
	if anthropic.BaseURL != "https://api.anthropic.example" {
		t.Errorf("unexpected base_url %q", anthropic.BaseURL)
	}
}

func TestResolvedProvider_PrefersProvidersEntry(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := config.ResolvedProvider(cfg)
	if entry.Credential != "sk-oai-test" {
		t.Errorf("expected providers[openai].credential to win, got %q", entry.Credential)
	}
	if entry.Model != "gpt-4o-mini" {
		t.Errorf("expected providers[openai].model to win, got %q", entry.Model)
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &llmmock.Driver{}
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Driver, error) {
		if entry.Credential != "sk-test" {
			t.Errorf("expected credential passed through, got %q", entry.Credential)
		}
		return want, nil
	})

	got, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", Credential: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("expected the registered factory's driver to be returned")
	}
}

func TestRegistry_CreateLLM_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError}
	for _, lvl := range valid {
		if !lvl.IsValid() {
			t.Errorf("expected %q to be valid", lvl)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("expected \"trace\" to be invalid")
	}
}
