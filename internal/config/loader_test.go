package config_test

import (
	"strings"
	"testing"

	"github.com/CannonWest/CannonAI-sub001/internal/config"
)

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()
	yaml := `
provider: openai
model: gpt-4o
credential: sk-test
conversations_dir: /tmp/conversations
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("expected provider %q, got %q", "openai", cfg.Provider)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected model %q, got %q", "gpt-4o", cfg.Model)
	}
}

func TestLoadFromReader_MissingProvider(t *testing.T) {
	t.Parallel()
	yaml := `
conversations_dir: /tmp/conversations
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing provider, got nil")
	}
	if !strings.Contains(err.Error(), "provider is required") {
		t.Errorf("error should mention provider is required, got: %v", err)
	}
}

func TestLoadFromReader_MissingConversationsDir(t *testing.T) {
	t.Parallel()
	yaml := `
provider: openai
credential: sk-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing conversations_dir, got nil")
	}
	if !strings.Contains(err.Error(), "conversations_dir is required") {
		t.Errorf("error should mention conversations_dir, got: %v", err)
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
provider: openai
credential: sk-test
conversations_dir: /tmp/conversations
log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestLoadFromReader_ProviderWithoutCredentialOrEntry(t *testing.T) {
	t.Parallel()
	yaml := `
provider: anthropic
conversations_dir: /tmp/conversations
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for provider with no credential, got nil")
	}
	if !strings.Contains(err.Error(), "no providers") {
		t.Errorf("error should mention missing providers entry, got: %v", err)
	}
}

func TestLoadFromReader_ProvidersBlockSatisfiesCredentialRequirement(t *testing.T) {
	t.Parallel()
	yaml := `
provider: anthropic
conversations_dir: /tmp/conversations
providers:
  anthropic:
    credential: sk-ant-test
    model: claude-3-5-sonnet
  openai:
    credential: sk-oai-test
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := config.ResolvedProvider(cfg)
	if entry.Credential != "sk-ant-test" {
		t.Errorf("expected credential %q, got %q", "sk-ant-test", entry.Credential)
	}
	if entry.Name != "anthropic" {
		t.Errorf("expected name %q, got %q", "anthropic", entry.Name)
	}
}

func TestLoadFromReader_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	yaml := `
provider: openai
credential: sk-test
conversations_dir: /tmp/conversations
bogus_field: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level key, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	found := false
	for _, n := range config.ValidProviderNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames should contain \"openai\"")
	}
}

func TestResolvedProvider_FallsBackToTopLevelFields(t *testing.T) {
	t.Parallel()
	yaml := `
provider: deepseek
model: deepseek-chat
credential: sk-ds-test
conversations_dir: /tmp/conversations
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := config.ResolvedProvider(cfg)
	if entry.Credential != "sk-ds-test" || entry.Model != "deepseek-chat" {
		t.Errorf("expected synthesised entry from top-level fields, got %+v", entry)
	}
}
