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

// ValidProviderNames lists the driver names shipped in this module. Used by
// [Validate] to warn about unrecognised provider names; not enforced, since
// an operator may register additional drivers of their own at runtime.
var ValidProviderNames = []string{"openai", "anthropic", "gemini", "deepseek", "anyllm"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	for name, entry := range cfg.Providers {
		entry.Name = name
		cfg.Providers[name] = entry
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Provider == "" {
		errs = append(errs, fmt.Errorf("provider is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider) {
		slog.Warn("unknown provider name — may be a typo or a provider registered by the caller",
			"provider", cfg.Provider, "known", ValidProviderNames)
	}

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.ConversationsDir == "" {
		errs = append(errs, fmt.Errorf("conversations_dir is required"))
	}

	if _, ok := cfg.Providers[cfg.Provider]; cfg.Provider != "" && !ok && cfg.Credential == "" {
		errs = append(errs, fmt.Errorf("provider %q has no providers[%q] entry and no top-level credential", cfg.Provider, cfg.Provider))
	}

	for name, entry := range cfg.Providers {
		if entry.Credential == "" {
			slog.Warn("providers entry has no credential configured", "provider", name)
		}
	}

	return errors.Join(errs...)
}

// ResolvedProvider returns the ProviderEntry to use for cfg.Provider: the
// matching entry from Providers if present, otherwise one synthesised from
// the top-level Model/Credential fields.
func ResolvedProvider(cfg *Config) ProviderEntry {
	if entry, ok := cfg.Providers[cfg.Provider]; ok {
		if entry.Model == "" {
			entry.Model = cfg.Model
		}
		return entry
	}
	return ProviderEntry{Name: cfg.Provider, Credential: cfg.Credential, Model: cfg.Model}
}
