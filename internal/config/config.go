// Package config provides the configuration schema, loader, and provider
// registry for the conversational gateway.
package config

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	// Provider selects the default driver to instantiate, looked up by name
	// in [Registry] (and, when set, in Providers below).
	Provider string `yaml:"provider"`

	// Model is the default model identifier passed to the provider.
	Model string `yaml:"model"`

	// Credential is the default provider's API credential. Ignored if
	// Providers contains an entry for Provider; that entry's Credential
	// wins instead.
	Credential string `yaml:"credential"`

	// GenerationParams holds the default canonical generation parameters
	// (temperature, top_p, max_output_tokens, …). They become the session's
	// params and reach the driver as-is; they are not merged with the
	// driver's DefaultParams.
	GenerationParams map[string]any `yaml:"generation_params"`

	// UseStreaming is the default streaming preference for new sessions.
	UseStreaming bool `yaml:"use_streaming"`

	// ConversationsDir is the filesystem directory the store reads from and
	// writes to.
	ConversationsDir string `yaml:"conversations_dir"`

	// DefaultSystemInstruction seeds new conversations' system prompt.
	DefaultSystemInstruction string `yaml:"default_system_instruction"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// HealthAddr, if non-empty, is the address (e.g. ":8080") an HTTP
	// server exposing /healthz and /readyz is bound to at startup. Left
	// empty, no health server is started.
	HealthAddr string `yaml:"health_addr"`

	// Providers holds per-provider credentials and overrides, keyed by
	// provider name, so an operator can pre-configure more than one driver
	// and switch between them at runtime through the session layer without
	// editing the config file again.
	Providers map[string]ProviderEntry `yaml:"providers"`
}

// LogLevel is the accepted set of logger verbosity values.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the accepted log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// ProviderEntry is one entry of the providers block: the credential and
// endpoint override for a single named driver. Name is filled in by the
// loader from the entry's map key, not read from YAML.
type ProviderEntry struct {
	Name string `yaml:"-"`

	// Credential is the authentication token for this provider's API.
	Credential string `yaml:"credential"`

	// BaseURL overrides the provider's default API endpoint. Leave empty
	// to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model overrides Config.Model for this provider specifically.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}
