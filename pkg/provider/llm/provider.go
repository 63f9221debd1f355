// Package llm defines the Provider Driver contract: a uniform interface over
// heterogeneous LLM provider SDKs with per-provider message normalization,
// parameter mapping, token accounting, and streaming.
//
// Implementors must be safe for concurrent use. Channels returned by
// GenerateStream must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// Credential bundles what a driver needs to authenticate against its remote
// API. BaseURL is optional and overrides the driver's default endpoint
// (used for OpenAI-compatible third parties such as DeepSeek).
type Credential struct {
	APIKey  string
	BaseURL string
}

// GenerateResult is the non-streaming return from Driver.Generate.
type GenerateResult struct {
	Text       string
	Usage      types.TokenUsage
	ResponseID string
}

// StreamEventKind is the tag of the StreamEvent union.
type StreamEventKind int

const (
	StreamEventChunk StreamEventKind = iota
	StreamEventUsage
	StreamEventThinking
	StreamEventDone
	StreamEventError
)

// StreamEvent is one element of the ordered sequence a streaming Generate
// call emits: Chunk and ThinkingStep events in the order the provider
// produces them, an optional Usage event, then one Done or Error. A driver
// must never emit a Chunk after a Done or Error event.
type StreamEvent struct {
	Kind StreamEventKind

	// Text carries the incremental delta for StreamEventChunk.
	Text string

	// ThinkingName/ThinkingContent carry extended-thinking/thought-summary
	// content for StreamEventThinking, when the underlying model exposes it.
	ThinkingName    string
	ThinkingContent string

	// Usage carries token accounting for StreamEventUsage and StreamEventDone.
	Usage *types.TokenUsage

	// TextTotal and ResponseID are populated on StreamEventDone.
	TextTotal  string
	ResponseID string

	// Err is populated on StreamEventError.
	Err *DriverError
}

// Driver is the contract every provider implementation satisfies. A single
// Driver value is bound to one model at construction time; switching models
// constructs a new Driver through the registry.
type Driver interface {
	// Initialize authenticates against the remote API. Implementations
	// return a DriverError with Kind AuthFailed, Network, or ConfigInvalid
	// on failure.
	Initialize(ctx context.Context, cred Credential) error

	// ListModels returns the models this driver can serve. When the remote
	// listing call fails, implementations MAY synthesize a fallback list
	// instead of failing; the observed error is logged, not surfaced.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// DefaultParams returns this driver's default generation parameters.
	DefaultParams() ParamSet

	// ValidateModel reports whether id names a model this driver can serve.
	ValidateModel(id string) bool

	// NormalizeMessages applies the universal normalization rules (role
	// alias collapse, system-message lifting, empty-message drop,
	// attachment synthesis) and returns the provider-native payload that
	// Generate/GenerateStream would send for this chain. Exposed so callers
	// can inspect or log the wire-level request without issuing it.
	NormalizeMessages(chain []types.Message, systemInstruction string) (any, error)

	// Generate issues a single non-streaming call and waits for the full
	// response.
	Generate(ctx context.Context, chain []types.Message, systemInstruction string, params ParamSet) (*GenerateResult, error)

	// GenerateStream issues a streaming call. The returned channel is
	// closed by the implementation after emitting exactly one terminal
	// event (StreamEventDone or StreamEventError), or immediately if ctx is
	// already cancelled.
	GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, params ParamSet) (<-chan StreamEvent, error)
}
