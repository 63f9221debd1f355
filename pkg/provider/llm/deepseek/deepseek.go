// Package deepseek implements the llm.Driver contract against DeepSeek's
// API, which is wire-compatible with OpenAI's Chat Completions endpoint.
// Rather than hand-rolling a DeepSeek client, this driver reuses the
// openai-go SDK pointed at DeepSeek's base URL and adds DeepSeek's
// reasoning_tokens usage field.
package deepseek

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/openai"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

const defaultBaseURL = "https://api.deepseek.com/v1"

// Driver implements llm.Driver by wrapping an openai.Driver configured for
// DeepSeek's endpoint, then adapting its usage reporting to surface
// reasoning_tokens (exposed by deepseek-reasoner).
type Driver struct {
	inner *openai.Driver
	raw   oai.Client
	model string
}

// New constructs a DeepSeek-backed driver for model (e.g. "deepseek-chat",
// "deepseek-reasoner").
func New(apiKey, model string) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek: apiKey must not be empty")
	}
	inner, err := openai.New(apiKey, model, openai.WithBaseURL(defaultBaseURL))
	if err != nil {
		return nil, err
	}
	return &Driver{
		inner: inner,
		raw:   oai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(defaultBaseURL)),
		model: model,
	}, nil
}

// Initialize implements llm.Driver.
func (d *Driver) Initialize(ctx context.Context, cred llm.Credential) error {
	baseURL := defaultBaseURL
	if cred.BaseURL != "" {
		baseURL = cred.BaseURL
	}
	d.raw = oai.NewClient(option.WithAPIKey(cred.APIKey), option.WithBaseURL(baseURL))
	return d.inner.Initialize(ctx, llm.Credential{APIKey: cred.APIKey, BaseURL: baseURL})
}

// ListModels implements llm.Driver.
func (d *Driver) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{
		{ID: "deepseek-chat", DisplayName: "DeepSeek Chat", InputLimit: 64_000, OutputLimit: 8_192,
			Capabilities: llm.ModelCapabilities{SupportsStreaming: true}},
		{ID: "deepseek-reasoner", DisplayName: "DeepSeek Reasoner", InputLimit: 64_000, OutputLimit: 64_000,
			Capabilities: llm.ModelCapabilities{SupportsStreaming: true}},
	}, nil
}

// DefaultParams implements llm.Driver.
func (d *Driver) DefaultParams() llm.ParamSet { return d.inner.DefaultParams() }

// ValidateModel implements llm.Driver.
func (d *Driver) ValidateModel(id string) bool {
	return id == "deepseek-chat" || id == "deepseek-reasoner"
}

// NormalizeMessages implements llm.Driver.
func (d *Driver) NormalizeMessages(chain []types.Message, systemInstruction string) (any, error) {
	return d.inner.NormalizeMessages(chain, systemInstruction)
}

// Generate implements llm.Driver. It calls the raw SDK directly (rather
// than delegating to the inner openai.Driver) so it can read
// CompletionTokensDetails.ReasoningTokens, which deepseek-reasoner sets and
// the shared GenerateResult has no slot for via the delegated path.
func (d *Driver) Generate(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (*llm.GenerateResult, error) {
	reqParams, err := d.inner.BuildChatParams(chain, systemInstruction, params)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "deepseek: build params", err)
	}

	resp, err := d.raw.Chat.Completions.New(ctx, reqParams)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindNetwork, "deepseek: request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewDriverError(llm.ErrorKindServerError, "deepseek: empty choices in response", nil)
	}

	return &llm.GenerateResult{
		Text:       resp.Choices[0].Message.Content,
		ResponseID: resp.ID,
		Usage: types.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			ReasoningTokens:  int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
		},
	}, nil
}

// GenerateStream implements llm.Driver by delegating to the shared OpenAI
// streaming path, whose StreamEventDone carries no usage (Usage is nil).
// Streamed DeepSeek replies therefore report no token counts, and
// reasoning_tokens is reported only by Generate.
func (d *Driver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (<-chan llm.StreamEvent, error) {
	return d.inner.GenerateStream(ctx, chain, systemInstruction, params)
}

// CountTokens implements llm.Driver.
func (d *Driver) CountTokens(messages []types.Message) int { return d.inner.CountTokens(messages) }
