// Package openai implements the llm.Driver contract against the OpenAI
// Chat Completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// Driver implements llm.Driver using the OpenAI API.
type Driver struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Used to point this
// driver at OpenAI-compatible endpoints (see the deepseek driver).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI-backed driver for model.
func New(apiKey, model string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Driver{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Initialize verifies the credential by retrieving the configured model.
// Callers that already constructed the driver with New(apiKey, ...) may
// skip calling this; cmd/cannonai always calls it so auth failures surface
// early.
func (d *Driver) Initialize(ctx context.Context, cred llm.Credential) error {
	if cred.APIKey == "" {
		return llm.NewDriverError(llm.ErrorKindAuthFailed, "openai: missing api key", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cred.APIKey)}
	if cred.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cred.BaseURL))
	}
	d.client = oai.NewClient(opts...)
	if _, err := d.client.Models.Get(ctx, d.model); err != nil {
		return translateError("openai", err)
	}
	return nil
}

// ListModels returns a fallback list of known chat models; the OpenAI
// models.list endpoint includes many non-chat models, so this driver
// synthesizes the list instead of filtering the remote response.
func (d *Driver) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	names := []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo", "o1", "o1-mini", "o3", "o3-mini"}
	models := make([]llm.ModelInfo, 0, len(names))
	for _, n := range names {
		caps := modelCapabilities(n)
		models = append(models, llm.ModelInfo{
			ID:          n,
			DisplayName: n,
			InputLimit:  caps.contextWindow,
			OutputLimit: caps.maxOutputTokens,
			Capabilities: llm.ModelCapabilities{
				SupportsStreaming: true,
				SupportsVision:    caps.supportsVision,
			},
		})
	}
	return models, nil
}

// DefaultParams implements llm.Driver.
func (d *Driver) DefaultParams() llm.ParamSet {
	return llm.ParamSet{"temperature": 1.0}
}

// ValidateModel implements llm.Driver.
func (d *Driver) ValidateModel(id string) bool {
	return id != ""
}

// NormalizeMessages implements llm.Driver. OpenAI keeps the system message
// as a regular leading message rather than a side channel.
func (d *Driver) NormalizeMessages(chain []types.Message, systemInstruction string) (any, error) {
	return d.BuildChatParams(chain, systemInstruction, llm.FilterParams(d.DefaultParams()))
}

// BuildChatParams normalizes chain and translates it, together with
// gparams, into OpenAI SDK request params. Exported so OpenAI-compatible
// drivers (deepseek) can reuse the exact same translation against their own
// raw client instead of duplicating it.
func (d *Driver) BuildChatParams(chain []types.Message, systemInstruction string, gparams llm.ParamSet) (oai.ChatCompletionNewParams, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	return d.buildParams(turns, lifted, gparams)
}

// Generate implements llm.Driver.
func (d *Driver) Generate(ctx context.Context, chain []types.Message, systemInstruction string, gparams llm.ParamSet) (*llm.GenerateResult, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	params, err := d.buildParams(turns, lifted, gparams)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "openai: build params", err)
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, translateError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewDriverError(llm.ErrorKindServerError, "openai: empty choices in response", nil)
	}

	choice := resp.Choices[0]
	return &llm.GenerateResult{
		Text:       choice.Message.Content,
		ResponseID: resp.ID,
		Usage: types.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// GenerateStream implements llm.Driver.
func (d *Driver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, gparams llm.ParamSet) (<-chan llm.StreamEvent, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	params, err := d.buildParams(turns, lifted, gparams)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "openai: build params", err)
	}

	stream := d.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, translateError("openai", err)
	}

	ch := make(chan llm.StreamEvent, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var text strings.Builder
		var respID string
		var usage *types.TokenUsage

		for stream.Next() {
			chunk := stream.Current()
			if chunk.ID != "" {
				respID = chunk.ID
			}
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				if delta.Content != "" {
					text.WriteString(delta.Content)
					select {
					case ch <- llm.StreamEvent{Kind: llm.StreamEventChunk, Text: delta.Content}:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.StreamEvent{Kind: llm.StreamEventError, Err: translateError("openai", err).(*llm.DriverError)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case ch <- llm.StreamEvent{Kind: llm.StreamEventDone, TextTotal: text.String(), Usage: usage, ResponseID: respID}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// CountTokens approximates token usage at ~4 characters per token plus a
// fixed per-message overhead; the OpenAI SDK does not expose a local
// tokenizer, and pulling in tiktoken is not worth a second dependency for an
// estimate only used for budget checks.
// TODO: swap for an exact count if openai-go ever exposes one.
func (d *Driver) CountTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

type capabilities struct {
	contextWindow   int
	maxOutputTokens int
	supportsVision  bool
}

func modelCapabilities(model string) capabilities {
	caps := capabilities{contextWindow: 128_000, maxOutputTokens: 4_096}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o-mini"), strings.HasPrefix(lower, "gpt-4o"):
		caps.maxOutputTokens = 16_384
		caps.supportsVision = true
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		caps.supportsVision = true
	case strings.HasPrefix(lower, "gpt-4"):
		caps.contextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.contextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		caps.contextWindow = 128_000
		caps.maxOutputTokens = 65_536
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps.contextWindow = 200_000
		caps.maxOutputTokens = 100_000
		caps.supportsVision = true
	}
	return caps
}

// buildParams converts a normalized turn list into OpenAI SDK params.
func (d *Driver) buildParams(turns []llm.NormalizedMessage, systemInstruction string, gparams llm.ParamSet) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if systemInstruction != "" {
		messages = append(messages, oai.SystemMessage(systemInstruction))
	}
	for _, t := range turns {
		msg, err := convertMessage(t)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(d.model),
		Messages: messages,
	}

	caps := modelCapabilities(d.model)
	limit := llm.ClampMaxOutputTokens(gparams, caps.maxOutputTokens, "openai")
	params.MaxCompletionTokens = param.NewOpt(int64(limit))

	if v, ok := gparams["temperature"].(float64); ok {
		params.Temperature = param.NewOpt(v)
	}
	if v, ok := gparams["top_p"].(float64); ok {
		params.TopP = param.NewOpt(v)
	}
	if v, ok := gparams["frequency_penalty"].(float64); ok {
		params.FrequencyPenalty = param.NewOpt(v)
	}
	if v, ok := gparams["presence_penalty"].(float64); ok {
		params.PresencePenalty = param.NewOpt(v)
	}
	if v, ok := gparams["seed"].(int64); ok {
		params.Seed = param.NewOpt(v)
	}

	return params, nil
}

func convertMessage(t llm.NormalizedMessage) (oai.ChatCompletionMessageParamUnion, error) {
	switch t.Role {
	case types.RoleSystem:
		return oai.SystemMessage(t.Content), nil
	case types.RoleUser:
		return oai.UserMessage(t.Content), nil
	case types.RoleAssistant:
		return oai.AssistantMessage(t.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", t.Role)
	}
}

// translateError maps an OpenAI SDK error into the driver error taxonomy.
func translateError(driver string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	kind := llm.ErrorKindNetwork
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key"):
		kind = llm.ErrorKindAuthFailed
	case strings.Contains(msg, "429"):
		kind = llm.ErrorKindRateLimited
	case strings.Contains(msg, "400"):
		kind = llm.ErrorKindBadRequest
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"):
		kind = llm.ErrorKindServerError
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		kind = llm.ErrorKindTimeout
	case strings.Contains(msg, "context canceled"):
		kind = llm.ErrorKindCancelled
	}
	return llm.NewDriverError(kind, driver+": request failed", err)
}
