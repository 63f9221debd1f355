// Package anthropic implements the llm.Driver contract against the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

const defaultMaxTokens int64 = 4096

// thinkingBudget is the minimum budget_tokens Anthropic accepts for extended
// thinking; max_tokens must exceed it.
const thinkingBudget int64 = 1024

// Driver implements llm.Driver using the Anthropic Messages API.
type Driver struct {
	sdk   anthropic.Client
	model string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an Anthropic-backed driver for model.
func New(apiKey, model string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := http.DefaultClient
	if cfg.timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.timeout}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimSuffix(cfg.baseURL, "/")))
	}

	return &Driver{sdk: anthropic.NewClient(reqOpts...), model: model}, nil
}

// Initialize implements llm.Driver.
func (d *Driver) Initialize(ctx context.Context, cred llm.Credential) error {
	if cred.APIKey == "" {
		return llm.NewDriverError(llm.ErrorKindAuthFailed, "anthropic: missing api key", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cred.APIKey)}
	if cred.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cred.BaseURL))
	}
	d.sdk = anthropic.NewClient(opts...)
	if _, err := d.sdk.Models.Get(ctx, d.model); err != nil {
		return translateError(err)
	}
	return nil
}

// ListModels synthesizes a fallback list; Anthropic's model listing endpoint
// does not reliably reflect every model this SDK version targets.
func (d *Driver) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	names := []string{
		string(anthropic.ModelClaude3_7SonnetLatest),
		string(anthropic.ModelClaudeOpus4_0),
		string(anthropic.ModelClaudeSonnet4_0),
		string(anthropic.ModelClaude3_5HaikuLatest),
	}
	out := make([]llm.ModelInfo, 0, len(names))
	for _, n := range names {
		out = append(out, llm.ModelInfo{
			ID: n, DisplayName: n, InputLimit: 200_000, OutputLimit: 8_192,
			Capabilities: llm.ModelCapabilities{SupportsStreaming: true, SupportsVision: true},
		})
	}
	return out, nil
}

// DefaultParams implements llm.Driver.
func (d *Driver) DefaultParams() llm.ParamSet {
	return llm.ParamSet{"max_output_tokens": int(defaultMaxTokens)}
}

// ValidateModel implements llm.Driver.
func (d *Driver) ValidateModel(id string) bool { return id != "" }

// NormalizeMessages implements llm.Driver. Anthropic requires the system
// prompt as a dedicated field rather than a leading message, so the leading
// system message is lifted out of the turn list.
func (d *Driver) NormalizeMessages(chain []types.Message, systemInstruction string) (any, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	return d.buildParams(turns, lifted, llm.FilterParams(d.DefaultParams()), false)
}

// Generate implements llm.Driver.
func (d *Driver) Generate(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (*llm.GenerateResult, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	mp, err := d.buildParams(turns, lifted, params, false)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "anthropic: build params", err)
	}

	resp, err := d.sdk.Messages.New(ctx, mp)
	if err != nil {
		return nil, translateError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	prompt := int(resp.Usage.InputTokens) + int(resp.Usage.CacheCreationInputTokens) + int(resp.Usage.CacheReadInputTokens)
	completion := int(resp.Usage.OutputTokens)
	return &llm.GenerateResult{
		Text:       text.String(),
		ResponseID: resp.ID,
		Usage: types.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// GenerateStream implements llm.Driver.
func (d *Driver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (<-chan llm.StreamEvent, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	mp, err := d.buildParams(turns, lifted, params, true)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "anthropic: build params", err)
	}

	stream := d.sdk.Messages.NewStreaming(ctx, mp)

	ch := make(chan llm.StreamEvent, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var text strings.Builder
		var respID string
		var usage types.TokenUsage
		thinking := map[int64]*strings.Builder{}

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				respID = ev.Message.ID
			case anthropic.ContentBlockStartEvent:
				if tblock, ok := ev.ContentBlock.AsAny().(anthropic.ThinkingBlock); ok && tblock.Thinking != "" {
					b := &strings.Builder{}
					b.WriteString(tblock.Thinking)
					thinking[ev.Index] = b
					select {
					case ch <- llm.StreamEvent{Kind: llm.StreamEventThinking, ThinkingName: "thinking", ThinkingContent: b.String()}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					text.WriteString(delta.Text)
					select {
					case ch <- llm.StreamEvent{Kind: llm.StreamEventChunk, Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking == "" {
						continue
					}
					b := thinking[ev.Index]
					if b == nil {
						b = &strings.Builder{}
						thinking[ev.Index] = b
					}
					b.WriteString(delta.Thinking)
					select {
					case ch <- llm.StreamEvent{Kind: llm.StreamEventThinking, ThinkingName: "thinking", ThinkingContent: b.String()}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.StreamEvent{Kind: llm.StreamEventError, Err: translateError(err).(*llm.DriverError)}:
			case <-ctx.Done():
			}
			return
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		select {
		case ch <- llm.StreamEvent{Kind: llm.StreamEventDone, TextTotal: text.String(), Usage: &usage, ResponseID: respID}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// CountTokens approximates at ~4 characters per token; Anthropic's
// SDK-side counter requires its own network round-trip per call, which is
// too costly for a budget pre-check made before every send.
func (d *Driver) CountTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

func (d *Driver) buildParams(turns []llm.NormalizedMessage, system string, params llm.ParamSet, streaming bool) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case types.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: unexpected role %q after normalization", t.Role)
		}
	}

	mp := anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		Messages:  messages,
		MaxTokens: int64(llm.ClampMaxOutputTokens(params, int(defaultMaxTokens), "anthropic")),
	}
	if system != "" {
		mp.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if v, ok := params["temperature"].(float64); ok {
		mp.Temperature = anthropic.Float(v)
	}
	if v, ok := params["top_p"].(float64); ok {
		mp.TopP = anthropic.Float(v)
	}
	if v, ok := params["top_k"].(int64); ok {
		mp.TopK = anthropic.Int(v)
	}
	if isExtendedThinkingModel(d.model) {
		mp.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudget)
		if mp.MaxTokens <= thinkingBudget {
			mp.MaxTokens = thinkingBudget + 1024
		}
	}
	return mp, nil
}

func isExtendedThinkingModel(model string) bool {
	return strings.Contains(model, "3-7-sonnet") || strings.Contains(model, "opus-4") || strings.Contains(model, "sonnet-4")
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	kind := llm.ErrorKindNetwork
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "authentication"):
		kind = llm.ErrorKindAuthFailed
	case strings.Contains(msg, "429"):
		kind = llm.ErrorKindRateLimited
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid_request"):
		kind = llm.ErrorKindBadRequest
	case strings.Contains(msg, "500"), strings.Contains(msg, "529"), strings.Contains(msg, "overloaded"):
		kind = llm.ErrorKindServerError
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		kind = llm.ErrorKindTimeout
	case strings.Contains(msg, "context canceled"):
		kind = llm.ErrorKindCancelled
	}
	return llm.NewDriverError(kind, "anthropic: request failed", err)
}
