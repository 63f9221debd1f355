// Package gemini implements the llm.Driver contract against Google's
// Gemini API via the genai SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

const defaultMaxOutputTokens = 8_192

// Driver implements llm.Driver using google.golang.org/genai.
type Driver struct {
	client      *genai.Client
	model       string
	httpOptions genai.HTTPOptions
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default Gemini API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Gemini-backed driver for model.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpOpts := genai.HTTPOptions{}
	if cfg.timeout > 0 {
		httpOpts.Timeout = &cfg.timeout
	}
	if cfg.baseURL != "" {
		httpOpts.BaseURL = strings.TrimSuffix(cfg.baseURL, "/") + "/"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPClient:  http.DefaultClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: init client: %w", err)
	}

	return &Driver{client: client, model: model, httpOptions: httpOpts}, nil
}

// Initialize implements llm.Driver.
func (d *Driver) Initialize(ctx context.Context, cred llm.Credential) error {
	if cred.APIKey == "" {
		return llm.NewDriverError(llm.ErrorKindAuthFailed, "gemini: missing api key", nil)
	}
	cfg := &genai.ClientConfig{APIKey: cred.APIKey, HTTPClient: http.DefaultClient, HTTPOptions: d.httpOptions}
	if cred.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimSuffix(cred.BaseURL, "/") + "/"
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return translateError(err)
	}
	d.client = client
	return nil
}

// ListModels synthesizes a fallback list of known Gemini chat models.
func (d *Driver) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	names := []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"}
	out := make([]llm.ModelInfo, 0, len(names))
	for _, n := range names {
		out = append(out, llm.ModelInfo{
			ID: n, DisplayName: n, InputLimit: 1_000_000, OutputLimit: defaultMaxOutputTokens,
			Capabilities: llm.ModelCapabilities{SupportsStreaming: true, SupportsVision: true},
		})
	}
	return out, nil
}

// DefaultParams implements llm.Driver.
func (d *Driver) DefaultParams() llm.ParamSet {
	return llm.ParamSet{"max_output_tokens": defaultMaxOutputTokens}
}

// ValidateModel implements llm.Driver.
func (d *Driver) ValidateModel(id string) bool { return id != "" }

// NormalizeMessages implements llm.Driver. Gemini has no system-role message
// type, so the leading system message is lifted into SystemInstruction.
func (d *Driver) NormalizeMessages(chain []types.Message, systemInstruction string) (any, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	contents, err := toContents(turns)
	if err != nil {
		return nil, err
	}
	return struct {
		Contents []*genai.Content
		System   string
	}{contents, lifted}, nil
}

// Generate implements llm.Driver.
func (d *Driver) Generate(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (*llm.GenerateResult, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	contents, err := toContents(turns)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "gemini: convert messages", err)
	}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, d.buildConfig(lifted, params))
	if err != nil {
		return nil, translateError(err)
	}

	text, err := textFromResponse(resp)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindServerError, "gemini: parse response", err)
	}

	var usage types.TokenUsage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &llm.GenerateResult{Text: text, Usage: usage}, nil
}

// GenerateStream implements llm.Driver.
func (d *Driver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (<-chan llm.StreamEvent, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	contents, err := toContents(turns)
	if err != nil {
		return nil, llm.NewDriverError(llm.ErrorKindBadRequest, "gemini: convert messages", err)
	}

	stream := d.client.Models.GenerateContentStream(ctx, d.model, contents, d.buildConfig(lifted, params))

	ch := make(chan llm.StreamEvent, 32)
	go func() {
		defer close(ch)

		var text strings.Builder
		var usage types.TokenUsage
		thinking := &strings.Builder{}
		for resp, err := range stream {
			if err != nil {
				select {
				case ch <- llm.StreamEvent{Kind: llm.StreamEventError, Err: translateError(err).(*llm.DriverError)}:
				case <-ctx.Done():
				}
				return
			}
			if thoughtText := thoughtFromResponse(resp); thoughtText != "" {
				thinking.WriteString(thoughtText)
				select {
				case ch <- llm.StreamEvent{Kind: llm.StreamEventThinking, ThinkingName: "thinking", ThinkingContent: thinking.String()}:
				case <-ctx.Done():
					return
				}
			}
			chunkText, thoughtErr := textFromResponse(resp)
			if thoughtErr == nil && chunkText != "" {
				text.WriteString(chunkText)
				select {
				case ch <- llm.StreamEvent{Kind: llm.StreamEventChunk, Text: chunkText}:
				case <-ctx.Done():
					return
				}
			}
			if resp.UsageMetadata != nil {
				usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}
		}

		select {
		case ch <- llm.StreamEvent{Kind: llm.StreamEventDone, TextTotal: text.String(), Usage: &usage}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// CountTokens approximates at ~4 characters per token; an exact count
// requires Gemini's CountTokens RPC, a second network round-trip this
// driver avoids for a value only used as a pre-send budget estimate.
func (d *Driver) CountTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

func (d *Driver) buildConfig(systemInstruction string, params llm.ParamSet) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{HTTPOptions: &d.httpOptions}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	limit := llm.ClampMaxOutputTokens(params, defaultMaxOutputTokens, "gemini")
	cfg.MaxOutputTokens = int32(limit)
	if v, ok := params["temperature"].(float64); ok {
		f := float32(v)
		cfg.Temperature = &f
	}
	if v, ok := params["top_p"].(float64); ok {
		f := float32(v)
		cfg.TopP = &f
	}
	if shouldIncludeThoughts(d.model) {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return cfg
}

func shouldIncludeThoughts(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "gemini-2.5") || strings.Contains(m, "gemini-3")
}

func toContents(turns []llm.NormalizedMessage) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role string
		switch t.Role {
		case types.RoleUser:
			role = genai.RoleUser
		case types.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, fmt.Errorf("gemini: unexpected role %q after normalization", t.Role)
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return contents, nil
}

// thoughtFromResponse extracts a response chunk's thought-summary parts,
// which genai.ThinkingConfig.IncludeThoughts surfaces as Parts marked
// Thought rather than through a dedicated field.
func thoughtFromResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	kind := llm.ErrorKindNetwork
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "PERMISSION_DENIED"), strings.Contains(msg, "UNAUTHENTICATED"):
		kind = llm.ErrorKindAuthFailed
	case strings.Contains(msg, "429"), strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		kind = llm.ErrorKindRateLimited
	case strings.Contains(msg, "400"), strings.Contains(msg, "INVALID_ARGUMENT"):
		kind = llm.ErrorKindBadRequest
	case strings.Contains(msg, "500"), strings.Contains(msg, "503"), strings.Contains(msg, "INTERNAL"):
		kind = llm.ErrorKindServerError
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		kind = llm.ErrorKindTimeout
	case strings.Contains(msg, "context canceled"):
		kind = llm.ErrorKindCancelled
	}
	return llm.NewDriverError(kind, "gemini: request failed", err)
}
