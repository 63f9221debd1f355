// Package anyllm implements the llm.Driver contract on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// covers OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq,
// llama.cpp and llamafile through one wire-level code path. This is the
// driver operators reach for when they want a backend that does not have a
// dedicated package of its own — the "…" after the four named providers in
// the contract.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// Driver implements llm.Driver by wrapping github.com/mozilla-ai/any-llm-go.
type Driver struct {
	backend      anyllmlib.Provider
	providerName string
	model        string
}

// New creates a Driver backed by the given any-llm-go provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// If no API key option is provided, the backend falls back to the relevant
// environment variable (e.g. OPENAI_API_KEY).
func New(providerName, model string, opts ...anyllmlib.Option) (*Driver, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Driver{backend: backend, providerName: strings.ToLower(providerName), model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Initialize implements llm.Driver. any-llm-go backends authenticate at
// construction time via options or environment variables, so Initialize
// only verifies that a backend was constructed.
func (d *Driver) Initialize(ctx context.Context, cred llm.Credential) error {
	if d.backend == nil {
		return llm.NewDriverError(llm.ErrorKindConfigInvalid, "anyllm: backend not constructed", nil)
	}
	return nil
}

// ListModels implements llm.Driver, falling back to a name-only synthesized
// entry since any-llm-go does not expose a uniform model listing call
// across every backend it wraps.
func (d *Driver) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	caps := modelCapabilities(d.model)
	return []llm.ModelInfo{{
		ID: d.model, DisplayName: d.model,
		InputLimit: caps.ContextWindow, OutputLimit: caps.MaxOutputTokens,
		Capabilities: llm.ModelCapabilities{SupportsStreaming: true, SupportsVision: caps.SupportsVision},
	}}, nil
}

// DefaultParams implements llm.Driver.
func (d *Driver) DefaultParams() llm.ParamSet {
	return llm.ParamSet{"temperature": 1.0}
}

// ValidateModel implements llm.Driver.
func (d *Driver) ValidateModel(id string) bool { return id != "" }

// NormalizeMessages implements llm.Driver.
func (d *Driver) NormalizeMessages(chain []types.Message, systemInstruction string) (any, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	return d.buildParams(turns, lifted, llm.FilterParams(d.DefaultParams())), nil
}

// Generate implements llm.Driver.
func (d *Driver) Generate(ctx context.Context, chain []types.Message, systemInstruction string, gparams llm.ParamSet) (*llm.GenerateResult, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	params := d.buildParams(turns, lifted, gparams)

	resp, err := d.backend.Completion(ctx, params)
	if err != nil {
		return nil, translateError(d.providerName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewDriverError(llm.ErrorKindServerError, "anyllm: empty choices in response", nil)
	}

	result := &llm.GenerateResult{Text: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		result.Usage = types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// GenerateStream implements llm.Driver.
func (d *Driver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, gparams llm.ParamSet) (<-chan llm.StreamEvent, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, true)
	params := d.buildParams(turns, lifted, gparams)

	backendChunks, backendErrs := d.backend.CompletionStream(ctx, params)

	ch := make(chan llm.StreamEvent, 32)
	go func() {
		defer close(ch)

		var text strings.Builder
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content == "" {
				continue
			}
			text.WriteString(delta.Content)
			select {
			case ch <- llm.StreamEvent{Kind: llm.StreamEventChunk, Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.StreamEvent{Kind: llm.StreamEventError, Err: translateError(d.providerName, err).(*llm.DriverError)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case ch <- llm.StreamEvent{Kind: llm.StreamEventDone, TextTotal: text.String()}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// CountTokens approximates at ~4 characters per token; any-llm-go does not
// expose a uniform local tokenizer across the backends it wraps.
func (d *Driver) CountTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

func (d *Driver) buildParams(turns []llm.NormalizedMessage, systemInstruction string, gparams llm.ParamSet) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if systemInstruction != "" {
		messages = append(messages, anyllmlib.Message{Role: string(types.RoleSystem), Content: systemInstruction})
	}
	for _, t := range turns {
		messages = append(messages, anyllmlib.Message{Role: string(t.Role), Content: t.Content})
	}

	params := anyllmlib.CompletionParams{Model: d.model, Messages: messages}

	caps := modelCapabilities(d.model)
	limit := llm.ClampMaxOutputTokens(gparams, caps.MaxOutputTokens, "anyllm:"+d.providerName)
	params.MaxTokens = &limit

	if v, ok := gparams["temperature"].(float64); ok {
		params.Temperature = &v
	}
	return params
}

// capabilities mirrors the ModelCapabilities shape, keeping context-window
// bookkeeping local to this driver while sharing the exported struct for
// ListModels.
type capabilities struct {
	llm.ModelCapabilities
	ContextWindow   int
	MaxOutputTokens int
}

func modelCapabilities(model string) capabilities {
	caps := capabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.Contains(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.Contains(lower, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.Contains(lower, "deepseek"):
		caps.ContextWindow = 64_000
		caps.MaxOutputTokens = 8_192
	case strings.Contains(lower, "llama"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 4_096
	}
	return caps
}

func translateError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	kind := llm.ErrorKindNetwork
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"):
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
	return llm.NewDriverError(kind, "anyllm:"+providerName+": request failed", err)
}
