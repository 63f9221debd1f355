// Package llmmock provides a test double for the llm.Driver contract.
//
// Use Driver in orchestrator and config tests to verify behavior against
// controlled provider responses without a live backend.
//
// Example:
//
//	d := &llmmock.Driver{
//	    GenerateResult: &llm.GenerateResult{Text: "Hello!"},
//	}
//	res, err := d.Generate(ctx, chain, "", nil)
package llmmock

import (
	"context"
	"sync"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Chain             []types.Message
	SystemInstruction string
	Params            llm.ParamSet
}

// Driver is a mock implementation of llm.Driver. Zero-value response fields
// cause methods to return zero values and nil errors; set the Err fields to
// inject failures.
type Driver struct {
	mu sync.Mutex

	InitializeErr error

	Models    []llm.ModelInfo
	ModelsErr error

	Params llm.ParamSet

	ValidModels map[string]bool

	// GenerateResult is returned by Generate.
	GenerateResult *llm.GenerateResult
	GenerateErr    error

	// StreamEvents is the ordered sequence emitted on the channel returned
	// by GenerateStream. All events are sent before the channel is closed.
	StreamEvents []llm.StreamEvent
	StreamErr    error

	GenerateCalls       []GenerateCall
	GenerateStreamCalls []GenerateCall
}

// Initialize implements llm.Driver.
func (d *Driver) Initialize(ctx context.Context, cred llm.Credential) error {
	return d.InitializeErr
}

// ListModels implements llm.Driver.
func (d *Driver) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return d.Models, d.ModelsErr
}

// DefaultParams implements llm.Driver.
func (d *Driver) DefaultParams() llm.ParamSet { return d.Params }

// ValidateModel implements llm.Driver.
func (d *Driver) ValidateModel(id string) bool {
	if d.ValidModels == nil {
		return true
	}
	return d.ValidModels[id]
}

// NormalizeMessages implements llm.Driver, returning the shared normalized
// form so tests can assert on it directly.
func (d *Driver) NormalizeMessages(chain []types.Message, systemInstruction string) (any, error) {
	turns, lifted := llm.Normalize(chain, systemInstruction, false)
	return struct {
		Turns  []llm.NormalizedMessage
		System string
	}{turns, lifted}, nil
}

// Generate records the call and returns GenerateResult, GenerateErr.
func (d *Driver) Generate(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (*llm.GenerateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GenerateCalls = append(d.GenerateCalls, GenerateCall{Chain: chain, SystemInstruction: systemInstruction, Params: params})
	return d.GenerateResult, d.GenerateErr
}

// GenerateStream records the call and returns a channel emitting
// StreamEvents. If StreamErr is set, it returns nil, StreamErr without
// opening a channel.
func (d *Driver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (<-chan llm.StreamEvent, error) {
	d.mu.Lock()
	d.GenerateStreamCalls = append(d.GenerateStreamCalls, GenerateCall{Chain: chain, SystemInstruction: systemInstruction, Params: params})
	if d.StreamErr != nil {
		err := d.StreamErr
		d.mu.Unlock()
		return nil, err
	}
	events := make([]llm.StreamEvent, len(d.StreamEvents))
	copy(events, d.StreamEvents)
	d.mu.Unlock()

	ch := make(chan llm.StreamEvent, len(events))
	go func() {
		defer close(ch)
		for _, e := range events {
			select {
			case <-ctx.Done():
				return
			case ch <- e:
			}
		}
	}()
	return ch, nil
}

// CountTokens implements llm.Driver with a constant per-message estimate;
// orchestrator tests that need exact counts should stub their own budget
// check upstream of the driver instead.
func (d *Driver) CountTokens(messages []types.Message) int { return len(messages) }

// Reset clears all recorded calls. Thread-safe.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GenerateCalls = nil
	d.GenerateStreamCalls = nil
}

var _ llm.Driver = (*Driver)(nil)
