package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
)

// ErrProviderNotRegistered is wrapped in the ConfigInvalid error CreateLLM
// returns when no factory has been registered under the requested provider
// name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to driver constructor functions. It is the
// gateway's single-kind collapse of the multi-kind provider registry: every
// entry produces an llm.Driver. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Driver, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]func(ProviderEntry) (llm.Driver, error))}
}

// RegisterLLM registers a driver factory under name. Subsequent calls with
// the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Driver, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateLLM instantiates a driver using the factory registered under
// entry.Name. If no factory has been registered for that name it returns an
// [errs.Error] of kind ConfigInvalid wrapping [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Driver, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("provider %q", entry.Name), ErrProviderNotRegistered)
	}
	return factory(entry)
}
