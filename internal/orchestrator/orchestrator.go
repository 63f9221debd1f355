// Package orchestrator turns a user intent (send, retry, navigate) into a
// provider call on a background worker, demultiplexing the result into a
// single ordered event stream per conversation, with cancellation and
// at-most-one-in-flight-per-conversation discipline.
package orchestrator

import (
	"context"
	"sync"

	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/internal/observe"
	"github.com/CannonWest/CannonAI-sub001/internal/store"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

const eventBufferSize = 32

// Orchestrator owns the at-most-one-in-flight-per-conversation worker slot
// and routes a worker's events to its single subscriber.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	store   *store.Store
	metrics *observe.Metrics

	mu     sync.Mutex
	active map[string]*workerHandle // conversation id -> the in-flight worker's handle
}

// workerHandle identifies one worker's cancellation func. Its pointer
// identity lets a finishing worker tell whether it is still the
// conversation's current occupant before clearing the slot — a later
// Submit/Retry may have already replaced it. done is closed once the
// worker goroutine returns, letting a replacement wait for the prior
// worker to finish touching conv before it starts touching it itself.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Orchestrator backed by st for persistence, recording
// worker-lifecycle metrics against observe.DefaultMetrics().
func New(st *store.Store) *Orchestrator {
	return &Orchestrator{store: st, metrics: observe.DefaultMetrics(), active: make(map[string]*workerHandle)}
}

// Submit starts a worker for conv's current active chain: the chain from
// root to active_leaf is sent to driver as-is (the caller is expected to
// have already appended the user turn via graph.AddUser). Submitting while
// a worker is already in flight for this conversation cancels it first.
func (o *Orchestrator) Submit(ctx context.Context, conv *types.Conversation, driver llm.Driver, model string, params llm.ParamSet, stream bool) (<-chan Event, error) {
	g := graph.New(conv)
	chain, err := g.Chain(nil)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errs.InvariantViolation("orchestrator: empty chain at submit")
	}

	req := &request{
		conv:       conv,
		driver:     driver,
		chain:      chain,
		system:     conv.Metadata.SystemInstruction,
		params:     params,
		stream:     stream,
		model:      model,
		userNodeID: chain[len(chain)-1].ID,
	}
	return o.start(ctx, conv.ID, req), nil
}

// Retry re-generates an alternative to assistantNodeID: it calls graph.Retry
// to allocate a new branch and placeholder assistant node (synchronously,
// before any provider call), then runs a worker on the chain ending at that
// placeholder's user parent. No duplicate user node is created.
func (o *Orchestrator) Retry(ctx context.Context, conv *types.Conversation, assistantNodeID string, driver llm.Driver, model string, params llm.ParamSet, stream bool) (<-chan Event, error) {
	g := graph.New(conv)
	placeholder, err := g.Retry(assistantNodeID)
	if err != nil {
		return nil, err
	}
	if placeholder.ParentID == nil {
		return nil, errs.InvariantViolation("orchestrator: retry placeholder has no parent")
	}

	chain, err := g.ChainFrom(*placeholder.ParentID)
	if err != nil {
		return nil, err
	}
	o.metrics.Retries.Add(ctx, 1)

	req := &request{
		conv:          conv,
		driver:        driver,
		chain:         chain,
		system:        conv.Metadata.SystemInstruction,
		params:        params,
		stream:        stream,
		model:         model,
		userNodeID:    *placeholder.ParentID,
		placeholderID: placeholder.ID,
	}
	return o.start(ctx, conv.ID, req), nil
}

// Navigate moves conv's active leaf and persists the result. It makes no
// provider call; the returned event is always exactly one synchronous
// NavChanged.
func (o *Orchestrator) Navigate(ctx context.Context, conv *types.Conversation, nodeID, direction string) (Event, error) {
	g := graph.New(conv)
	target, err := g.Navigate(nodeID, direction)
	if err != nil {
		return Event{}, err
	}
	if err := o.store.Save(ctx, conv); err != nil {
		return Event{}, err
	}

	history, err := g.Chain(nil)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Kind:            EventNavChanged,
		ActiveLeaf:      target.ID,
		ActiveBranch:    target.BranchID,
		HistorySnapshot: history,
	}, nil
}

// Cancel requests cancellation of conv's in-flight worker, if any. It is a
// no-op if no worker is active for conv. Cancellation is advisory: the
// worker observes it at its next suspension point.
func (o *Orchestrator) Cancel(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if handle, ok := o.active[conversationID]; ok {
		handle.cancel()
	}
}

// start enforces the at-most-one rule (cancelling any prior worker for this
// conversation and waiting for it to finalise before replacing it — the
// prior worker's finalize* calls write conv.Messages, so launching the
// replacement any earlier would race that write), then launches req's
// worker and returns its event channel.
func (o *Orchestrator) start(ctx context.Context, conversationID string, req *request) <-chan Event {
	o.mu.Lock()
	if prev, ok := o.active[conversationID]; ok {
		prev.cancel()
		o.mu.Unlock()
		select {
		case <-prev.done:
		case <-ctx.Done():
		}
		o.mu.Lock()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	handle := &workerHandle{cancel: cancel, done: make(chan struct{})}
	o.active[conversationID] = handle
	o.mu.Unlock()

	o.metrics.ActiveWorkers.Add(ctx, 1)
	out := make(chan Event, eventBufferSize)
	go func() {
		defer func() {
			o.metrics.ActiveWorkers.Add(context.Background(), -1)
			close(handle.done)
			o.mu.Lock()
			if o.active[conversationID] == handle {
				delete(o.active, conversationID)
			}
			o.mu.Unlock()
			cancel()
		}()
		o.runWorker(workerCtx, o.store, req, out)
	}()
	return out
}
