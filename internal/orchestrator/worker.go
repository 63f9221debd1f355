package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/internal/store"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// request describes one worker invocation: the chain to send, the driver to
// call, and where the result attaches to the graph once the call finishes.
type request struct {
	conv     *types.Conversation
	driver   llm.Driver
	chain    []types.Message
	system   string
	params   llm.ParamSet
	stream   bool
	model    string

	// userNodeID is the id of the chain's trailing user message; Done
	// events report it as the new assistant node's parent.
	userNodeID string

	// placeholderID is non-empty for a retry: graph.Retry already created
	// this assistant node and made it the active leaf, so finalisation
	// fills it via CompleteAssistant instead of AddAssistant.
	placeholderID string

	// started is set by runWorker right before dispatch, so the finalize*
	// helpers can report RequestDuration.
	started time.Time
}

// runWorker drives one provider call end to end, translating llm.StreamEvent
// (or a single Generate call) into Events on out, and finalising the result
// into the graph and store. It owns out's lifetime: out is always closed
// before runWorker returns.
func (o *Orchestrator) runWorker(ctx context.Context, st *store.Store, req *request, out chan<- Event) {
	defer close(out)

	workerID := uuid.NewString()
	req.started = time.Now()
	send(ctx, out, Event{Kind: EventStarted, ConversationID: req.conv.ID, WorkerID: workerID, Model: req.model})

	if req.stream {
		o.runStreaming(ctx, st, req, out)
		return
	}
	o.runOnce(ctx, st, req, out)
}

func (o *Orchestrator) runOnce(ctx context.Context, st *store.Store, req *request, out chan<- Event) {
	result, err := req.driver.Generate(ctx, req.chain, req.system, req.params)
	if err != nil {
		o.finalizeError(ctx, st, req, out, "", err)
		return
	}
	o.finalizeDone(ctx, st, req, out, result.Text, &result.Usage, result.ResponseID)
}

func (o *Orchestrator) runStreaming(ctx context.Context, st *store.Store, req *request, out chan<- Event) {
	events, err := req.driver.GenerateStream(ctx, req.chain, req.system, req.params)
	if err != nil {
		o.finalizeError(ctx, st, req, out, "", err)
		return
	}

	var text strings.Builder
	var usage *types.TokenUsage
	var responseID string

	for {
		select {
		case <-ctx.Done():
			o.finalizeCancelled(context.WithoutCancel(ctx), st, req, out, text.String())
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					o.finalizeCancelled(context.WithoutCancel(ctx), st, req, out, text.String())
				}
				return
			}
			switch ev.Kind {
			case llm.StreamEventChunk:
				text.WriteString(ev.Text)
				send(ctx, out, Event{Kind: EventChunk, Text: ev.Text})
			case llm.StreamEventUsage:
				usage = ev.Usage
				send(ctx, out, Event{Kind: EventUsage, Usage: ev.Usage})
			case llm.StreamEventThinking:
				send(ctx, out, Event{Kind: EventThinkingStep, ThinkingName: ev.ThinkingName, ThinkingContent: ev.ThinkingContent})
			case llm.StreamEventDone:
				full := ev.TextTotal
				if full == "" {
					full = text.String()
				}
				if ev.Usage != nil {
					usage = ev.Usage
				}
				responseID = ev.ResponseID
				o.finalizeDone(ctx, st, req, out, full, usage, responseID)
				return
			case llm.StreamEventError:
				o.finalizeError(ctx, st, req, out, text.String(), ev.Err)
				return
			}
		}
	}
}

// recordOutcome reports one worker run's wall time and a terminal-status
// counter increment, using req.model as the provider attribute since
// request carries no dedicated provider name.
func (o *Orchestrator) recordOutcome(ctx context.Context, req *request, status string) {
	attrs := metric.WithAttributes(attribute.String("provider", req.model), attribute.Bool("streaming", req.stream))
	o.metrics.RequestDuration.Record(ctx, time.Since(req.started).Seconds(), attrs)
	o.metrics.RecordProviderRequest(ctx, req.model, status)
}

func (o *Orchestrator) finalizeDone(ctx context.Context, st *store.Store, req *request, out chan<- Event, text string, usage *types.TokenUsage, responseID string) {
	o.recordOutcome(ctx, req, "ok")
	if usage != nil {
		o.metrics.RecordUsage(ctx, req.model, usage.PromptTokens, usage.CompletionTokens)
	}
	g := graph.New(req.conv)

	var messageID, parentID string
	if req.placeholderID != "" {
		if err := g.CompleteAssistant(req.placeholderID, text, req.model, req.params, usage, responseID); err != nil {
			o.finalizeError(ctx, st, req, out, text, err)
			return
		}
		messageID = req.placeholderID
		parentID = req.userNodeID
	} else {
		node, err := g.AddAssistant(text, req.model, req.params, usage, responseID, nil, nil)
		if err != nil {
			o.finalizeError(ctx, st, req, out, text, err)
			return
		}
		messageID = node.ID
		parentID = req.userNodeID
	}

	if err := st.Save(ctx, req.conv); err != nil {
		send(ctx, out, Event{Kind: EventError, ErrKind: errs.KindServerError, ErrMessage: err.Error()})
		return
	}

	send(ctx, out, Event{
		Kind:       EventDone,
		FullText:   text,
		MessageID:  messageID,
		ParentID:   parentID,
		Model:      req.model,
		Usage:      usage,
		ResponseID: responseID,
	})
}

// finalizeError appends the partial-or-error assistant turn per the
// finalisation-on-error rule: partial text is kept and marked truncated; no
// text produces a synthesised "Error: <kind>: <detail>" assistant message.
func (o *Orchestrator) finalizeError(ctx context.Context, st *store.Store, req *request, out chan<- Event, partialText string, cause error) {
	kind, detail := classify(cause)
	o.recordOutcome(ctx, req, "error")
	o.metrics.RecordProviderError(ctx, req.model, kind.String())
	g := graph.New(req.conv)

	content := partialText
	if content == "" {
		content = "Error: " + kind.String() + ": " + detail
	}
	var node *types.Message
	var err error
	if req.placeholderID != "" {
		err = g.CompleteAssistant(req.placeholderID, content, req.model, req.params, nil, "")
		node = req.conv.Messages[req.placeholderID]
	} else {
		node, err = g.AddAssistant(content, req.model, req.params, nil, "", nil, nil)
	}
	if err == nil && partialText != "" {
		node.Truncated = true
	}
	if err != nil {
		send(ctx, out, Event{Kind: EventError, ErrKind: kind, ErrMessage: detail})
		return
	}

	if saveErr := st.Save(ctx, req.conv); saveErr != nil {
		send(ctx, out, Event{Kind: EventError, ErrKind: errs.KindServerError, ErrMessage: saveErr.Error()})
		return
	}

	send(ctx, out, Event{Kind: EventError, ErrKind: kind, ErrMessage: detail, MessageID: node.ID, ParentID: req.userNodeID})
}

// finalizeCancelled appends whatever partial text had accumulated when the
// cancel arrived (if any) as the assistant turn, persists, and emits exactly
// one Cancelled event. A cancel with zero accumulated text appends nothing.
func (o *Orchestrator) finalizeCancelled(ctx context.Context, st *store.Store, req *request, out chan<- Event, partialText string) {
	o.recordOutcome(ctx, req, "cancelled")
	o.metrics.Cancellations.Add(ctx, 1)
	if partialText == "" {
		send(ctx, out, Event{Kind: EventCancelled, CancelReason: "context cancelled"})
		return
	}

	g := graph.New(req.conv)
	var node *types.Message
	var err error
	if req.placeholderID != "" {
		err = g.CompleteAssistant(req.placeholderID, partialText, req.model, req.params, nil, "")
		node = req.conv.Messages[req.placeholderID]
	} else {
		node, err = g.AddAssistant(partialText, req.model, req.params, nil, "", nil, nil)
	}
	if err != nil {
		send(ctx, out, Event{Kind: EventCancelled, CancelReason: "context cancelled"})
		return
	}
	node.Truncated = true

	if saveErr := st.Save(ctx, req.conv); saveErr != nil {
		send(ctx, out, Event{Kind: EventError, ErrKind: errs.KindServerError, ErrMessage: saveErr.Error()})
		return
	}

	send(ctx, out, Event{Kind: EventCancelled, CancelReason: "context cancelled", MessageID: node.ID, ParentID: req.userNodeID})
}

// classify maps a driver error (or any error) onto the shared errs.Kind
// taxonomy so the orchestrator's surface doesn't leak driver-specific error
// types to callers.
func classify(err error) (errs.Kind, string) {
	if err == nil {
		return errs.KindUnknown, ""
	}
	var driverErr *llm.DriverError
	if errors.As(err, &driverErr) {
		return mapDriverKind(driverErr.Kind), driverErr.Message
	}
	var coreErr *errs.Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind, coreErr.Message
	}
	return errs.KindNetwork, err.Error()
}

func mapDriverKind(k llm.ErrorKind) errs.Kind {
	switch k {
	case llm.ErrorKindConfigInvalid:
		return errs.KindConfigInvalid
	case llm.ErrorKindAuthFailed:
		return errs.KindAuthFailed
	case llm.ErrorKindRateLimited:
		return errs.KindRateLimited
	case llm.ErrorKindTimeout:
		return errs.KindTimeout
	case llm.ErrorKindNetwork:
		return errs.KindNetwork
	case llm.ErrorKindBadRequest:
		return errs.KindBadRequest
	case llm.ErrorKindServerError:
		return errs.KindServerError
	case llm.ErrorKindNotFound:
		return errs.KindNotFound
	case llm.ErrorKindConversationCorrupt:
		return errs.KindConversationCorrupt
	case llm.ErrorKindInvariantViolation:
		return errs.KindInvariantViolation
	case llm.ErrorKindCancelled:
		return errs.KindCancelled
	default:
		return errs.KindUnknown
	}
}

// send delivers ev on out, honouring cancellation as a suspension point so a
// slow or abandoned subscriber cannot wedge the worker.
func send(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
