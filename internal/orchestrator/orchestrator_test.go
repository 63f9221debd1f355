package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/internal/orchestrator"
	"github.com/CannonWest/CannonAI-sub001/internal/store"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/llmmock"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: unexpected error: %v", err)
	}
	return orchestrator.New(st), st
}

func drain(t *testing.T, events <-chan orchestrator.Event, timeout time.Duration) []orchestrator.Event {
	t.Helper()
	var got []orchestrator.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestSubmitNonStreaming(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(t)

	conv := graph.NewConversation("conv-1", "T1", "You are helpful.")
	g := graph.New(conv)
	if _, err := g.AddUser("Hi", nil); err != nil {
		t.Fatalf("AddUser: unexpected error: %v", err)
	}

	driver := &llmmock.Driver{
		GenerateResult: &llm.GenerateResult{
			Text:  "Hello!",
			Usage: types.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		},
	}

	events, err := o.Submit(context.Background(), conv, driver, "gpt-4o", nil, false)
	if err != nil {
		t.Fatalf("Submit: unexpected error: %v", err)
	}
	got := drain(t, events, 2*time.Second)

	if len(got) != 2 {
		t.Fatalf("expected 2 events (Started, Done), got %d: %+v", len(got), got)
	}
	if got[0].Kind != orchestrator.EventStarted || got[1].Kind != orchestrator.EventDone {
		t.Fatalf("expected Started, Done; got %v, %v", got[0].Kind, got[1].Kind)
	}
	if got[1].FullText != "Hello!" {
		t.Fatalf("expected full text %q, got %q", "Hello!", got[1].FullText)
	}

	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}
}

func TestSubmitStreamingFinalise(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(t)

	conv := graph.NewConversation("conv-2", "T1", "You are helpful.")
	g := graph.New(conv)
	if _, err := g.AddUser("Hi", nil); err != nil {
		t.Fatalf("AddUser: unexpected error: %v", err)
	}

	driver := &llmmock.Driver{
		StreamEvents: []llm.StreamEvent{
			{Kind: llm.StreamEventChunk, Text: "Hel"},
			{Kind: llm.StreamEventChunk, Text: "lo "},
			{Kind: llm.StreamEventChunk, Text: "there"},
			{Kind: llm.StreamEventDone, TextTotal: "Hello there", Usage: &types.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}},
		},
	}

	events, err := o.Submit(context.Background(), conv, driver, "gpt-4o", nil, true)
	if err != nil {
		t.Fatalf("Submit: unexpected error: %v", err)
	}
	got := drain(t, events, 2*time.Second)

	wantKinds := []orchestrator.EventKind{
		orchestrator.EventStarted, orchestrator.EventChunk, orchestrator.EventChunk, orchestrator.EventChunk, orchestrator.EventDone,
	}
	if len(got) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantKinds), len(got), got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Fatalf("event %d: expected kind %v, got %v", i, k, got[i].Kind)
		}
	}
	last := got[len(got)-1]
	if last.FullText != "Hello there" {
		t.Fatalf("expected full text %q, got %q", "Hello there", last.FullText)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 7 {
		t.Fatalf("expected usage total 7, got %+v", last.Usage)
	}
}

// blockingDriver streams one chunk, then blocks until its context is
// cancelled, simulating a provider call caught mid-stream by a cancel.
type blockingDriver struct {
	llmmock.Driver
	chunkSent chan struct{}
}

func (d *blockingDriver) GenerateStream(ctx context.Context, chain []types.Message, systemInstruction string, params llm.ParamSet) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		select {
		case ch <- llm.StreamEvent{Kind: llm.StreamEventChunk, Text: "Hel"}:
			close(d.chunkSent)
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func TestCancelMidStream(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(t)

	conv := graph.NewConversation("conv-3", "T1", "You are helpful.")
	g := graph.New(conv)
	if _, err := g.AddUser("Hi", nil); err != nil {
		t.Fatalf("AddUser: unexpected error: %v", err)
	}

	driver := &blockingDriver{chunkSent: make(chan struct{})}

	events, err := o.Submit(context.Background(), conv, driver, "gpt-4o", nil, true)
	if err != nil {
		t.Fatalf("Submit: unexpected error: %v", err)
	}

	first := <-events
	if first.Kind != orchestrator.EventStarted {
		t.Fatalf("expected first event Started, got %v", first.Kind)
	}
	second := <-events
	if second.Kind != orchestrator.EventChunk || second.Text != "Hel" {
		t.Fatalf("expected chunk %q, got %v %q", "Hel", second.Kind, second.Text)
	}

	<-driver.chunkSent
	o.Cancel(conv.ID)

	rest := drain(t, events, 2*time.Second)
	if len(rest) != 1 {
		t.Fatalf("expected exactly 1 more event (Cancelled), got %d: %+v", len(rest), rest)
	}
	if rest[0].Kind != orchestrator.EventCancelled {
		t.Fatalf("expected Cancelled, got %v", rest[0].Kind)
	}

	asst := findAssistant(conv)
	if asst == nil {
		t.Fatal("expected a partial assistant node to be appended")
	}
	if asst.Content != "Hel" {
		t.Fatalf("expected partial content %q, got %q", "Hel", asst.Content)
	}
	if !asst.Truncated {
		t.Fatal("expected partial assistant node to be marked truncated")
	}
}

// TestCancelThenResubmitWaitsForPriorFinalize exercises the case the previous
// blockingDriver test didn't: a replacement Submit fired on the heels of a
// Cancel for the same conversation. start() must block the replacement
// worker until the cancelled one has finished writing its partial assistant
// node, or the two would race on conv.Messages.
func TestCancelThenResubmitWaitsForPriorFinalize(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(t)

	conv := graph.NewConversation("conv-5", "T1", "You are helpful.")
	g := graph.New(conv)
	if _, err := g.AddUser("Hi", nil); err != nil {
		t.Fatalf("AddUser: unexpected error: %v", err)
	}

	first := &blockingDriver{chunkSent: make(chan struct{})}
	firstEvents, err := o.Submit(context.Background(), conv, first, "gpt-4o", nil, true)
	if err != nil {
		t.Fatalf("Submit: unexpected error: %v", err)
	}
	if ev := <-firstEvents; ev.Kind != orchestrator.EventStarted {
		t.Fatalf("expected Started, got %v", ev.Kind)
	}
	if ev := <-firstEvents; ev.Kind != orchestrator.EventChunk {
		t.Fatalf("expected Chunk, got %v", ev.Kind)
	}
	<-first.chunkSent

	o.Cancel(conv.ID)

	second := &llmmock.Driver{GenerateResult: &llm.GenerateResult{Text: "Hey!"}}
	secondEvents, err := o.Submit(context.Background(), conv, second, "gpt-4o", nil, false)
	if err != nil {
		t.Fatalf("Submit: unexpected error: %v", err)
	}

	drain(t, firstEvents, 2*time.Second)
	secondGot := drain(t, secondEvents, 2*time.Second)
	if len(secondGot) != 2 || secondGot[1].Kind != orchestrator.EventDone {
		t.Fatalf("expected Started, Done from the replacement worker, got %+v", secondGot)
	}

	var assistants []*types.Message
	for _, m := range conv.Messages {
		if m.Role == types.RoleAssistant {
			assistants = append(assistants, m)
		}
	}
	if len(assistants) != 2 {
		t.Fatalf("expected 2 assistant nodes (cancelled partial + replacement), got %d", len(assistants))
	}
}

func findAssistant(conv *types.Conversation) *types.Message {
	for _, m := range conv.Messages {
		if m.Role == types.RoleAssistant {
			return m
		}
	}
	return nil
}

func TestRetryAndNavigate(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(t)

	conv := graph.NewConversation("conv-4", "T1", "You are helpful.")
	g := graph.New(conv)
	userNode, _ := g.AddUser("Hi", nil)

	firstDriver := &llmmock.Driver{GenerateResult: &llm.GenerateResult{Text: "Hello!"}}
	events, err := o.Submit(context.Background(), conv, firstDriver, "gpt-4o", nil, false)
	if err != nil {
		t.Fatalf("Submit: unexpected error: %v", err)
	}
	got := drain(t, events, 2*time.Second)
	firstAsst := got[len(got)-1]

	secondDriver := &llmmock.Driver{GenerateResult: &llm.GenerateResult{Text: "Hey!"}}
	retryEvents, err := o.Retry(context.Background(), conv, firstAsst.MessageID, secondDriver, "gpt-4o", nil, false)
	if err != nil {
		t.Fatalf("Retry: unexpected error: %v", err)
	}
	retryGot := drain(t, retryEvents, 2*time.Second)
	secondAsst := retryGot[len(retryGot)-1]

	if len(userNode.Children) != 2 {
		t.Fatalf("expected user node to have 2 children after retry, got %d", len(userNode.Children))
	}
	if secondAsst.FullText != "Hey!" {
		t.Fatalf("expected retried text %q, got %q", "Hey!", secondAsst.FullText)
	}

	navEvent, err := o.Navigate(context.Background(), conv, secondAsst.MessageID, "prev")
	if err != nil {
		t.Fatalf("Navigate: unexpected error: %v", err)
	}
	if navEvent.Kind != orchestrator.EventNavChanged {
		t.Fatalf("expected NavChanged, got %v", navEvent.Kind)
	}
	if navEvent.ActiveLeaf != firstAsst.MessageID {
		t.Fatalf("expected active_leaf %q, got %q", firstAsst.MessageID, navEvent.ActiveLeaf)
	}
	if navEvent.ActiveBranch != graph.MainBranch {
		t.Fatalf("expected branch %q, got %q", graph.MainBranch, navEvent.ActiveBranch)
	}
}
