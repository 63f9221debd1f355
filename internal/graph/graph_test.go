package graph_test

import (
	"testing"

	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

func TestHelloWorldNonStreaming(t *testing.T) {
	t.Parallel()

	conv := graph.NewConversation("conv-1", "T1", "You are helpful.")
	g := graph.New(conv)

	userNode, err := g.AddUser("Hi", nil)
	if err != nil {
		t.Fatalf("AddUser: unexpected error: %v", err)
	}

	asstNode, err := g.AddAssistant("Hello!", "gpt-4o", nil, &types.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, "", nil, nil)
	if err != nil {
		t.Fatalf("AddAssistant: unexpected error: %v", err)
	}

	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}
	if asstNode.ParentID == nil || *asstNode.ParentID != userNode.ID {
		t.Fatalf("expected assistant parent %q, got %v", userNode.ID, asstNode.ParentID)
	}

	chain, err := g.Chain(nil)
	if err != nil {
		t.Fatalf("Chain: unexpected error: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(chain))
	}
	if chain[0].Role != types.RoleSystem || chain[1].Role != types.RoleUser || chain[2].Role != types.RoleAssistant {
		t.Fatalf("unexpected chain roles: %v %v %v", chain[0].Role, chain[1].Role, chain[2].Role)
	}
	if chain[2].Content != "Hello!" {
		t.Fatalf("expected final content %q, got %q", "Hello!", chain[2].Content)
	}
}

func TestRetryCreatesSibling(t *testing.T) {
	t.Parallel()

	conv := graph.NewConversation("conv-2", "T1", "You are helpful.")
	g := graph.New(conv)

	userNode, _ := g.AddUser("Hi", nil)
	firstAsst, err := g.AddAssistant("Hello!", "gpt-4o", nil, nil, "", nil, nil)
	if err != nil {
		t.Fatalf("AddAssistant: unexpected error: %v", err)
	}

	placeholder, err := g.Retry(firstAsst.ID)
	if err != nil {
		t.Fatalf("Retry: unexpected error: %v", err)
	}
	if err := g.CompleteAssistant(placeholder.ID, "Hey!", "gpt-4o", nil, nil, ""); err != nil {
		t.Fatalf("CompleteAssistant: unexpected error: %v", err)
	}

	if len(userNode.Children) != 2 {
		t.Fatalf("expected user node to have 2 children, got %d", len(userNode.Children))
	}
	if conv.Metadata.ActiveBranch == graph.MainBranch {
		t.Fatalf("expected active_branch to change off %q", graph.MainBranch)
	}
	if conv.Metadata.ActiveLeaf == nil || *conv.Metadata.ActiveLeaf != placeholder.ID {
		t.Fatalf("expected active_leaf %q, got %v", placeholder.ID, conv.Metadata.ActiveLeaf)
	}

	sib, err := g.Siblings(placeholder.ID)
	if err != nil {
		t.Fatalf("Siblings: unexpected error: %v", err)
	}
	if len(sib.List) != 2 {
		t.Fatalf("expected 2 siblings, got %d", len(sib.List))
	}
}

func TestNavigatePrevThenNext(t *testing.T) {
	t.Parallel()

	conv := graph.NewConversation("conv-3", "T1", "You are helpful.")
	g := graph.New(conv)

	_, _ = g.AddUser("Hi", nil)
	firstAsst, _ := g.AddAssistant("Hello!", "gpt-4o", nil, nil, "", nil, nil)
	placeholder, _ := g.Retry(firstAsst.ID)
	_ = g.CompleteAssistant(placeholder.ID, "Hey!", "gpt-4o", nil, nil, "")

	prevNode, err := g.Navigate(placeholder.ID, "prev")
	if err != nil {
		t.Fatalf("Navigate prev: unexpected error: %v", err)
	}
	if prevNode.ID != firstAsst.ID {
		t.Fatalf("expected prev to land on %q, got %q", firstAsst.ID, prevNode.ID)
	}
	if prevNode.BranchID != graph.MainBranch {
		t.Fatalf("expected branch %q, got %q", graph.MainBranch, prevNode.BranchID)
	}
	if conv.Metadata.ActiveBranch != graph.MainBranch {
		t.Fatalf("expected active_branch %q, got %q", graph.MainBranch, conv.Metadata.ActiveBranch)
	}

	nextNode, err := g.Navigate(prevNode.ID, "next")
	if err != nil {
		t.Fatalf("Navigate next: unexpected error: %v", err)
	}
	if nextNode.ID != placeholder.ID {
		t.Fatalf("expected next to return to %q, got %q", placeholder.ID, nextNode.ID)
	}
}

func TestLegacyLoad(t *testing.T) {
	t.Parallel()

	conv := graph.FromLegacy("conv-4", "Old", []graph.LegacyMessage{
		{Role: "user", Content: "A"},
		{Role: "ai", Content: "B"},
	})

	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}
	if conv.Metadata.Title != "Old" {
		t.Fatalf("expected title %q, got %q", "Old", conv.Metadata.Title)
	}

	g := graph.New(conv)
	chain, err := g.Chain(nil)
	if err != nil {
		t.Fatalf("Chain: unexpected error: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(chain))
	}
	if chain[0].Role != types.RoleSystem || chain[1].Content != "A" || chain[2].Content != "B" {
		t.Fatalf("unexpected legacy chain: %+v", chain)
	}
	for _, m := range chain {
		if m.BranchID != graph.MainBranch {
			t.Fatalf("expected all legacy messages on %q, got %q", graph.MainBranch, m.BranchID)
		}
	}
}

func TestSiblingsForUserNode(t *testing.T) {
	t.Parallel()

	conv := graph.NewConversation("conv-5", "T1", "")
	g := graph.New(conv)

	userNode, _ := g.AddUser("Hi", nil)
	asst, _ := g.AddAssistant("First", "m", nil, nil, "", nil, nil)

	sib, err := g.Siblings(userNode.ID)
	if err != nil {
		t.Fatalf("Siblings: unexpected error: %v", err)
	}
	if len(sib.List) != 1 || sib.List[0] != asst.ID {
		t.Fatalf("expected user node siblings to be its own children, got %v", sib.List)
	}
	if sib.Index != 0 {
		t.Fatalf("expected index 0, got %d", sib.Index)
	}
}
