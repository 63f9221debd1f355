package store_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(dir)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	conv := graph.NewConversation("conv-1", "Hello World", "You are helpful.")
	g := graph.New(conv)
	_, _ = g.AddUser("Hi", nil)
	_, _ = g.AddAssistant("Hello!", "gpt-4o", nil, nil, "", nil, nil)

	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}

	loaded, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load by id: unexpected error: %v", err)
	}
	if len(loaded.Messages) != len(conv.Messages) {
		t.Fatalf("expected %d messages, got %d", len(conv.Messages), len(loaded.Messages))
	}
	if loaded.Metadata.Title != "Hello World" {
		t.Fatalf("expected title %q, got %q", "Hello World", loaded.Metadata.Title)
	}
}

func TestLoadByTitleAndIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	conv := graph.NewConversation("conv-2", "My Title", "")
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}

	if _, err := s.Load(ctx, "my title"); err != nil {
		t.Fatalf("Load by case-insensitive title: unexpected error: %v", err)
	}

	if _, err := s.List(ctx); err != nil {
		t.Fatalf("List: unexpected error: %v", err)
	}
	if _, err := s.Load(ctx, "0"); err != nil {
		t.Fatalf("Load by numeric index: unexpected error: %v", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Load(ctx, "does-not-exist"); err == nil {
		t.Fatal("Load: expected error for unresolvable identifier")
	}
}

func TestDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	conv := graph.NewConversation("conv-3", "Original", "")
	g := graph.New(conv)
	_, _ = g.AddUser("Hi", nil)
	_, _ = g.AddAssistant("Hello!", "gpt-4o", nil, nil, "", nil, nil)
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}

	dup, err := s.Duplicate(ctx, "conv-3", "")
	if err != nil {
		t.Fatalf("Duplicate: unexpected error: %v", err)
	}
	if dup.ID == conv.ID {
		t.Fatal("Duplicate: expected a fresh conversation id")
	}
	if dup.Metadata.Title != "Original (Copy)" {
		t.Fatalf("expected title %q, got %q", "Original (Copy)", dup.Metadata.Title)
	}
	if len(dup.Messages) != len(conv.Messages) {
		t.Fatalf("expected %d messages, got %d", len(conv.Messages), len(dup.Messages))
	}
	for id := range dup.Messages {
		if _, exists := conv.Messages[id]; exists {
			t.Fatalf("expected duplicate message id %q to be fresh", id)
		}
	}
	dg := graph.New(dup)
	if _, err := dg.Chain(nil); err != nil {
		t.Fatalf("Chain on duplicate: unexpected error: %v", err)
	}
}

func TestLegacyConversionOnLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.New(dir)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	legacyJSON := `{
		"conversation_id": "legacy-1",
		"history": [
			{"type": "metadata", "content": {"title": "Old"}},
			{"type": "message", "content": {"role": "user", "text": "A"}},
			{"type": "message", "content": {"role": "ai", "text": "B"}}
		]
	}`
	path := filepath.Join(dir, "legacy_legacy-1.json")
	if err := os.WriteFile(path, []byte(legacyJSON), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	conv, err := s.Load(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if conv.Metadata.Title != "Old" {
		t.Fatalf("expected title %q, got %q", "Old", conv.Metadata.Title)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}

	// The source file must remain untouched until the next explicit save.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back legacy file: %v", err)
	}
	if string(raw) != legacyJSON {
		t.Fatal("expected legacy file to be left untouched by Load")
	}

	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}
	reloaded, err := s.Load(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("reload after save: unexpected error: %v", err)
	}
	if len(reloaded.Messages) != 3 {
		t.Fatalf("expected 3 messages after reload, got %d", len(reloaded.Messages))
	}
}

func TestExportMarkdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	conv := graph.NewConversation("conv-4", "T", "sys")
	g := graph.New(conv)
	_, _ = g.AddUser("Hi", nil)
	_, _ = g.AddAssistant("Hello!", "gpt-4o", nil, nil, "", nil, nil)
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}

	var buf strings.Builder
	if err := s.Export(ctx, "conv-4", &buf, store.FormatMarkdown); err != nil {
		t.Fatalf("Export: unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "## assistant\nHello!") {
		t.Fatalf("expected markdown transcript to contain assistant turn, got %q", buf.String())
	}
}

func TestSaveSanitizesNonASCIITitleInFilename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.New(dir)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	conv := graph.NewConversation("conv-5", "Café Résumé 日本語", "")
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file, got %d", len(entries))
	}
	name := entries[0].Name()
	for _, r := range strings.TrimSuffix(name, filepath.Ext(name)) {
		if r == '_' || r == '-' || r == '.' {
			continue
		}
		if r < 'a' || r > 'z' {
			if r >= '0' && r <= '9' {
				continue
			}
			t.Fatalf("expected filename %q to contain only ASCII [a-z0-9_-], found %q", name, r)
		}
	}
}
