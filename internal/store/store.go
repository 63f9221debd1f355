// Package store implements the conversation store: content-addressed JSON
// files on disk, one per conversation, with atomic writes and a five-step
// identifier resolution order for lookups.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

const defaultTitle = "New Conversation"

// Format selects the encoding Export writes.
type Format int

const (
	FormatJSON Format = iota
	FormatMarkdown
)

// Store persists conversations as JSON files under a directory, one file
// per conversation, named "<sanitized_title>_<conversation_id>.json".
type Store struct {
	dir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	lastListMu sync.Mutex
	lastList   []types.Summary
}

// New returns a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindServerError, fmt.Sprintf("store: create conversations dir %q", dir), err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// List iterates every *.json file in the conversations directory. Unparsable
// files are skipped with a logged warning rather than failing the listing.
func (s *Store) List(ctx context.Context) ([]types.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.New(errs.KindServerError, fmt.Sprintf("store: read dir %q", s.dir), err)
	}

	var summaries []types.Summary
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return summaries, ctx.Err()
		default:
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		conv, err := readConversationFile(path)
		if err != nil {
			slog.Warn("store: skipping unparsable conversation file", "path", path, "error", err)
			continue
		}
		info, err := entry.Info()
		createdAt := conv.Metadata.CreatedAt
		if err == nil && createdAt.IsZero() {
			createdAt = info.ModTime()
		}
		summaries = append(summaries, types.Summary{
			ID:           conv.ID,
			Title:        conv.Metadata.Title,
			Filename:     entry.Name(),
			Path:         path,
			CreatedAt:    createdAt,
			Model:        conv.Metadata.Model,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedAt.Before(summaries[j].CreatedAt) })

	s.lastListMu.Lock()
	s.lastList = summaries
	s.lastListMu.Unlock()

	return summaries, nil
}

// Load resolves identifier in order: exact conversation_id, exact filename,
// filename+".json", case-insensitive title match, then a numeric index into
// the result of the most recent List call.
func (s *Store) Load(ctx context.Context, identifier string) (*types.Conversation, error) {
	path, err := s.resolve(identifier)
	if err != nil {
		return nil, err
	}
	return readConversationFile(path)
}

func (s *Store) resolve(identifier string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", errs.New(errs.KindServerError, fmt.Sprintf("store: read dir %q", s.dir), err)
	}

	// (a) exact conversation_id — requires decoding candidates.
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		conv, err := readConversationFile(path)
		if err != nil {
			continue
		}
		if conv.ID == identifier {
			return path, nil
		}
	}

	// (b) exact filename
	direct := filepath.Join(s.dir, identifier)
	if fileExists(direct) {
		return direct, nil
	}

	// (c) filename + ".json"
	withExt := filepath.Join(s.dir, identifier+".json")
	if fileExists(withExt) {
		return withExt, nil
	}

	// (d) case-insensitive title match
	lowerWant := strings.ToLower(identifier)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		conv, err := readConversationFile(path)
		if err != nil {
			continue
		}
		if strings.ToLower(conv.Metadata.Title) == lowerWant {
			return path, nil
		}
	}

	// (e) numeric index from the last List()
	if idx, err := strconv.Atoi(identifier); err == nil {
		s.lastListMu.Lock()
		list := s.lastList
		s.lastListMu.Unlock()
		if idx >= 0 && idx < len(list) {
			return list[idx].Path, nil
		}
	}

	return "", errs.NotFound(fmt.Sprintf("store: no conversation matches %q", identifier))
}

// Save serializes conversation to a temporary file, fsyncs it, and
// atomically renames it into place. It updates updated_at and, if the
// conversation still carries the placeholder title, derives one from the
// first user message.
func (s *Store) Save(ctx context.Context, conv *types.Conversation) error {
	lock := s.lockFor(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	conv.Metadata.UpdatedAt = time.Now().UTC()
	if conv.Metadata.Title == "" || conv.Metadata.Title == defaultTitle {
		if derived := deriveTitle(conv); derived != "" {
			conv.Metadata.Title = derived
		}
	}

	filename := filenameFor(conv.Metadata.Title, conv.ID)
	if err := s.writeAtomic(filename, conv); err != nil {
		return err
	}
	return s.removeStaleFile(conv.ID, filename)
}

// removeStaleFile deletes any existing file for this conversation id whose
// name no longer matches the current title (any name other than keep), so
// renames don't leave orphans.
func (s *Store) removeStaleFile(conversationID, keep string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.KindServerError, fmt.Sprintf("store: read dir %q", s.dir), err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if e.Name() == keep || !strings.HasSuffix(e.Name(), "_"+conversationID+".json") {
			continue
		}
		return os.Remove(filepath.Join(s.dir, e.Name()))
	}
	return nil
}

func (s *Store) writeAtomic(filename string, conv *types.Conversation) error {
	target := filepath.Join(s.dir, filename)
	tmp, err := os.CreateTemp(s.dir, ".tmp-conv-*")
	if err != nil {
		return errs.New(errs.KindServerError, "store: create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(conv); err != nil {
		tmp.Close()
		return errs.New(errs.KindServerError, "store: encode conversation", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.KindServerError, "store: fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.KindServerError, "store: close temp file", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return errs.New(errs.KindServerError, "store: rename into place", err)
	}
	return nil
}

// Rename updates a conversation's title, saves it in place, and renames its
// file if the derived filename changed.
func (s *Store) Rename(ctx context.Context, identifier, newTitle string) (*types.Conversation, error) {
	conv, err := s.Load(ctx, identifier)
	if err != nil {
		return nil, err
	}
	conv.Metadata.Title = newTitle
	if err := s.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Duplicate deep-copies a conversation with freshly generated message ids,
// rewriting parent_id/children and active_leaf to match, and a new
// conversation id. The copy is not saved; callers decide when to persist it.
func (s *Store) Duplicate(ctx context.Context, sourceIdentifier string, newTitle string) (*types.Conversation, error) {
	src, err := s.Load(ctx, sourceIdentifier)
	if err != nil {
		return nil, err
	}

	idMap := make(map[string]string, len(src.Messages))
	for oldID := range src.Messages {
		idMap[oldID] = uuid.NewString()
	}

	now := time.Now().UTC()
	copied := &types.Conversation{
		ID: uuid.NewString(),
		Metadata: types.Metadata{
			Title:               titleOrDefault(newTitle, src.Metadata.Title),
			CreatedAt:           now,
			UpdatedAt:           now,
			ActiveBranch:        src.Metadata.ActiveBranch,
			Model:               src.Metadata.Model,
			Params:              src.Metadata.Params,
			SystemInstruction:   src.Metadata.SystemInstruction,
			StreamingPreference: src.Metadata.StreamingPreference,
		},
		Messages: make(map[string]*types.Message, len(src.Messages)),
		Branches: make(map[string]*types.BranchInfo, len(src.Branches)),
	}

	var newest *types.Message
	for oldID, m := range src.Messages {
		clone := *m
		clone.ID = idMap[oldID]
		if m.ParentID != nil {
			if mapped, ok := idMap[*m.ParentID]; ok {
				clone.ParentID = &mapped
			}
		}
		clone.Children = make([]string, 0, len(m.Children))
		for _, childID := range m.Children {
			if mapped, ok := idMap[childID]; ok {
				clone.Children = append(clone.Children, mapped)
			}
		}
		copied.Messages[clone.ID] = &clone
		if newest == nil || clone.Timestamp.After(newest.Timestamp) {
			newest = &clone
		}
	}

	for branchID, info := range src.Branches {
		mappedLast := info.LastMessageID
		if mapped, ok := idMap[info.LastMessageID]; ok {
			mappedLast = mapped
		}
		copied.Branches[branchID] = &types.BranchInfo{
			CreatedAt:     info.CreatedAt,
			LastMessageID: mappedLast,
			MessageCount:  info.MessageCount,
		}
	}

	if src.Metadata.ActiveLeaf != nil {
		if mapped, ok := idMap[*src.Metadata.ActiveLeaf]; ok {
			copied.Metadata.ActiveLeaf = &mapped
		}
	}
	if copied.Metadata.ActiveLeaf == nil && newest != nil {
		copied.Metadata.ActiveLeaf = &newest.ID
	}

	return copied, nil
}

func titleOrDefault(newTitle, sourceTitle string) string {
	if newTitle != "" {
		return newTitle
	}
	return sourceTitle + " (Copy)"
}

// Delete removes a conversation's file if present.
func (s *Store) Delete(ctx context.Context, identifier string) error {
	path, err := s.resolve(identifier)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.KindServerError, fmt.Sprintf("store: delete %q", path), err)
	}
	return nil
}

// Export writes conversation identifier's content to w in the requested
// format. JSON writes the native on-disk layout; Markdown flattens the
// active chain into a "## <role>\n<content>\n\n" transcript. Export is
// read-only and has no effect on the store's invariants.
func (s *Store) Export(ctx context.Context, identifier string, w io.Writer, format Format) error {
	conv, err := s.Load(ctx, identifier)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	case FormatMarkdown:
		chain, err := graph.New(conv).Chain(nil)
		if err != nil {
			return err
		}
		for _, m := range chain {
			if _, err := fmt.Fprintf(w, "## %s\n%s\n\n", m.Role, m.Content); err != nil {
				return errs.New(errs.KindServerError, "store: write markdown export", err)
			}
		}
		return nil
	default:
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("store: unknown export format %d", format), nil)
	}
}

func (s *Store) lockFor(conversationID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// deriveTitle mirrors the original client's short-title heuristic: the
// first ~40 characters of the first user message, trimmed to a word
// boundary where possible.
func deriveTitle(conv *types.Conversation) string {
	g := graph.New(conv)
	chain, err := g.Chain(nil)
	if err != nil {
		return ""
	}
	for _, m := range chain {
		if m.Role != types.RoleUser {
			continue
		}
		return truncateTitle(m.Content, 40)
	}
	return ""
}

func truncateTitle(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	truncated := string(runes[:max])
	if i := strings.LastIndexFunc(truncated, unicode.IsSpace); i > 0 {
		truncated = truncated[:i]
	}
	return strings.TrimSpace(truncated) + "…"
}

// filenameFor sanitizes title (whitespace -> '_', strip anything outside
// [A-Za-z0-9_-], lowercase, truncate to 40 chars) and appends the
// conversation id.
func filenameFor(title, conversationID string) string {
	return sanitizeTitle(title) + "_" + conversationID + ".json"
}

func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case r == '_' || r == '-' || isASCIIAlphanumeric(r):
			b.WriteRune(r)
		}
	}
	sanitized := strings.ToLower(b.String())
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	if sanitized == "" {
		sanitized = "conversation"
	}
	return sanitized
}

// isASCIIAlphanumeric reports whether r is an ASCII letter or digit. The
// sanitized filename charset is strictly [A-Za-z0-9_-]; unicode.IsLetter and
// unicode.IsDigit would also admit non-ASCII letters/digits and break that
// contract.
func isASCIIAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
