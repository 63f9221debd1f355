package graph

import (
	"time"

	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// LegacyMessage is one entry of the old flat "history" layout: a sequence of
// role/content pairs with no branching.
type LegacyMessage struct {
	Role    string
	Content string
}

// FromLegacy converts a flat message history into a conversation tree: the
// flat list becomes a single chain on branch "main", with roles normalized
// through types.NormalizeRole. A system root is synthesised if the history
// does not start with one. The conversion never touches disk; callers
// decide separately whether the result gets written back under the new
// layout.
func FromLegacy(id, title string, history []LegacyMessage) *types.Conversation {
	now := time.Now().UTC()

	var root *types.Message
	start := 0
	if len(history) > 0 && types.NormalizeRole(history[0].Role) == types.RoleSystem {
		root = &types.Message{
			ID:        newID(),
			Role:      types.RoleSystem,
			Content:   history[0].Content,
			Timestamp: now,
			BranchID:  MainBranch,
		}
		start = 1
	} else {
		root = &types.Message{
			ID:        newID(),
			Role:      types.RoleSystem,
			Content:   "You are a helpful assistant.",
			Timestamp: now,
			BranchID:  MainBranch,
		}
	}

	conv := &types.Conversation{
		ID: id,
		Metadata: types.Metadata{
			Title:        title,
			CreatedAt:    now,
			UpdatedAt:    now,
			ActiveBranch: MainBranch,
		},
		Messages: map[string]*types.Message{root.ID: root},
		Branches: map[string]*types.BranchInfo{
			MainBranch: {CreatedAt: now, LastMessageID: root.ID, MessageCount: 1},
		},
	}

	g := New(conv)
	leaf := root.ID
	for _, item := range history[start:] {
		role := types.NormalizeRole(item.Role)
		if role == "" {
			continue
		}
		parentID := leaf
		node := &types.Message{
			ID:        newID(),
			Role:      role,
			Content:   item.Content,
			Timestamp: now,
			ParentID:  &parentID,
			BranchID:  MainBranch,
		}
		if err := g.attach(node); err != nil {
			// A dangling parent here would mean leaf tracking above is
			// broken; it cannot happen since every leaf we reference was
			// just inserted into the same map.
			panic(err)
		}
		leaf = node.ID
	}

	conv.Metadata.ActiveLeaf = &leaf
	return conv
}
