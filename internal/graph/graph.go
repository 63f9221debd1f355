// Package graph implements the conversation graph engine: a persistent,
// branching tree of messages with sibling retries and active-leaf
// bookkeeping. A Graph wraps a single *types.Conversation and is the only
// code path allowed to mutate it; callers (the orchestrator, the session
// layer) never touch conversation fields directly.
package graph

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// MainBranch is the branch id every conversation starts on.
const MainBranch = "main"

const previewLen = 50

// Graph is a thread-unsafe view over a single conversation. Callers that
// share a conversation across goroutines (the orchestrator does, one worker
// at a time per conversation) serialize access externally; see the
// per-conversation lock discipline in internal/orchestrator.
type Graph struct {
	conv *types.Conversation
}

// New wraps an existing conversation for mutation.
func New(conv *types.Conversation) *Graph {
	return &Graph{conv: conv}
}

// Conversation returns the wrapped conversation.
func (g *Graph) Conversation() *types.Conversation { return g.conv }

// NewConversation creates a fresh conversation rooted at a system message,
// on branch "main", with the system message as the active leaf.
func NewConversation(id, title, systemInstruction string) *types.Conversation {
	now := time.Now().UTC()
	root := &types.Message{
		ID:        newID(),
		Role:      types.RoleSystem,
		Content:   systemInstruction,
		Timestamp: now,
		BranchID:  MainBranch,
	}
	leaf := root.ID
	conv := &types.Conversation{
		ID: id,
		Metadata: types.Metadata{
			Title:             title,
			CreatedAt:         now,
			UpdatedAt:         now,
			ActiveBranch:      MainBranch,
			ActiveLeaf:        &leaf,
			SystemInstruction: systemInstruction,
		},
		Messages: map[string]*types.Message{root.ID: root},
		Branches: map[string]*types.BranchInfo{
			MainBranch: {CreatedAt: now, LastMessageID: root.ID, MessageCount: 1},
		},
	}
	return conv
}

// AddUser appends a user message as a child of the current active leaf, on
// the active branch, and advances active_leaf to it.
func (g *Graph) AddUser(content string, attachments []types.Attachment) (*types.Message, error) {
	parentID, err := g.activeLeafID()
	if err != nil {
		return nil, err
	}

	node := &types.Message{
		ID:          newID(),
		Role:        types.RoleUser,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		ParentID:    &parentID,
		BranchID:    g.conv.Metadata.ActiveBranch,
		Attachments: attachments,
	}
	if err := g.attach(node); err != nil {
		return nil, err
	}
	g.setActiveLeaf(node.ID, node.BranchID)
	return node, nil
}

// AddAssistant appends an assistant message. If parentID is nil, the parent
// is the current active leaf. If branchID is nil, the branch is the active
// branch. Sets active_leaf to the new node; if branchID differs from the
// current active_branch, also switches active_branch to it.
func (g *Graph) AddAssistant(content, model string, params map[string]any, usage *types.TokenUsage, responseID string, parentID, branchID *string) (*types.Message, error) {
	resolvedParent := parentID
	if resolvedParent == nil {
		id, err := g.activeLeafID()
		if err != nil {
			return nil, err
		}
		resolvedParent = &id
	}
	if _, ok := g.conv.Messages[*resolvedParent]; !ok {
		return nil, errs.NotFound(fmt.Sprintf("graph: parent %q does not exist", *resolvedParent))
	}

	resolvedBranch := g.conv.Metadata.ActiveBranch
	if branchID != nil {
		resolvedBranch = *branchID
	}

	node := &types.Message{
		ID:         newID(),
		Role:       types.RoleAssistant,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		ParentID:   resolvedParent,
		BranchID:   resolvedBranch,
		Model:      model,
		Params:     params,
		TokenUsage: usage,
		ResponseID: responseID,
	}
	if err := g.attach(node); err != nil {
		return nil, err
	}
	g.setActiveLeaf(node.ID, resolvedBranch)
	return node, nil
}

// CompleteAssistant fills in a placeholder assistant node created by Retry
// once its generation finishes. It is not a graph operation named by the
// conversation contract itself; it exists because Retry must publish the new
// active leaf before the provider call that fills its content returns.
func (g *Graph) CompleteAssistant(nodeID, content, model string, params map[string]any, usage *types.TokenUsage, responseID string) error {
	node, ok := g.conv.Messages[nodeID]
	if !ok {
		return errs.NotFound(fmt.Sprintf("graph: node %q does not exist", nodeID))
	}
	if node.Role != types.RoleAssistant {
		return errs.InvariantViolation(fmt.Sprintf("graph: node %q is not an assistant message", nodeID))
	}
	node.Content = content
	node.Model = model
	node.Params = params
	node.TokenUsage = usage
	node.ResponseID = responseID
	g.conv.Metadata.UpdatedAt = time.Now().UTC()
	return nil
}

// Retry allocates a fresh branch id and creates a new, empty assistant child
// of assistantNodeID's user parent on that branch, making it the active
// leaf. The caller fills its content via CompleteAssistant once the retried
// generation completes.
func (g *Graph) Retry(assistantNodeID string) (*types.Message, error) {
	node, ok := g.conv.Messages[assistantNodeID]
	if !ok {
		return nil, errs.NotFound(fmt.Sprintf("graph: node %q does not exist", assistantNodeID))
	}
	if node.Role != types.RoleAssistant {
		return nil, errs.New(errs.KindInvariantViolation, "graph: retry target is not an assistant message", nil)
	}
	if node.ParentID == nil {
		return nil, errs.New(errs.KindInvariantViolation, "graph: retry target has no parent", nil)
	}

	parentID := *node.ParentID
	branchID := newBranchID()
	child := &types.Message{
		ID:        newID(),
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UTC(),
		ParentID:  &parentID,
		BranchID:  branchID,
	}
	if err := g.attach(child); err != nil {
		return nil, err
	}
	g.setActiveLeaf(child.ID, branchID)
	return child, nil
}

// Siblings returns the sibling list a node belongs to: for an assistant
// node, the children of its user parent (the set of alternative replies);
// for a user node, its own children (the assistant alternatives).
func (g *Graph) Siblings(nodeID string) (types.Siblings, error) {
	node, ok := g.conv.Messages[nodeID]
	if !ok {
		return types.Siblings{}, errs.NotFound(fmt.Sprintf("graph: node %q does not exist", nodeID))
	}

	var list []string
	var parentID *string
	switch node.Role {
	case types.RoleAssistant:
		if node.ParentID == nil {
			list = []string{nodeID}
		} else {
			parent, ok := g.conv.Messages[*node.ParentID]
			if !ok {
				return types.Siblings{}, errs.InvariantViolation(fmt.Sprintf("graph: dangling parent %q", *node.ParentID))
			}
			list = parent.Children
			parentID = node.ParentID
		}
	default:
		list = node.Children
		parentID = node.ParentID
	}

	index := -1
	for i, id := range list {
		if id == nodeID {
			index = i
			break
		}
	}
	return types.Siblings{List: list, Index: index, ParentID: parentID}, nil
}

// Navigate moves the active leaf. direction "none" activates nodeID
// directly. "prev"/"next" cyclically rotate over nodeID's sibling list (tied
// by insertion order) before applying "none" semantics to the chosen
// sibling; with at most one sibling this degenerates to "none" on nodeID
// itself.
func (g *Graph) Navigate(nodeID, direction string) (*types.Message, error) {
	node, ok := g.conv.Messages[nodeID]
	if !ok {
		return nil, errs.NotFound(fmt.Sprintf("graph: node %q does not exist", nodeID))
	}

	target := node
	switch direction {
	case "none", "":
		// activate nodeID itself
	case "prev", "next":
		sib, err := g.Siblings(nodeID)
		if err != nil {
			return nil, err
		}
		if len(sib.List) > 1 && sib.Index >= 0 {
			delta := 1
			if direction == "prev" {
				delta = -1
			}
			n := len(sib.List)
			newIndex := ((sib.Index+delta)%n + n) % n
			chosen, ok := g.conv.Messages[sib.List[newIndex]]
			if !ok {
				return nil, errs.InvariantViolation(fmt.Sprintf("graph: dangling sibling %q", sib.List[newIndex]))
			}
			target = chosen
		}
	default:
		return nil, errs.New(errs.KindBadRequest, fmt.Sprintf("graph: unknown navigate direction %q", direction), nil)
	}

	g.setActiveLeaf(target.ID, target.BranchID)
	return target, nil
}

// Chain walks parent_id from a branch's last message (or the active leaf,
// if branchID is nil) to the root and returns the messages in root-to-leaf
// order — the context an LLM call receives.
func (g *Graph) Chain(branchID *string) ([]types.Message, error) {
	var leafID string
	if branchID == nil {
		id, err := g.activeLeafID()
		if err != nil {
			return nil, err
		}
		leafID = id
	} else {
		b, ok := g.conv.Branches[*branchID]
		if !ok {
			return nil, errs.NotFound(fmt.Sprintf("graph: branch %q does not exist", *branchID))
		}
		leafID = b.LastMessageID
	}
	return g.ChainFrom(leafID)
}

// ChainFrom walks parent_id from the given node id to the root, returning
// the messages in root-to-leaf order. Unlike Chain, the node need not be a
// branch's recorded last message — used by the orchestrator's retry path,
// which resends the chain ending at a user node while a sibling assistant
// placeholder (not yet the branch's last message in the caller's mental
// model) is being generated.
func (g *Graph) ChainFrom(leafID string) ([]types.Message, error) {
	var path []types.Message
	seen := make(map[string]bool)
	cur := leafID
	for cur != "" {
		if seen[cur] {
			return nil, errs.InvariantViolation(fmt.Sprintf("graph: cycle detected at %q", cur))
		}
		seen[cur] = true
		node, ok := g.conv.Messages[cur]
		if !ok {
			return nil, errs.InvariantViolation(fmt.Sprintf("graph: dangling node %q in chain", cur))
		}
		path = append(path, *node)
		if node.ParentID == nil {
			break
		}
		cur = *node.ParentID
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Tree returns the full conversation as a flat node/edge list for rendering,
// ordered by timestamp so callers see creation order regardless of map
// iteration order.
func (g *Graph) Tree() types.Tree {
	ids := make([]string, 0, len(g.conv.Messages))
	for id := range g.conv.Messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return g.conv.Messages[ids[i]].Timestamp.Before(g.conv.Messages[ids[j]].Timestamp)
	})

	activeLeaf := ""
	if g.conv.Metadata.ActiveLeaf != nil {
		activeLeaf = *g.conv.Metadata.ActiveLeaf
	}

	tree := types.Tree{Metadata: g.conv.Metadata}
	for _, id := range ids {
		m := g.conv.Messages[id]
		tree.Nodes = append(tree.Nodes, types.TreeNode{
			ID:             m.ID,
			Role:           m.Role,
			ContentPreview: preview(m.Content),
			Timestamp:      m.Timestamp,
			BranchID:       m.BranchID,
			Model:          m.Model,
			IsActiveLeaf:   m.ID == activeLeaf,
		})
		if m.ParentID != nil {
			tree.Edges = append(tree.Edges, types.TreeEdge{From: *m.ParentID, To: m.ID})
		}
	}
	return tree
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (g *Graph) activeLeafID() (string, error) {
	if g.conv.Metadata.ActiveLeaf == nil {
		return "", errs.InvariantViolation("graph: active_leaf is unset")
	}
	return *g.conv.Metadata.ActiveLeaf, nil
}

func (g *Graph) setActiveLeaf(nodeID, branchID string) {
	g.conv.Metadata.ActiveLeaf = &nodeID
	g.conv.Metadata.ActiveBranch = branchID
	g.conv.Metadata.UpdatedAt = time.Now().UTC()
}

// attach links node into its parent's children, inserts it into the message
// map, and updates its branch's bookkeeping.
func (g *Graph) attach(node *types.Message) error {
	if node.ParentID != nil {
		parent, ok := g.conv.Messages[*node.ParentID]
		if !ok {
			return errs.NotFound(fmt.Sprintf("graph: parent %q does not exist", *node.ParentID))
		}
		parent.Children = append(parent.Children, node.ID)
	}
	g.conv.Messages[node.ID] = node

	branch, ok := g.conv.Branches[node.BranchID]
	if !ok {
		branch = &types.BranchInfo{CreatedAt: node.Timestamp}
		g.conv.Branches[node.BranchID] = branch
	}
	branch.LastMessageID = node.ID
	branch.MessageCount = g.countBranch(node.BranchID)
	return nil
}

// countBranch recomputes a branch's live message count by scanning all
// messages, per the "live count" reading of message_count.
func (g *Graph) countBranch(branchID string) int {
	n := 0
	for _, m := range g.conv.Messages {
		if m.BranchID == branchID {
			n++
		}
	}
	return n
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen]) + "..."
}

func newID() string {
	return uuid.NewString()
}

// newBranchID mints a branch id of the form "branch-" + 8 hex characters.
func newBranchID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable; fall back to a
		// uuid-derived suffix rather than panicking.
		return "branch-" + uuid.NewString()[:8]
	}
	return "branch-" + hex.EncodeToString(buf)
}
