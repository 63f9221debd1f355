// Package types defines the shared data model used across the conversation
// graph, provider drivers, orchestrator, and store. These types form the
// lingua franca between packages that must not import one another directly.
package types

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a Message. Only three roles are part of the
// data model; drivers normalize provider-specific aliases down to these.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NormalizeRole collapses accepted input aliases to a canonical Role.
// {human,user}->user; {ai,assistant,model}->assistant; {system,developer}->system.
// Unknown values are returned unchanged so callers can detect and reject them.
func NormalizeRole(raw string) Role {
	switch raw {
	case "user", "human":
		return RoleUser
	case "assistant", "ai", "model":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	default:
		return Role(raw)
	}
}

// Attachment is an opaque file attached to a user message. The core never
// inspects or tokenizes attachment content beyond what TokenCount reports;
// preprocessing is an external collaborator's responsibility.
type Attachment struct {
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}

// TokenUsage is the uniform usage record every driver returns, regardless of
// the wire names (input_tokens/output_tokens, etc.) the provider itself uses.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// ReasoningTokens is non-zero only for providers that expose a distinct
	// reasoning/thinking token count; of the shipped drivers, only DeepSeek's
	// non-streaming Generate sets it.
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Message is an immutable-after-creation node in a conversation's DAG.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ParentID is nil only for the conversation root.
	ParentID *string `json:"parent_id"`
	BranchID string  `json:"branch_id"`

	// Children is ordered by insertion (creation order); used for sibling
	// navigation.
	Children []string `json:"children"`

	// Model, Params, and TokenUsage are populated for assistant nodes only.
	Model      string         `json:"model,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	TokenUsage *TokenUsage    `json:"token_usage,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// ResponseID is the provider-supplied correlation id for assistant nodes.
	ResponseID string `json:"response_id,omitempty"`

	// Truncated marks an assistant node finalised from a mid-stream error or
	// a cancellation with partial accumulated text.
	Truncated bool `json:"truncated,omitempty"`
}

// BranchInfo tracks bookkeeping for one branch label.
type BranchInfo struct {
	CreatedAt     time.Time `json:"created_at"`
	LastMessageID string    `json:"last_message"`
	MessageCount  int       `json:"message_count"`
}

// Metadata is the conversation-level bookkeeping block that mirrors the
// active session's model/params so a reload can resume generation as-is.
type Metadata struct {
	Title                string         `json:"title"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	ActiveBranch         string         `json:"active_branch"`
	ActiveLeaf           *string        `json:"active_leaf"`
	Model                string         `json:"model,omitempty"`
	Params               map[string]any `json:"params,omitempty"`
	SystemInstruction    string         `json:"system_instruction,omitempty"`
	StreamingPreference  *bool          `json:"streaming_preference,omitempty"`
}

// Conversation is a persistent, multi-rooted DAG of Messages plus the
// bookkeeping needed to resolve the active chain and branch set.
type Conversation struct {
	ID       string                 `json:"conversation_id"`
	Metadata Metadata               `json:"metadata"`
	Messages map[string]*Message    `json:"messages"`
	Branches map[string]*BranchInfo `json:"branches,omitempty"`

	// Extra holds any top-level JSON keys this type does not model. The
	// store's writers must preserve unknown keys on round-trip, so Load
	// populates this from whatever a file carries beyond the known schema
	// and Save writes it back out untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// conversationAlias mirrors Conversation's known fields for (un)marshaling
// without recursing into Conversation's own custom methods.
type conversationAlias struct {
	ID       string                 `json:"conversation_id"`
	Metadata Metadata               `json:"metadata"`
	Messages map[string]*Message    `json:"messages"`
	Branches map[string]*BranchInfo `json:"branches,omitempty"`
}

// MarshalJSON merges Extra's unknown keys alongside the known fields so a
// load-modify-save round-trip never silently drops data a newer writer
// added.
func (c Conversation) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(conversationAlias{ID: c.ID, Metadata: c.Metadata, Messages: c.Messages, Branches: c.Branches})
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+4)
	for k, v := range c.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes everything else in
// Extra.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var alias conversationAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	c.ID, c.Metadata, c.Messages, c.Branches = alias.ID, alias.Metadata, alias.Messages, alias.Branches

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"conversation_id", "metadata", "messages", "branches"} {
		delete(raw, known)
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// TreeNode is a flattened view of a Message for Conversation.Tree().
type TreeNode struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	ContentPreview  string    `json:"content_preview"`
	Timestamp       time.Time `json:"timestamp"`
	BranchID        string    `json:"branch_id"`
	Model           string    `json:"model,omitempty"`
	IsActiveLeaf    bool      `json:"is_active_leaf"`
}

// TreeEdge is a parent->child edge for Conversation.Tree().
type TreeEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Tree is the rendering-friendly projection of a conversation's graph.
type Tree struct {
	Nodes    []TreeNode `json:"nodes"`
	Edges    []TreeEdge `json:"edges"`
	Metadata Metadata   `json:"metadata"`
}

// Summary is a lightweight listing row produced by the store. The store
// decodes each conversation file in full to build it; MessageCount is the
// number of messages in that file.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"created_at"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
}

// Siblings is the result of resolving a node's alternative set, used by
// retry navigation.
type Siblings struct {
	List     []string
	Index    int
	ParentID *string
}
