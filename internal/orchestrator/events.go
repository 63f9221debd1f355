package orchestrator

import (
	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// EventKind identifies which variant of the tagged-union Event is populated.
type EventKind int

const (
	EventStarted EventKind = iota
	EventChunk
	EventUsage
	EventThinkingStep
	EventDone
	EventError
	EventCancelled
	EventNavChanged
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "Started"
	case EventChunk:
		return "Chunk"
	case EventUsage:
		return "Usage"
	case EventThinkingStep:
		return "ThinkingStep"
	case EventDone:
		return "Done"
	case EventError:
		return "Error"
	case EventCancelled:
		return "Cancelled"
	case EventNavChanged:
		return "NavChanged"
	default:
		return "Unknown"
	}
}

// Event is the single type delivered to a worker's subscriber. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	// Started
	ConversationID string
	WorkerID       string
	Model          string

	// Chunk
	Text string

	// Usage / Done
	Usage *types.TokenUsage

	// ThinkingStep
	ThinkingName    string
	ThinkingContent string

	// Done
	FullText   string
	MessageID  string
	ParentID   string
	ResponseID string

	// Error
	ErrKind    errs.Kind
	ErrMessage string

	// Cancelled
	CancelReason string

	// NavChanged
	ActiveLeaf      string
	ActiveBranch    string
	HistorySnapshot []types.Message
}
