package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// legacyFile is the old flat "history" on-disk layout.
type legacyFile struct {
	ConversationID string       `json:"conversation_id"`
	History        []legacyItem `json:"history"`
}

type legacyItem struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type legacyMetadataContent struct {
	Title string `json:"title"`
}

type legacyMessageContent struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// readConversationFile decodes a conversation file, accepting both the
// current layout (top-level "messages") and the legacy flat-history layout
// (top-level "history"). Legacy files are converted in memory; the source
// file on disk is left untouched until the next Save.
func readConversationFile(path string) (*types.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindServerError, fmt.Sprintf("store: read %q", path), err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errs.New(errs.KindConversationCorrupt, fmt.Sprintf("store: %q is not valid JSON", path), err)
	}

	if _, hasHistory := probe["history"]; hasHistory {
		var legacy legacyFile
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, errs.New(errs.KindConversationCorrupt, fmt.Sprintf("store: %q has malformed legacy layout", path), err)
		}
		return convertLegacy(legacy), nil
	}

	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, errs.New(errs.KindConversationCorrupt, fmt.Sprintf("store: %q has malformed conversation layout", path), err)
	}
	if conv.Messages == nil {
		return nil, errs.New(errs.KindConversationCorrupt, fmt.Sprintf("store: %q has no messages", path), nil)
	}
	return &conv, nil
}

func convertLegacy(legacy legacyFile) *types.Conversation {
	title := defaultTitle
	var messages []graph.LegacyMessage
	for _, item := range legacy.History {
		switch item.Type {
		case "metadata":
			var md legacyMetadataContent
			if json.Unmarshal(item.Content, &md) == nil && md.Title != "" {
				title = md.Title
			}
		case "message":
			var mc legacyMessageContent
			if json.Unmarshal(item.Content, &mc) == nil {
				messages = append(messages, graph.LegacyMessage{Role: mc.Role, Content: mc.Text})
			}
		}
	}

	id := legacy.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	return graph.FromLegacy(id, title, messages)
}
