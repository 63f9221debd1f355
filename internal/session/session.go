// Package session holds the process-scoped active-conversation record: the
// current model, generation params, system instruction, and streaming
// preference a new Submit/Retry call picks up by default. It is mutated only
// through explicit setters, mirroring the session/context bookkeeping the
// teacher's agent orchestrator keeps alongside its conversation state.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/internal/store"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// Session is safe for concurrent use. Exported methods hold the lock only
// while reading or writing session fields; every save runs after the lock is
// released (synchronously in Switch and StartNew, in the background for the
// setters).
type Session struct {
	st *store.Store

	mu                sync.Mutex
	conv              *types.Conversation
	model             string
	params            llm.ParamSet
	systemInstruction string
	streaming         bool
}

// New creates a Session with no active conversation, backed by st for the
// quiet-save side effect of the setters.
func New(st *store.Store, defaultModel string, defaultParams llm.ParamSet, defaultSystemInstruction string, defaultStreaming bool) *Session {
	return &Session{
		st:                st,
		model:             defaultModel,
		params:            defaultParams,
		systemInstruction: defaultSystemInstruction,
		streaming:         defaultStreaming,
	}
}

// Active returns the current conversation, or nil if none is active.
func (s *Session) Active() *types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Model returns the session's current default model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Params returns the session's current default generation params.
func (s *Session) Params() llm.ParamSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SystemInstruction returns the session's current default system prompt.
func (s *Session) SystemInstruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemInstruction
}

// Streaming returns the session's current streaming preference.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Switch saves the previous active conversation (if any), then makes conv
// the new active conversation. It does not change the session's model,
// params, or system instruction defaults — callers that want those to track
// the newly active conversation should read conv.Metadata themselves and
// call the corresponding setter.
func (s *Session) Switch(ctx context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	prev := s.conv
	s.conv = conv
	s.mu.Unlock()

	if prev == nil || prev.ID == conv.ID {
		return nil
	}
	return s.st.Save(ctx, prev)
}

// SetModel updates the session's default model, writes it into the active
// conversation's metadata if one is active, and schedules a quiet save.
func (s *Session) SetModel(ctx context.Context, model string) {
	s.mu.Lock()
	s.model = model
	conv := s.conv
	if conv != nil {
		conv.Metadata.Model = model
	}
	s.mu.Unlock()

	s.quietSave(ctx, conv)
}

// SetParams updates the session's default generation params, writes them
// into the active conversation's metadata if one is active, and schedules a
// quiet save.
func (s *Session) SetParams(ctx context.Context, params llm.ParamSet) {
	s.mu.Lock()
	s.params = params
	conv := s.conv
	if conv != nil {
		conv.Metadata.Params = params
	}
	s.mu.Unlock()

	s.quietSave(ctx, conv)
}

// SetSystemInstruction updates the session's default system prompt, writes
// it into the active conversation's metadata if one is active, and
// schedules a quiet save.
func (s *Session) SetSystemInstruction(ctx context.Context, instruction string) {
	s.mu.Lock()
	s.systemInstruction = instruction
	conv := s.conv
	if conv != nil {
		conv.Metadata.SystemInstruction = instruction
	}
	s.mu.Unlock()

	s.quietSave(ctx, conv)
}

// SetStreaming updates the session's streaming preference, writes it into
// the active conversation's metadata if one is active, and schedules a
// quiet save.
func (s *Session) SetStreaming(ctx context.Context, streaming bool) {
	s.mu.Lock()
	s.streaming = streaming
	conv := s.conv
	if conv != nil {
		conv.Metadata.StreamingPreference = &streaming
	}
	s.mu.Unlock()

	s.quietSave(ctx, conv)
}

// StartNew creates, activates, and persists a brand-new conversation seeded
// from the session's current defaults, saving any previously active
// conversation first.
func (s *Session) StartNew(ctx context.Context, id, title string) (*types.Conversation, error) {
	s.mu.Lock()
	systemInstruction := s.systemInstruction
	model := s.model
	params := s.params
	streaming := s.streaming
	s.mu.Unlock()

	conv := graph.NewConversation(id, title, systemInstruction)
	conv.Metadata.Model = model
	conv.Metadata.Params = params
	conv.Metadata.StreamingPreference = &streaming

	if err := s.Switch(ctx, conv); err != nil {
		return nil, err
	}
	if err := s.st.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// quietSave persists conv in the background, logging any failure rather
// than propagating it: a metadata-setter's caller should not block on, or
// fail because of, a save that a later explicit Save can retry.
func (s *Session) quietSave(ctx context.Context, conv *types.Conversation) {
	if conv == nil {
		return
	}
	go func() {
		if err := s.st.Save(context.WithoutCancel(ctx), conv); err != nil {
			slog.Warn("session: quiet save failed", "conversation_id", conv.ID, "error", err)
		}
	}()
}
