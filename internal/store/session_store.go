// Package store owns per-participant conversation history.
//
// History is keyed by (conversation id, participant id) and bounded to the most recent
// maxHistory messages; the oldest are dropped first. Nothing outlives the process.
package store

import (
	"context"
	"fmt"
	"sync"

	"bridgebot/internal/logging"
	"bridgebot/internal/types"
)

// SessionStore is the only owner of session history. Callers get snapshots and request
// appends; they never hold references into stored state.
type SessionStore interface {
	// Load returns an independent copy of the participant's history, oldest first.
	Load(ctx context.Context, conversationID, participantID string) ([]types.Message, error)
	// Append records one turn. Calling it twice records two turns.
	Append(ctx context.Context, conversationID, participantID, prompt, reply string) error
	// Clear drops every participant's history under conversationID.
	Clear(ctx context.Context, conversationID string) error
}

// New creates the store selected by backend ("memory" or "sqlite").
func New(backend string, maxHistory int) (SessionStore, error) {
	switch backend {
	case "", "memory":
		return NewMapStore(maxHistory), nil
	case "sqlite":
		return NewSQLiteStore(maxHistory)
	default:
		return nil, fmt.Errorf("unknown memory backend: %s", backend)
	}
}

type sessionKey struct {
	conversationID string
	participantID  string
}

// MapStore keeps history in a mutex-guarded map.
type MapStore struct {
	mu         sync.RWMutex
	maxHistory int
	sessions   map[sessionKey][]types.Message
}

// NewMapStore creates an empty in-process store.
func NewMapStore(maxHistory int) *MapStore {
	return &MapStore{
		maxHistory: maxHistory,
		sessions:   make(map[sessionKey][]types.Message),
	}
}

// Load returns a copy of the participant's history.
func (s *MapStore) Load(_ context.Context, conversationID, participantID string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionKey{conversationID, participantID}]
	snapshot := make([]types.Message, len(history))
	copy(snapshot, history)
	return snapshot, nil
}

// Append adds one (prompt, reply) pair and trims to the bound.
func (s *MapStore) Append(_ context.Context, conversationID, participantID, prompt, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{conversationID, participantID}
	history := append(s.sessions[key], types.Exchange(prompt, reply)...)
	if over := len(history) - s.maxHistory; s.maxHistory > 0 && over > 0 {
		// Copy so the evicted prefix is not pinned by the backing array.
		history = append([]types.Message(nil), history[over:]...)
	}
	s.sessions[key] = history

	logging.MemoryDebug("appended turn: conversation=%s participant=%s size=%d", conversationID, participantID, len(history))
	return nil
}

// Clear removes every key under conversationID.
func (s *MapStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.sessions {
		if key.conversationID == conversationID {
			delete(s.sessions, key)
			removed++
		}
	}
	logging.Memory("cleared conversation %s (%d participants)", conversationID, removed)
	return nil
}
