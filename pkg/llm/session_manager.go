package llm

import (
	"sort"
	"sync"
)

// SessionManager holds conversation histories isolated by session id.
type SessionManager struct {
	histories map[string]*ChatHistory
	limit     int
	mu        sync.RWMutex
}

// NewSessionManager creates a manager whose histories keep limit messages.
func NewSessionManager(limit int) *SessionManager {
	return &SessionManager{
		histories: make(map[string]*ChatHistory),
		limit:     limit,
	}
}

// GetHistory retrieves the history of a session, creating it on first use.
func (sm *SessionManager) GetHistory(sessionID string) *ChatHistory {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if ok {
		return h
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Double check under lock
	if h, ok = sm.histories[sessionID]; ok {
		return h
	}
	h = NewChatHistory(sm.limit)
	sm.histories[sessionID] = h
	return h
}

// Snapshot copies every session's messages, for persistence.
func (sm *SessionManager) Snapshot() map[string][]Message {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make(map[string][]Message, len(sm.histories))
	for id, h := range sm.histories {
		out[id] = h.GetMessages()
	}
	return out
}

// Restore replaces all sessions with the given snapshot.
func (sm *SessionManager) Restore(snapshot map[string][]Message) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.histories = make(map[string]*ChatHistory, len(snapshot))
	for id, msgs := range snapshot {
		h := NewChatHistory(sm.limit)
		h.Reset(msgs)
		sm.histories[id] = h
	}
}

// Sessions lists the known session ids in sorted order.
func (sm *SessionManager) Sessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.histories))
	for id := range sm.histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
