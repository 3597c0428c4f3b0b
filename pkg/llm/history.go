package llm

import (
	"sync"
)

// DefaultHistoryLimit is the number of messages a ChatHistory keeps.
const DefaultHistoryLimit = 30

// ChatHistory keeps a sliding window of a conversation. When the window
// is exceeded the oldest user/assistant pair is dropped, so the history
// never starts with an orphaned reply.
type ChatHistory struct {
	messages []Message
	limit    int
	mu       sync.RWMutex
}

// NewChatHistory creates a history keeping at most limit messages.
func NewChatHistory(limit int) *ChatHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ChatHistory{
		messages: make([]Message, 0),
		limit:    limit,
	}
}

// Add appends messages and trims the window.
func (h *ChatHistory) Add(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
	h.trim()
}

func (h *ChatHistory) trim() {
	for len(h.messages) > h.limit {
		drop := 2
		if len(h.messages) < 2 || h.messages[0].Role != RoleUser || h.messages[1].Role != RoleAssistant {
			drop = 1
		}
		h.messages = h.messages[drop:]
	}
}

// GetMessages returns a copy of the current window.
func (h *ChatHistory) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// Len returns the number of stored messages.
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Reset replaces the window with msgs, trimmed to the limit.
func (h *ChatHistory) Reset(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(make([]Message, 0, len(msgs)), msgs...)
	h.trim()
}
