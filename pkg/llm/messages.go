package llm

import "time"

// Message is one turn of a conversation.
type Message struct {
	Role      string `json:"role" msgpack:"role"`
	Content   string `json:"content" msgpack:"content"`
	Timestamp int64  `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// NewTextMessage creates a message stamped with the current time.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   text,
		Timestamp: time.Now().Unix(),
	}
}

func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// StreamChunk is one increment of a streamed reply. The last chunk of a
// successful stream has IsFinal set; a failed stream ends with a chunk
// whose Err is set.
type StreamChunk struct {
	Text         string
	Thinking     string
	IsFinal      bool
	FinishReason string
	Usage        *Usage
	Err          error
}

// NewTextChunk creates a text increment.
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{Text: text}
}

// NewThinkingChunk creates a reasoning increment.
func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{Thinking: text}
}

// NewFinalChunk ends a stream with its stop reason and usage.
func NewFinalChunk(reason string, usage *Usage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

// NewErrorChunk ends a stream with an error.
func NewErrorChunk(err error) StreamChunk {
	return StreamChunk{IsFinal: true, Err: err}
}
