package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is an auxiliary record of a tool invocation attached to an
// assistant turn, kept in the order the hub delivered it relative to the
// text chunks.
type ToolCall struct {
	Tool   string
	Input  string
	Output string
}

// Message is one finished turn in a conversation. Messages are immutable once
// appended to the log; a streaming assistant reply only becomes a Message
// when its stream completes.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	ToolCalls []ToolCall
}

func newMessage(role Role, content string, toolCalls []ToolCall) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		ToolCalls: append([]ToolCall(nil), toolCalls...),
	}
}
