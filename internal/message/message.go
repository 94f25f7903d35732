// Package message defines the immutable Message record shared by every
// layer of the agent loop: the conversation log, the context pipeline,
// the LLM adapter, and the session machine.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Role is a closed sum type for message authorship, replacing the
// donor's ad-hoc role strings with a type the compiler can check.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolFormat selects how a ToolUse is rendered back into message text.
type ToolFormat string

const (
	FormatMarkdown ToolFormat = "markdown"
	FormatXML      ToolFormat = "xml"
	FormatTool     ToolFormat = "tool"
)

// Message is an immutable record in a conversation log. Equality is by
// content+role+timestamp, per the data model: ID exists purely so other
// components (session event index, tool-call bookkeeping) can address a
// message without relying on position, which shifts under Undo/Fork.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	Files      []string   `json:"files,omitempty"`
	Pinned     bool       `json:"pinned,omitempty"`
	Hide       bool       `json:"hide,omitempty"`
	Quiet      bool       `json:"quiet,omitempty"`
	CallID     string     `json:"call_id,omitempty"`
	ToolFormat ToolFormat `json:"tool_format,omitempty"`
}

// New builds a Message with a fresh ID and the given timestamp. Callers
// that need strict monotonic ordering (the log's append invariant) should
// pass a timestamp no earlier than the previous message's.
func New(role Role, content string, ts time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}

// Equal implements the spec's equality rule: content+role+timestamp,
// deliberately excluding ID and the advisory flags.
func (m Message) Equal(other Message) bool {
	return m.Role == other.Role &&
		m.Content == other.Content &&
		m.Timestamp.Equal(other.Timestamp)
}

// IsToolResult reports whether this message carries a tool result tied
// back to a prior assistant tool-call.
func (m Message) IsToolResult() bool {
	return m.Role == RoleTool && m.CallID != ""
}
