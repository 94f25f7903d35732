// Package convo implements the conversation log and its on-disk
// persistence (spec.md §4.1): an ordered, append-only sequence of
// messages per conversation directory, with branching, undo, and fork.
package convo

import (
	"errors"
	"fmt"

	"github.com/kilnai/kiln/internal/message"
)

// MainBranch is the designated default branch name.
const MainBranch = "main"

// ErrNotFound is returned by Load when the conversation directory does
// not contain a conversation.jsonl.
var ErrNotFound = errors.New("convo: conversation not found")

// ErrAlreadyExists is returned by Create when the conversation
// directory already holds a conversation.
var ErrAlreadyExists = errors.New("convo: conversation already exists")

// ParseError reports a malformed line encountered while loading a log,
// naming the offending line so the failure is debuggable (spec.md §4.1:
// "never silently truncate").
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("convo: malformed message at line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Log is the in-memory conversation: an ordered Message sequence plus
// the workspace it operates against. The first message is always a
// system prompt once the log has been created via Create.
type Log struct {
	Workspace string
	Messages  []message.Message
}

// GetLastCodeBlock returns the content of the last fenced codeblock
// found in the most recent message matching role (or any role, if role
// is nil), scanning backward. It returns ("", false) if none is found.
func (l Log) GetLastCodeBlock(role *message.Role) (string, bool) {
	for i := len(l.Messages) - 1; i >= 0; i-- {
		m := l.Messages[i]
		if role != nil && m.Role != *role {
			continue
		}
		if cb, ok := lastCodeblock(m.Content); ok {
			return cb, true
		}
	}
	return "", false
}
