// Package tool implements the tool registry and dispatch machinery of
// spec.md §4.3: a process-wide ordered set of ToolSpecs, each able to
// parse its own invocation syntax (via internal/codeblock) and execute
// it as a cooperative iterator of reply messages.
package tool

import (
	"context"

	"github.com/kilnai/kiln/internal/message"
)

// Parameter documents one named argument a tool accepts, used both for
// prompt generation and for deriving a JSON Schema (see schema.go).
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ConfirmFunc asks the user (or an auto-confirm policy) whether a
// pending invocation should proceed.
type ConfirmFunc func(prompt string) bool

// Invocation is the parsed call handed to a tool's Execute function,
// independent of which wire form (markdown/XML/native) produced it.
type Invocation struct {
	Content string
	Args    []string
	Kwargs  map[string]string
}

// ExecuteFunc runs one invocation and yields zero, one, or many reply
// messages on the returned channel. Implementations must close the
// channel when done and must honor ctx cancellation as a cooperative
// checkpoint between yields (spec.md §5, §9's cancellation token note).
type ExecuteFunc func(ctx context.Context, in Invocation, confirm ConfirmFunc) <-chan message.Message

// InitFunc probes a capability (binary present, credentials set, …) at
// registration time. A non-nil error marks the tool unavailable but
// does not remove it from the registry (spec.md §4.3 step 4).
type InitFunc func() error

// Spec is the immutable, process-wide tool specification record.
type Spec struct {
	Name         string
	Description  string
	Instructions string
	Examples     []string
	BlockTypes   []string
	Parameters   []Parameter

	Available bool

	Execute ExecuteFunc
	Init    InitFunc
}

// MatchesLangtag reports whether lang routes to this tool, either
// because it names the tool directly or because it's listed as one of
// the tool's registered block_types.
func (s Spec) MatchesLangtag(lang string) bool {
	if lang == s.Name {
		return true
	}
	for _, bt := range s.BlockTypes {
		if bt == lang {
			return true
		}
	}
	return false
}
