// Package agentloop implements the CLI control loop of spec.md §4.6: a
// blocking prompt/stream/execute cycle driven by a LogManager, an
// llm.Adapter, and a tool.Registry, grounded on the donor's
// internal/agent/loop.go phase-based state machine (streamPhase,
// executeToolsPhase, continuePhase), adapted from nexus's async
// multi-provider loop to this project's synchronous markdown/XML
// tool-use wire forms.
package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilnai/kiln/internal/codeblock"
	kctx "github.com/kilnai/kiln/internal/context"
	"github.com/kilnai/kiln/internal/convo"
	"github.com/kilnai/kiln/internal/fswatch"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// InterruptMarker is appended to a partial assistant message when
// streaming is cancelled mid-flight (spec.md §4.6's interrupt handling,
// testable property 6).
const InterruptMarker = "\n\n[INTERRUPT_CONTENT]"

// abortedMarker is appended when the user declines a pending tool-use.
const abortedMarker = "tool execution aborted by user"

// modifyingTools is spec.md §4.6's "file-modifying tool" set consulted
// by the pre-tool modification check.
var modifyingTools = map[string]bool{"save": true, "patch": true, "append": true}

// PromptFunc blocks for the next user line; ok is false when the input
// source is exhausted (EOF), ending the loop.
type PromptFunc func(ctx context.Context) (content string, ok bool)

// Config wires the loop to its collaborators.
type Config struct {
	Log        *convo.LogManager
	Registry   *tool.Registry
	Adapter    llm.Adapter
	Model      llm.ModelInfo
	Confirm    tool.ConfirmFunc
	Workspace  string
	ToolFormat message.ToolFormat
	Prompt     PromptFunc
	FileCache  *fswatch.Cache
	Estimator  kctx.Estimator

	// PreCommit runs external pre-commit checks; its non-empty output is
	// appended as a system message (spec.md §4.6's pre-tool modification
	// check). A nil PreCommit disables the check entirely.
	PreCommit func(ctx context.Context) (string, error)
}

// Loop drives one conversation's CLI control loop.
type Loop struct {
	cfg Config
}

// New builds a Loop, applying the estimator fallback internal/context
// already establishes for the assembly pipeline.
func New(cfg Config) *Loop {
	if cfg.Estimator == nil {
		cfg.Estimator = kctx.DefaultEstimator
	}
	return &Loop{cfg: cfg}
}

// Run drives the loop until Prompt reports EOF or ctx is cancelled
// outside of a step (a step's own cancellation is handled internally
// per the interrupt contract and does not end Run).
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Step runs spec.md §4.6's algorithm once: obtain a prompt if one is
// needed, assemble context, stream a reply, execute any tool-uses it
// contains, and keep chaining (without a fresh prompt) while the
// assistant keeps emitting runnable tools. It returns more=false when
// the prompt source is exhausted.
func (l *Loop) Step(ctx context.Context) (more bool, err error) {
	if l.needsPrompt() {
		content, ok := l.cfg.Prompt(ctx)
		if !ok {
			return false, nil
		}
		if err := l.cfg.Log.Append(message.New(message.RoleUser, content, time.Now().UTC())); err != nil {
			return false, fmt.Errorf("agentloop: append user message: %w", err)
		}
	}

	var executed []string
	for {
		output, native, interrupted, err := l.streamReply(ctx)
		if err != nil {
			return false, err
		}
		assistant := message.New(message.RoleAssistant, output, time.Now().UTC())
		if err := l.cfg.Log.Append(assistant); err != nil {
			return false, fmt.Errorf("agentloop: append assistant message: %w", err)
		}
		if interrupted {
			return true, nil
		}

		toolUses := l.parseToolUses(output, native)
		if len(toolUses) == 0 {
			l.runPreCommitCheck(ctx, executed)
			return true, nil
		}

		produced, chained, names, err := l.executeToolUses(ctx, toolUses)
		executed = append(executed, names...)
		if err != nil {
			return false, err
		}
		if !produced {
			return true, nil
		}
		if !chained {
			l.runPreCommitCheck(ctx, executed)
			return true, nil
		}
		// A runnable tool remains in the chain: loop back to streaming
		// without requesting a new prompt (spec.md §4.6 step 6, "loop
		// back to (3)").
	}
}

// needsPrompt implements step 1's condition: the last message is a user
// message (or interruption marker), or the log holds no user messages
// at all.
func (l *Loop) needsPrompt() bool {
	log := l.cfg.Log.Log()
	if len(log.Messages) == 0 {
		return true
	}
	last := log.Messages[len(log.Messages)-1]
	if last.Role == message.RoleUser {
		return true
	}
	if strings.HasSuffix(last.Content, InterruptMarker) {
		return true
	}
	for _, m := range log.Messages {
		if m.Role == message.RoleUser {
			return false
		}
	}
	return true
}

// streamReply assembles context and consumes the adapter's stream,
// stopping as soon as a complete runnable tool-use appears (step 3) or
// the stream ends. native accumulates any provider-native tool calls
// surfaced via Chunk.Call.
func (l *Loop) streamReply(ctx context.Context) (output string, native []codeblock.ToolUse, interrupted bool, err error) {
	assembled := l.assemble()
	chunks, errs := l.cfg.Adapter.ChatOrStream(ctx, assembled, l.cfg.Model, l.cfg.Registry.AvailableTools())

	var buf strings.Builder
	sawNewline := false

	for {
		select {
		case <-ctx.Done():
			buf.WriteString(InterruptMarker)
			return buf.String(), native, true, nil

		case chunk, ok := <-chunks:
			if !ok {
				return buf.String(), native, false, drainErr(errs)
			}
			if chunk.Call != nil {
				native = append(native, codeblock.FromNative(codeblock.NativeToolCall{
					CallID: chunk.Call.CallID,
					Name:   chunk.Call.Name,
					Input:  chunk.Call.Input,
				}))
			}
			buf.WriteString(chunk.Text)
			if strings.Contains(chunk.Text, "\n") {
				sawNewline = true
			}
			if sawNewline && l.hasRunnableToolUse(buf.String(), native) {
				drainRemaining(chunks)
				return buf.String(), native, false, drainErr(errs)
			}

		case err, ok := <-errs:
			if ok && err != nil {
				return buf.String(), native, false, err
			}
		}
	}
}

func drainErr(errs <-chan error) error {
	select {
	case err, ok := <-errs:
		if ok {
			return err
		}
	default:
	}
	return nil
}

// drainRemaining discards anything still buffered on chunks so the
// adapter's goroutine isn't left blocked on a send after the loop stops
// consuming (spec.md §4.6 step 3: "do not consume further tokens").
func drainRemaining(chunks <-chan llm.Chunk) {
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (l *Loop) hasRunnableToolUse(output string, native []codeblock.ToolUse) bool {
	for _, tu := range native {
		if l.cfg.Registry.IsRunnable(tu) {
			return true
		}
	}
	for _, tu := range l.parseMarkdownOrXML(output) {
		if l.cfg.Registry.IsRunnable(tu) {
			return true
		}
	}
	return false
}

func (l *Loop) parseToolUses(output string, native []codeblock.ToolUse) []codeblock.ToolUse {
	if l.cfg.ToolFormat == message.FormatTool {
		return native
	}
	return l.parseMarkdownOrXML(output)
}

func (l *Loop) parseMarkdownOrXML(output string) []codeblock.ToolUse {
	if l.cfg.ToolFormat == message.FormatXML {
		if tus, err := codeblock.ParseXML(output); err == nil {
			return tus
		}
		return nil
	}
	return codeblock.ParseMarkdown(output, l.cfg.Registry.LangResolver())
}

// assemble builds the prompt message list via internal/context,
// refreshing the fresh-context block from the file-mention cache when
// one is configured.
func (l *Loop) assemble() []message.Message {
	log := l.cfg.Log.Log()

	var fresh string
	if l.cfg.FileCache != nil {
		fresh = kctx.BuildFreshContext(kctx.FreshContextOptions{
			Workspace: l.cfg.Workspace,
			FileCache: l.cfg.FileCache,
		})
	}

	return kctx.Assemble(log.Messages, kctx.AssembleOptions{
		Model:        kctx.ModelInfo{ID: l.cfg.Model.ID, Context: l.cfg.Model.Context},
		Estimate:     l.cfg.Estimator,
		FreshContext: fresh,
	})
}

// executeToolUses runs step 5: dispatch, append every yielded message.
// Confirmation happens inside the tool's own Execute (spec.md §4.3:
// "call spec.execute(content, args, kwargs, confirm)"); a tool that
// yields nothing is therefore read as the user having declined, and the
// loop appends the aborted marker itself and stops processing the rest
// of this batch (spec.md §4.6 step 5: "if false, append a system
// 'aborted' message and stop"). produced reports whether any tool
// actually ran. chained reports whether the last tool executed is
// itself runnable again, i.e. whether to loop back to streaming without
// a fresh prompt — mirroring the donor's continuePhase.
func (l *Loop) executeToolUses(ctx context.Context, toolUses []codeblock.ToolUse) (produced, chained bool, executed []string, err error) {
	for i, tu := range toolUses {
		if !l.cfg.Registry.IsRunnable(tu) {
			continue
		}

		out, dispatchErr := tool.Dispatch(ctx, l.cfg.Registry, tu, l.cfg.Confirm)
		if dispatchErr != nil {
			if err := l.cfg.Log.Append(message.New(message.RoleSystem, dispatchErr.Error(), time.Now().UTC())); err != nil {
				return produced, false, executed, fmt.Errorf("agentloop: append invocation error: %w", err)
			}
			continue
		}

		ranAny := false
		for msg := range out {
			if msg.Role == "" {
				msg.Role = message.RoleTool
			}
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			if msg.CallID == "" {
				msg.CallID = tu.CallID
			}
			if err := l.cfg.Log.Append(msg); err != nil {
				return produced, false, executed, fmt.Errorf("agentloop: append tool message: %w", err)
			}
			produced = true
			ranAny = true
		}

		if !ranAny {
			if err := l.cfg.Log.Append(message.New(message.RoleSystem, abortedMarker, time.Now().UTC())); err != nil {
				return produced, false, executed, fmt.Errorf("agentloop: append aborted marker: %w", err)
			}
			return produced, false, executed, nil
		}

		executed = append(executed, tu.Tool)
		chained = i == len(toolUses)-1
	}
	return produced, chained, executed, nil
}

// runPreCommitCheck implements spec.md §4.6's pre-tool modification
// check: when a file-modifying tool ran among the ≤3 most recently
// executed tools in this turn and PreCommit is configured, its output
// (if non-empty) is appended as a system message.
func (l *Loop) runPreCommitCheck(ctx context.Context, executed []string) {
	if l.cfg.PreCommit == nil || !recentModifyingToolUse(executed) {
		return
	}
	output, err := l.cfg.PreCommit(ctx)
	if err != nil || strings.TrimSpace(output) == "" {
		return
	}
	_ = l.cfg.Log.Append(message.New(message.RoleSystem, output, time.Now().UTC()))
}

// recentModifyingToolUse checks the last ≤3 tools executed since the
// last user message for a file-modifying tool (save/patch/append).
func recentModifyingToolUse(executed []string) bool {
	start := 0
	if len(executed) > 3 {
		start = len(executed) - 3
	}
	for _, name := range executed[start:] {
		if modifyingTools[name] {
			return true
		}
	}
	return false
}
