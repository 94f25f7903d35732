package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilnai/kiln/internal/codeblock"
	kctx "github.com/kilnai/kiln/internal/context"
	"github.com/kilnai/kiln/internal/convo"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// InterruptMarker is appended to a partial assistant message when
// generation is cancelled mid-flight (spec.md §4.6/§4.7, testable
// property 6). Kept identical to internal/agentloop's marker text
// since both entry points append it to the same on-disk message
// format; the two packages don't share an import so this is the one
// deliberate small duplication between the CLI and HTTP entry points.
const InterruptMarker = "\n\n[INTERRUPT_CONTENT]"

const editedNote = "(content was edited by user)"

// modifyingTools is spec.md §4.6's "file-modifying tool" set consulted
// by the pre-tool modification check.
var modifyingTools = map[string]bool{"save": true, "patch": true, "append": true}

var (
	// ErrBusy is returned by Step when the session isn't IDLE.
	ErrBusy = errors.New("session: generation already in progress")
	// ErrNotFound is returned by Manager.Get-style lookups.
	ErrNotFound = errors.New("session: not found")
	// ErrToolNotFound is spec.md §7's ToolNotFound: a confirm targeting
	// a tool_id that isn't the current pending one.
	ErrToolNotFound = errors.New("session: tool not found")
)

// Session is the server-side handle over one conversation (spec.md
// §3): it tracks generation state, pending tool confirmations, and SSE
// subscribers, delegating persistence to its LogManager and every
// model/tool/parsing concern to the shared Engine.
type Session struct {
	ID             string
	ConversationID string

	mu           sync.Mutex
	log          *convo.LogManager
	eng          *Engine
	state        State
	lastActivity time.Time
	autoConfirm  int
	pending      []*ToolExecution
	pendingIdx   int
	recentTools  []string
	seq          int64
	clients      map[string]chan Event
	cancel       context.CancelFunc
}

// State reports the session's current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetAutoConfirm sets the auto-confirm counter directly, used by
// POST .../step's optional auto_confirm field.
func (s *Session) SetAutoConfirm(n int) {
	s.mu.Lock()
	s.autoConfirm = n
	s.mu.Unlock()
}

// Subscribe registers a new SSE client, returning a receive-only
// channel of future events and an unsubscribe func the caller must
// invoke when the connection closes.
func (s *Session) Subscribe() (clientID string, ch <-chan Event, unsubscribe func()) {
	id := uuid.NewString()
	c := make(chan Event, 64)
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	return id, c, func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
	}
}

// emit broadcasts ev to every subscriber (non-blocking: a slow client
// drops frames rather than stalling the session, per spec.md §9's "a
// bounded queue per client" allowance) and mirrors it durably if an
// EventSink is configured.
func (s *Session) emit(typ EventType, data any) Event {
	s.mu.Lock()
	s.seq++
	ev := Event{Seq: s.seq, Type: typ, Data: data, Time: time.Now().UTC()}
	clients := make([]chan Event, 0, len(s.clients))
	for _, ch := range s.clients {
		clients = append(clients, ch)
	}
	sink := s.eng.Events
	s.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- ev:
		default:
		}
	}
	if sink != nil {
		_ = sink.Append(context.Background(), s.ID, ev)
	}
	return ev
}

// Step begins one generation (spec.md §4.7: IDLE -> GENERATING). modelID,
// if non-empty, overrides the engine's default model id for this step
// only; capability flags (context window, streaming support) are still
// taken from the engine's model table, since branch-level model
// metadata swaps are out of this version's scope (spec.md §9's
// branches-are-read-mostly resolution).
func (s *Session) Step(ctx context.Context, modelID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateGenerating
	s.lastActivity = time.Now().UTC()
	s.recentTools = nil
	genCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	if s.eng.Metrics != nil {
		s.eng.Metrics.Steps.WithLabelValues("started").Inc()
	}
	s.emit(EventGenerationStarted, nil)
	go s.generate(genCtx, modelID)
	return nil
}

func (s *Session) generate(ctx context.Context, modelID string) {
	eng := s.eng
	model := eng.Model
	if modelID != "" {
		model.ID = modelID
	}

	assembled := s.assemble(model)
	chunks, errs := eng.Adapter.ChatOrStream(ctx, assembled, model, eng.Registry.AvailableTools())

	var buf strings.Builder
	var native []codeblock.ToolUse
	sawNewline := false
	interrupted := false

loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if chunk.Call != nil {
				native = append(native, codeblock.FromNative(codeblock.NativeToolCall{
					CallID: chunk.Call.CallID,
					Name:   chunk.Call.Name,
					Input:  chunk.Call.Input,
				}))
			}
			buf.WriteString(chunk.Text)
			s.emit(EventGenerationProgress, map[string]string{"token": chunk.Text})
			if strings.Contains(chunk.Text, "\n") {
				sawNewline = true
			}
			if eng.BreakOnToolUse && sawNewline && s.hasRunnableToolUse(buf.String(), native) {
				drainRemaining(chunks)
				break loop
			}
		case err, ok := <-errs:
			if ok && err != nil {
				s.mu.Lock()
				s.state = StateIdle
				s.mu.Unlock()
				if eng.Metrics != nil {
					eng.Metrics.Steps.WithLabelValues("error").Inc()
				}
				s.emit(EventError, map[string]string{"error": err.Error()})
				return
			}
		}
	}

	output := buf.String()
	if interrupted {
		output += InterruptMarker
		assistant := message.New(message.RoleAssistant, output, time.Now().UTC())
		_ = s.log.Append(assistant)
		s.mu.Lock()
		s.state = StateIdle
		s.pending = nil
		s.pendingIdx = 0
		s.mu.Unlock()
		if eng.Metrics != nil {
			eng.Metrics.Steps.WithLabelValues("interrupted").Inc()
		}
		s.emit(EventInterrupted, nil)
		return
	}

	assistant := message.New(message.RoleAssistant, output, time.Now().UTC())
	if err := s.log.Append(assistant); err != nil {
		s.emit(EventError, map[string]string{"error": err.Error()})
		return
	}
	s.emit(EventGenerationComplete, map[string]any{"message": assistant})

	toolUses := s.parseToolUses(output, native)
	var pending []*ToolExecution
	for _, tu := range toolUses {
		if !eng.Registry.IsRunnable(tu) {
			continue
		}
		pending = append(pending, &ToolExecution{
			ID:      uuid.NewString(),
			Tool:    tu.Tool,
			Args:    tu.Args,
			Content: tu.Content,
			Kwargs:  tu.Kwargs,
			CallID:  tu.CallID,
			Status:  ToolStatusPending,
		})
	}

	if len(pending) == 0 {
		s.mu.Lock()
		executed := append([]string(nil), s.recentTools...)
		s.state = StateIdle
		s.mu.Unlock()
		if eng.Metrics != nil {
			eng.Metrics.Steps.WithLabelValues("completed").Inc()
		}
		s.runPreCommitCheck(context.Background(), executed)
		return
	}

	s.mu.Lock()
	s.pending = pending
	s.pendingIdx = 0
	s.state = StateToolPending
	s.mu.Unlock()
	s.announcePending(pending[0])
}

// announcePending emits tool_pending for te and, if an auto-confirm
// budget remains, immediately consumes it (spec.md §4.7:
// "auto_confirm_count decrements by 1 each time a TOOL_PENDING is
// auto-consumed").
func (s *Session) announcePending(te *ToolExecution) {
	s.mu.Lock()
	auto := s.autoConfirm > 0
	s.mu.Unlock()

	s.emit(EventToolPending, map[string]any{
		"tool_id": te.ID, "tool": te.Tool, "args": te.Args, "content": te.Content, "auto_confirm": auto,
	})

	if auto {
		s.mu.Lock()
		s.autoConfirm--
		s.mu.Unlock()
		te.AutoConfirm = true
		tu := codeblock.ToolUse{Tool: te.Tool, Args: te.Args, Content: te.Content, Kwargs: te.Kwargs, CallID: te.CallID}
		go s.runToolUse(context.Background(), te, tu)
	}
}

// ConfirmTool advances the TOOL_PENDING FSM state for the current
// pending tool (spec.md §4.7's confirm/edit/skip/auto actions).
func (s *Session) ConfirmTool(ctx context.Context, toolID string, action ConfirmAction, content string, count int) error {
	s.mu.Lock()
	if s.state != StateToolPending || s.pendingIdx >= len(s.pending) {
		s.mu.Unlock()
		return fmt.Errorf("session: no tool pending")
	}
	te := s.pending[s.pendingIdx]
	if te.ID != toolID {
		s.mu.Unlock()
		return ErrToolNotFound
	}
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	switch action {
	case ActionSkip:
		s.mu.Lock()
		te.Status = ToolStatusSkipped
		s.mu.Unlock()
		s.emit(EventToolSkipped, map[string]string{"tool_id": te.ID})
		s.advancePending()
		return nil

	case ActionAuto:
		s.mu.Lock()
		s.autoConfirm = count
		s.mu.Unlock()
		te.AutoConfirm = true
		tu := codeblock.ToolUse{Tool: te.Tool, Args: te.Args, Content: te.Content, Kwargs: te.Kwargs, CallID: te.CallID}
		go s.runToolUse(context.Background(), te, tu)
		return nil

	case ActionConfirm:
		s.mu.Lock()
		if s.autoConfirm > 0 {
			s.autoConfirm--
		}
		s.mu.Unlock()
		tu := codeblock.ToolUse{Tool: te.Tool, Args: te.Args, Content: te.Content, Kwargs: te.Kwargs, CallID: te.CallID}
		go s.runToolUse(context.Background(), te, tu)
		return nil

	case ActionEdit:
		s.mu.Lock()
		te.EditedContent = content
		s.mu.Unlock()
		if err := s.log.Append(message.New(message.RoleSystem, editedNote, time.Now().UTC())); err != nil {
			return fmt.Errorf("session: append edit note: %w", err)
		}

		resolved := s.resolveEditedToolUse(te, content)
		if resolved == nil {
			s.mu.Lock()
			te.Status = ToolStatusFailed
			te.Result = "edited content does not resolve to a runnable tool"
			s.mu.Unlock()
			s.emit(EventToolFailed, map[string]string{"tool_id": te.ID, "error": te.Result})
			s.advancePending()
			return nil
		}
		go s.runToolUse(context.Background(), te, *resolved)
		return nil

	default:
		return fmt.Errorf("session: unknown confirm action %q", action)
	}
}

// resolveEditedToolUse implements spec.md §4.7's edit semantics step
// (iv): re-parse the edited content as tool-uses; if that yields
// nothing runnable, fall back to treating it as a direct replacement of
// the original tool's content (the common case of editing just the
// invocation body, as in scenario S3's "ls -la" -> "ls").
func (s *Session) resolveEditedToolUse(te *ToolExecution, content string) *codeblock.ToolUse {
	for _, tu := range s.parseToolUses(content, nil) {
		if s.eng.Registry.IsRunnable(tu) {
			return &tu
		}
	}
	tu := codeblock.ToolUse{Tool: te.Tool, Args: te.Args, Content: content, Kwargs: te.Kwargs, CallID: te.CallID}
	if !s.eng.Registry.IsRunnable(tu) {
		return nil
	}
	return &tu
}

// runToolUse executes tu (TOOL_PENDING -> TOOL_EXECUTING), appending
// every yielded message and emitting tool_output/message_added per
// message, then advances to the next pending tool or back to IDLE
// (spec.md §4.7's "more_tools?" branch, testable property 7's FSM
// sequence).
func (s *Session) runToolUse(parent context.Context, te *ToolExecution, tu codeblock.ToolUse) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.state = StateToolExecuting
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	s.emit(EventToolExecuting, map[string]string{"tool_id": te.ID})

	out, err := tool.Dispatch(ctx, s.eng.Registry, tu, func(string) bool { return true })
	if err != nil {
		s.mu.Lock()
		te.Status = ToolStatusFailed
		te.Result = err.Error()
		s.mu.Unlock()
		if s.eng.Metrics != nil {
			s.eng.Metrics.ToolExecutions.WithLabelValues(te.Tool, "failed").Inc()
		}
		s.emit(EventToolFailed, map[string]string{"tool_id": te.ID, "error": err.Error()})
		s.advancePending()
		return
	}

	var ranAny bool
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
		if err := s.log.Append(msg); err != nil {
			s.emit(EventError, map[string]string{"error": err.Error()})
			continue
		}
		s.emit(EventToolOutput, map[string]any{"tool_id": te.ID, "output": msg.Content})
		s.emit(EventMessageAdded, map[string]any{"message": msg})
		ranAny = true
	}

	if ctx.Err() != nil {
		// Interrupt already transitioned the session and emitted
		// `interrupted`; don't report a second, conflicting outcome.
		return
	}

	s.mu.Lock()
	if ranAny {
		te.Status = ToolStatusCompleted
		s.recentTools = append(s.recentTools, te.Tool)
	} else {
		te.Status = ToolStatusSkipped
	}
	s.mu.Unlock()

	if s.eng.Metrics != nil {
		status := "completed"
		if !ranAny {
			status = "skipped"
		}
		s.eng.Metrics.ToolExecutions.WithLabelValues(te.Tool, status).Inc()
		s.eng.Metrics.ToolExecutionDuration.WithLabelValues(te.Tool).Observe(time.Since(start).Seconds())
	}

	s.advancePending()
}

// advancePending moves to the next queued ToolExecution, or — once the
// batch is exhausted — back to IDLE and runs the pre-commit check.
func (s *Session) advancePending() {
	s.mu.Lock()
	s.pendingIdx++
	if s.pendingIdx < len(s.pending) {
		next := s.pending[s.pendingIdx]
		s.state = StateToolPending
		s.mu.Unlock()
		s.announcePending(next)
		return
	}
	s.pending = nil
	s.pendingIdx = 0
	s.state = StateIdle
	executed := append([]string(nil), s.recentTools...)
	s.mu.Unlock()

	s.runPreCommitCheck(context.Background(), executed)
}

// Interrupt cancels the session's current generation or tool
// execution and returns it to IDLE (spec.md §4.7: "any state -> IDLE").
// When the session is GENERATING, the streaming goroutine observes
// ctx.Done() itself and appends the partial assistant message plus
// emits `interrupted` (spec.md §9's cooperative-cancellation note); for
// TOOL_PENDING/TOOL_EXECUTING, Interrupt performs that transition
// directly since there may be no (or an already-finishing) goroutine to
// rely on.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	state := s.state
	s.mu.Unlock()

	if state == StateIdle {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	if state == StateToolPending || state == StateToolExecuting {
		s.mu.Lock()
		s.pending = nil
		s.pendingIdx = 0
		s.state = StateIdle
		s.mu.Unlock()
		marker := message.New(message.RoleSystem, InterruptMarker, time.Now().UTC())
		if err := s.log.Append(marker); err != nil {
			return fmt.Errorf("session: append interrupt marker: %w", err)
		}
		s.emit(EventInterrupted, nil)
	}
	return nil
}

// runPreCommitCheck implements spec.md §4.6/§4.7's pre-tool
// modification check, applied at the HTTP layer the same way
// internal/agentloop applies it at the CLI layer: run only when a
// file-modifying tool was used among the ≤3 most recently executed
// tools this step.
func (s *Session) runPreCommitCheck(ctx context.Context, executed []string) {
	if s.eng.PreCommit == nil || !recentModifyingToolUse(executed) {
		return
	}
	output, err := s.eng.PreCommit(ctx)
	if err != nil || strings.TrimSpace(output) == "" {
		return
	}
	msg := message.New(message.RoleSystem, output, time.Now().UTC())
	if err := s.log.Append(msg); err == nil {
		s.emit(EventMessageAdded, map[string]any{"message": msg})
	}
}

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

// assemble builds the prompt message list via internal/context,
// mirroring internal/agentloop.Loop.assemble for the HTTP path.
func (s *Session) assemble(model llm.ModelInfo) []message.Message {
	eng := s.eng
	logSnap := s.log.Log()

	var fresh string
	if eng.FileCache != nil {
		fresh = kctx.BuildFreshContext(kctx.FreshContextOptions{
			Workspace: eng.Workspace,
			FileCache: eng.FileCache,
		})
	}

	estimator := eng.Estimator
	if estimator == nil {
		estimator = kctx.DefaultEstimator
	}

	return kctx.Assemble(logSnap.Messages, kctx.AssembleOptions{
		Model:        kctx.ModelInfo{ID: model.ID, Context: model.Context},
		Estimate:     estimator,
		FreshContext: fresh,
	})
}

func (s *Session) hasRunnableToolUse(output string, native []codeblock.ToolUse) bool {
	for _, tu := range native {
		if s.eng.Registry.IsRunnable(tu) {
			return true
		}
	}
	for _, tu := range s.parseMarkdownOrXML(output) {
		if s.eng.Registry.IsRunnable(tu) {
			return true
		}
	}
	return false
}

func (s *Session) parseToolUses(output string, native []codeblock.ToolUse) []codeblock.ToolUse {
	if s.eng.ToolFormat == message.FormatTool && native != nil {
		return native
	}
	return s.parseMarkdownOrXML(output)
}

func (s *Session) parseMarkdownOrXML(output string) []codeblock.ToolUse {
	if s.eng.ToolFormat == message.FormatXML {
		if tus, err := codeblock.ParseXML(output); err == nil {
			return tus
		}
		return nil
	}
	return codeblock.ParseMarkdown(output, s.eng.Registry.LangResolver())
}

// drainRemaining discards anything still buffered on chunks so the
// adapter's goroutine isn't left blocked on a send once generate stops
// consuming (mirrors internal/agentloop's identical helper).
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
