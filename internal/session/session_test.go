package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilnai/kiln/internal/convo"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (f *fakeSink) Append(ctx context.Context, sessionID string, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func newTestLog(t *testing.T) *convo.LogManager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "conv")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	m, err := convo.Create(dir, nil, "")
	require.NoError(t, err)
	return m
}

func newTestRegistry(t *testing.T, exec tool.ExecuteFunc) *tool.Registry {
	t.Helper()
	specs := []tool.Spec{{
		Name:      "shell",
		Available: true,
		Execute:   exec,
	}}
	reg := tool.Build(specs, nil)
	reg.Activate()
	return reg
}

func chatAdapter(reply string) llm.Adapter {
	return llm.Adapter{
		Name: "fake",
		Chat: func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
			return reply, nil
		},
	}
}

// Scenario S1 (spec.md §8): a plain reply with no tool-use completes
// generation and returns straight to IDLE, with exactly one
// generation_complete event and no separate message_added for the
// assistant's own message.
func TestStepPlainReplyCompletesWithoutMessageAdded(t *testing.T) {
	sink := newFakeSink()
	reg := newTestRegistry(t, nil)
	eng := &Engine{
		Registry: reg,
		Adapter:  chatAdapter("just talking, no tools here"),
		Model:    llm.ModelInfo{ID: "test-model", Context: 8000},
		Events:   sink,
	}

	s := &Session{ID: "s1", log: newTestLog(t), eng: eng, state: StateIdle, clients: make(map[string]chan Event)}
	require.NoError(t, s.Step(context.Background(), ""))

	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)

	var sawComplete, sawMessageAdded int
	for _, ev := range sink.snapshot() {
		switch ev.Type {
		case EventGenerationComplete:
			sawComplete++
		case EventMessageAdded:
			sawMessageAdded++
		}
	}
	require.Equal(t, 1, sawComplete)
	require.Equal(t, 0, sawMessageAdded)

	logSnap := s.log.Log()
	require.Len(t, logSnap.Messages, 1)
	require.Equal(t, message.RoleAssistant, logSnap.Messages[0].Role)
}

// A reply containing one runnable tool-use moves IDLE -> TOOL_PENDING;
// confirming it runs the tool, appends its output, and returns to IDLE.
func TestStepWithToolUseRunsOnConfirm(t *testing.T) {
	sink := newFakeSink()
	ran := make(chan struct{}, 1)
	exec := func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
		ch := make(chan message.Message, 1)
		go func() {
			defer close(ch)
			ran <- struct{}{}
			ch <- message.New(message.RoleTool, "ok", time.Now().UTC())
		}()
		return ch
	}
	reg := newTestRegistry(t, exec)

	reply := "running a command:\n\n```shell\necho hi\n```\n"
	eng := &Engine{
		Registry: reg,
		Adapter:  chatAdapter(reply),
		Model:    llm.ModelInfo{ID: "test-model", Context: 8000},
		Events:   sink,
	}

	s := &Session{ID: "s2", log: newTestLog(t), eng: eng, state: StateIdle, clients: make(map[string]chan Event)}
	require.NoError(t, s.Step(context.Background(), ""))

	require.Eventually(t, func() bool { return s.State() == StateToolPending }, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	te := s.pending[s.pendingIdx]
	s.mu.Unlock()

	require.NoError(t, s.ConfirmTool(context.Background(), te.ID, ActionConfirm, "", 0))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("tool never ran")
	}

	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)

	logSnap := s.log.Log()
	require.Len(t, logSnap.Messages, 2)
	require.Equal(t, message.RoleTool, logSnap.Messages[1].Role)
}

// ConfirmTool(skip) marks the tool skipped without running it and
// returns the session to IDLE.
func TestConfirmToolSkip(t *testing.T) {
	sink := newFakeSink()
	exec := func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
		ch := make(chan message.Message)
		close(ch)
		return ch
	}
	reg := newTestRegistry(t, exec)

	reply := "skip this:\n\n```shell\necho skip\n```\n"
	eng := &Engine{
		Registry: reg,
		Adapter:  chatAdapter(reply),
		Model:    llm.ModelInfo{ID: "test-model", Context: 8000},
		Events:   sink,
	}

	s := &Session{ID: "s3", log: newTestLog(t), eng: eng, state: StateIdle, clients: make(map[string]chan Event)}
	require.NoError(t, s.Step(context.Background(), ""))
	require.Eventually(t, func() bool { return s.State() == StateToolPending }, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	te := s.pending[s.pendingIdx]
	s.mu.Unlock()

	require.NoError(t, s.ConfirmTool(context.Background(), te.ID, ActionSkip, "", 0))
	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)
	require.Equal(t, ToolStatusSkipped, te.Status)
}

// Step refuses to start a second generation while one is already
// running (spec.md §7's error kind for a busy session).
func TestStepReturnsBusyWhileGenerating(t *testing.T) {
	block := make(chan struct{})
	eng := &Engine{
		Registry: newTestRegistry(t, nil),
		Adapter: llm.Adapter{
			Chat: func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
				<-block
				return "done", nil
			},
		},
		Model:  llm.ModelInfo{ID: "test-model", Context: 8000},
		Events: newFakeSink(),
	}

	s := &Session{ID: "s4", log: newTestLog(t), eng: eng, state: StateIdle, clients: make(map[string]chan Event)}
	require.NoError(t, s.Step(context.Background(), ""))
	require.Eventually(t, func() bool { return s.State() == StateGenerating }, time.Second, 5*time.Millisecond)

	err := s.Step(context.Background(), "")
	require.ErrorIs(t, err, ErrBusy)
	close(block)
}

// ConfirmTool rejects a tool_id that doesn't match the currently
// pending tool.
func TestConfirmToolUnknownID(t *testing.T) {
	sink := newFakeSink()
	reply := "one tool:\n\n```shell\necho hi\n```\n"
	eng := &Engine{
		Registry: newTestRegistry(t, func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
			ch := make(chan message.Message)
			close(ch)
			return ch
		}),
		Adapter: chatAdapter(reply),
		Model:   llm.ModelInfo{ID: "test-model", Context: 8000},
		Events:  sink,
	}

	s := &Session{ID: "s5", log: newTestLog(t), eng: eng, state: StateIdle, clients: make(map[string]chan Event)}
	require.NoError(t, s.Step(context.Background(), ""))
	require.Eventually(t, func() bool { return s.State() == StateToolPending }, time.Second, 5*time.Millisecond)

	err := s.ConfirmTool(context.Background(), "not-the-real-id", ActionConfirm, "", 0)
	require.ErrorIs(t, err, ErrToolNotFound)
}
