package agentloop

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilnai/kiln/internal/convo"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// fakeShellTool echoes its content back as a tool message, unless
// confirm declines, in which case it yields nothing — matching the
// contract shell/save/patch already implement.
func fakeShellTool() tool.Spec {
	return tool.Spec{
		Name:       "shell",
		BlockTypes: []string{"shell"},
		Available:  true,
		Execute: func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
			out := make(chan message.Message, 1)
			go func() {
				defer close(out)
				if confirm != nil && !confirm("run?") {
					return
				}
				out <- message.Message{Content: "ok: " + in.Content}
			}()
			return out
		},
	}
}

func newTestLoop(t *testing.T, replies []string, confirm tool.ConfirmFunc) (*Loop, *convo.LogManager) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "convo")
	sys := message.New(message.RoleSystem, "you are terse", time.Now())
	logMgr, err := convo.Create(dir, []message.Message{sys}, "")
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	t.Cleanup(func() { logMgr.Close() })

	reg := tool.Build([]tool.Spec{fakeShellTool()}, nil)

	idx := 0
	adapter := llm.Adapter{
		Name: "fake",
		Chat: func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
			if idx >= len(replies) {
				return "", nil
			}
			r := replies[idx]
			idx++
			return r, nil
		},
	}

	prompts := []string{"list files"}
	pidx := 0
	loop := New(Config{
		Log:      logMgr,
		Registry: reg,
		Adapter:  adapter,
		Model:    llm.ModelInfo{ID: "test", Context: 8000, SupportsStreaming: false},
		Confirm:  confirm,
		Prompt: func(ctx context.Context) (string, bool) {
			if pidx >= len(prompts) {
				return "", false
			}
			p := prompts[pidx]
			pidx++
			return p, true
		},
	})
	return loop, logMgr
}

func TestStepRunsConfirmedShellTool(t *testing.T) {
	loop, logMgr := newTestLoop(t, []string{"I'll run it:\n\n```shell\nls -la\n```"}, func(string) bool { return true })

	more, err := loop.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !more {
		t.Fatal("expected more=true")
	}

	msgs := logMgr.Log().Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (system, user, assistant, tool), got %d: %+v", len(msgs), msgs)
	}
	if msgs[3].Content != "ok: ls -la" {
		t.Fatalf("unexpected tool output: %q", msgs[3].Content)
	}
}

func TestStepAppendsAbortedMarkerWhenDeclined(t *testing.T) {
	loop, logMgr := newTestLoop(t, []string{"```shell\nls -la\n```"}, func(string) bool { return false })

	more, err := loop.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !more {
		t.Fatal("expected more=true")
	}

	msgs := logMgr.Log().Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (system, user, assistant, aborted), got %d", len(msgs))
	}
	if !strings.Contains(msgs[3].Content, abortedMarker) {
		t.Fatalf("expected aborted marker, got %q", msgs[3].Content)
	}
}

func TestStepNoToolUseEndsTurnWithoutExecution(t *testing.T) {
	loop, logMgr := newTestLoop(t, []string{"just a plain reply, no tools"}, func(string) bool { return true })

	more, err := loop.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !more {
		t.Fatal("expected more=true")
	}

	msgs := logMgr.Log().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (system, user, assistant), got %d", len(msgs))
	}
}

func TestStepInterruptDuringStreamingAppendsMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo")
	sys := message.New(message.RoleSystem, "you are terse", time.Now())
	logMgr, err := convo.Create(dir, []message.Message{sys}, "")
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	defer logMgr.Close()

	reg := tool.Build(nil, nil)

	block := make(chan struct{})
	adapter := llm.Adapter{
		Name: "fake",
		Stream: func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (<-chan llm.Chunk, <-chan error) {
			chunks := make(chan llm.Chunk)
			errs := make(chan error, 1)
			go func() {
				defer close(chunks)
				defer close(errs)
				select {
				case chunks <- llm.Chunk{Text: "partial"}:
				case <-ctx.Done():
					return
				}
				select {
				case <-block:
				case <-ctx.Done():
				}
			}()
			return chunks, errs
		},
	}

	prompted := false
	loop := New(Config{
		Log:      logMgr,
		Registry: reg,
		Adapter:  adapter,
		Model:    llm.ModelInfo{ID: "test", Context: 8000, SupportsStreaming: true},
		Confirm:  func(string) bool { return true },
		Prompt: func(ctx context.Context) (string, bool) {
			if prompted {
				return "", false
			}
			prompted = true
			return "hello", true
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	more, err := loop.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !more {
		t.Fatal("expected more=true after an interrupted step")
	}

	msgs := logMgr.Log().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (system, user, partial assistant), got %d: %+v", len(msgs), msgs)
	}
	if !strings.HasSuffix(msgs[2].Content, InterruptMarker) {
		t.Fatalf("expected assistant message to end with the interrupt marker, got %q", msgs[2].Content)
	}
}
