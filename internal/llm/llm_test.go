package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("overloaded")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}
	permErr := errors.New("bad request")
	err := Retry(context.Background(), cfg, func(error) bool { return false }, func() error {
		attempts++
		return permErr
	})
	if err != permErr {
		t.Fatalf("expected permanent error returned immediately, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestChatOrStreamFallsBackWhenStreamingUnsupported(t *testing.T) {
	adapter := Adapter{
		Name: "test",
		Chat: func(ctx context.Context, messages []message.Message, model ModelInfo, tools []tool.Spec) (string, error) {
			return "full reply", nil
		},
		Stream: func(ctx context.Context, messages []message.Message, model ModelInfo, tools []tool.Spec) (<-chan Chunk, <-chan error) {
			t.Fatal("Stream should not be called when supports_streaming=false")
			return nil, nil
		},
	}

	chunks, errs := adapter.ChatOrStream(context.Background(), nil, ModelInfo{SupportsStreaming: false}, nil)

	var got string
	for c := range chunks {
		got += c.Text
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "full reply" {
		t.Fatalf("expected fallback Chat reply, got %q", got)
	}
}

func TestModelTableLookup(t *testing.T) {
	if _, ok := Lookup("anthropic/claude-opus-4-6"); !ok {
		t.Fatal("expected anthropic/claude-opus-4-6 to be in the model table")
	}
	if _, ok := Lookup("nonexistent/model"); ok {
		t.Fatal("expected unknown model to be absent")
	}
}
