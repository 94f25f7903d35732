// Package llm defines the streaming LLM adapter contract (spec.md
// §4.5) consumed by the agent loop, independent of any concrete
// provider. Concrete adapters live in internal/llm/{anthropic,openai,
// gemini,bedrock}, each translating a real SDK's streaming API into
// this one contract.
package llm

import (
	"context"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// ModelInfo is the capability table entry for one model (spec.md
// §4.5's "capability flags per model").
type ModelInfo struct {
	ID                string
	Provider          string
	Context           int
	MaxOutput         int
	SupportsStreaming bool
	SupportsVision    bool
}

// Chunk is one unit yielded by Stream: either plain text, or (when the
// provider reports a native structured tool-call) the synthesized
// "\n@<toolname>(<call_id>): "-prefixed chunk spec.md §4.5 describes,
// carrying the parsed call alongside the literal text for callers that
// want structured access without re-parsing.
type Chunk struct {
	Text string
	Call *ToolCallChunk
}

// ToolCallChunk carries a native tool-call's structured fields when a
// Chunk represents one.
type ToolCallChunk struct {
	CallID string
	Name   string
	Input  []byte
}

// Adapter is the contract every concrete provider adapter implements.
type Adapter struct {
	Name string

	// Chat returns the complete assistant reply in one call (spec.md
	// §4.5). Used directly when the model's capability flags say
	// SupportsStreaming=false.
	Chat func(ctx context.Context, messages []message.Message, model ModelInfo, tools []tool.Spec) (string, error)

	// Stream yields text chunks over ch, closing it when done or on
	// error (reported via the returned error, observed after ch closes).
	Stream func(ctx context.Context, messages []message.Message, model ModelInfo, tools []tool.Spec) (<-chan Chunk, <-chan error)
}

// ChatOrStream runs Stream when the model supports it, otherwise falls
// back to one Chat call wrapped as a single-chunk stream — the agent
// loop's §4.5 requirement ("must honour supports_streaming=false").
func (a Adapter) ChatOrStream(ctx context.Context, messages []message.Message, model ModelInfo, tools []tool.Spec) (<-chan Chunk, <-chan error) {
	if model.SupportsStreaming && a.Stream != nil {
		return a.Stream(ctx, messages, model, tools)
	}

	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		text, err := a.Chat(ctx, messages, model, tools)
		if err != nil {
			errs <- err
			return
		}
		chunks <- Chunk{Text: text}
	}()
	return chunks, errs
}
