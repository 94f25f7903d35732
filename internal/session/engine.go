package session

import (
	"context"

	kctx "github.com/kilnai/kiln/internal/context"
	"github.com/kilnai/kiln/internal/fswatch"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/observability"
	"github.com/kilnai/kiln/internal/tool"
)

// EventSink durably mirrors a session's broadcast events. Implemented
// by internal/eventlog.Store; defined here (rather than in eventlog)
// so eventlog can depend on session's Event type while session never
// imports eventlog — keeping the dependency one-directional.
type EventSink interface {
	Append(ctx context.Context, sessionID string, ev Event) error
}

// Engine bundles the process-wide, read-only collaborators every
// Session shares (spec.md §5: "the tool registry is read-only after
// initialisation; the model metadata table is read-only"), avoiding
// per-session duplication of the registry, adapter, and file cache —
// mirroring internal/agentloop.Config's role for the CLI path.
type Engine struct {
	Registry   *tool.Registry
	Adapter    llm.Adapter
	Model      llm.ModelInfo
	Workspace  string
	ToolFormat message.ToolFormat
	FileCache  *fswatch.Cache
	Estimator  kctx.Estimator

	// BreakOnToolUse mirrors GPTME_BREAK_ON_TOOLUSE (spec.md §6);
	// SPEC_FULL.md §9 resolves its interaction with tool_format=tool:
	// native tool-call chunks are never mid-stream, so this flag only
	// ever gates the markdown/XML scanner below.
	BreakOnToolUse bool

	// PreCommit runs external pre-commit checks; nil disables the
	// check entirely (spec.md §4.6's pre-tool modification check).
	PreCommit func(ctx context.Context) (string, error)

	// Events durably mirrors every emitted Event; nil disables the
	// mirror (SSE clients still receive events live, they just can't
	// reconnect past what a ring buffer still holds).
	Events EventSink

	// Metrics is optional; nil disables per-step/per-tool
	// instrumentation.
	Metrics *observability.Metrics
}
