package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/kilnai/kiln/internal/codeblock"
	"github.com/kilnai/kiln/internal/message"
)

// ExecutionError is spec.md §7's ToolExecutionError: the tool's
// generator raised instead of completing normally.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Dispatch resolves tu against the registry and runs it, returning the
// channel of reply Messages the tool yields (spec.md §4.3's "iterate the
// resulting Message sequence"). The channel is always closed by the
// callee, even on error; a dispatch-time error (unknown tool, invalid
// kwargs) is reported directly rather than via the channel so the loop
// can distinguish ToolInvocationError from ToolExecutionError (spec.md
// §7) without inspecting message content.
func Dispatch(ctx context.Context, reg *Registry, tu codeblock.ToolUse, confirm ConfirmFunc) (<-chan message.Message, error) {
	spec, ok := reg.GetTool(tu.Tool)
	if !ok || !spec.Available {
		return nil, &InvocationError{Tool: tu.Tool, Err: fmt.Errorf("no available tool registered for %q", tu.Tool)}
	}
	if err := spec.ValidateKwargs(tu.Kwargs); err != nil {
		return nil, err
	}
	if spec.Execute == nil {
		return nil, &ExecutionError{Tool: tu.Tool, Err: fmt.Errorf("tool has no executor")}
	}

	in := Invocation{Content: tu.Content, Args: tu.Args, Kwargs: tu.Kwargs}
	return runGuarded(ctx, spec, in, confirm), nil
}

// runGuarded wraps spec.Execute so a panicking tool becomes an
// ExecutionError message instead of crashing the loop, mirroring the
// donor executor's panic recovery (internal/agent/executor.go).
func runGuarded(ctx context.Context, spec Spec, in Invocation, confirm ConfirmFunc) <-chan message.Message {
	out := make(chan message.Message)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("tool %q panicked: %v", spec.Name, r), time.Now().UTC())
			}
		}()
		src := spec.Execute(ctx, in, confirm)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
