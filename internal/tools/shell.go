package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

const shellMaxOutput = 64000

// NewShellTool builds the shell tool, grounded on the donor's exec
// manager (internal/tools/exec/manager.go): invocation content is
// piped to "/bin/sh -c", cwd fixed to workspace, combined stdout/stderr
// truncated to shellMaxOutput bytes, and the exit code reported inline.
func NewShellTool(workspace string) tool.Spec {
	return tool.Spec{
		Name:        "shell",
		Description: "Execute a shell command in the workspace and return its combined output.",
		Instructions: "Use a ```shell fenced block containing the command to run. " +
			"The command executes via /bin/sh -c with the workspace as its working directory.",
		Examples:   []string{"```shell\nls -la\n```"},
		BlockTypes: []string{"shell", "bash", "sh"},
		Execute:    shellExecute(workspace),
	}
}

func shellExecute(workspace string) tool.ExecuteFunc {
	res := newResolver(workspace)
	return func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
		out := make(chan message.Message, 1)
		go func() {
			defer close(out)

			command := in.Content
			if !confirm(fmt.Sprintf("Run shell command?\n\n%s", command)) {
				return
			}

			dir, err := res.resolve(".")
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("shell: %v", err), time.Now().UTC())
				return
			}

			cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
			cmd.Dir = dir
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &limitWriter{buf: &stdout, max: shellMaxOutput}
			cmd.Stderr = &limitWriter{buf: &stderr, max: shellMaxOutput}

			runErr := cmd.Run()

			exitCode := 0
			if runErr != nil {
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					exitCode = -1
				}
			}

			var sb bytes.Buffer
			if stdout.Len() > 0 {
				sb.WriteString(stdout.String())
			}
			if stderr.Len() > 0 {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(stderr.String())
			}
			if exitCode != 0 {
				fmt.Fprintf(&sb, "\n[exit code %d]", exitCode)
			}
			if sb.Len() == 0 {
				sb.WriteString("(no output)")
			}

			select {
			case out <- message.New(message.RoleTool, sb.String(), time.Now().UTC()):
			case <-ctx.Done():
			}
		}()
		return out
	}
}

// limitWriter caps how many bytes it accumulates, discarding the rest
// silently (mirrors the donor's limitedBuffer).
type limitWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.max > 0 && w.buf.Len() >= w.max {
		return len(p), nil
	}
	room := w.max - w.buf.Len()
	if w.max <= 0 || room >= len(p) {
		return w.buf.Write(p)
	}
	n, err := w.buf.Write(p[:room])
	return n + (len(p) - room), err
}
