package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

const readMaxBytes = 200000

// NewReadTool builds the read tool, grounded on the donor's
// internal/tools/files.ReadTool: a workspace-scoped, byte-limited file
// reader. Unlike save/patch, reading a file never modifies it, so it
// requires no confirmation.
func NewReadTool(workspace string) tool.Spec {
	return tool.Spec{
		Name:        "read",
		Description: "Read a file's contents from the workspace.",
		Instructions: "Invoke with the file path as the block content or as the `path` kwarg. " +
			"Output larger than the tool's byte limit is truncated.",
		Examples: []string{"```read\nREADME.md\n```"},
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Path to read, relative to the workspace.", Required: false},
		},
		Execute: readExecute(workspace),
	}
}

func readExecute(workspace string) tool.ExecuteFunc {
	res := newResolver(workspace)
	return func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
		out := make(chan message.Message, 1)
		go func() {
			defer close(out)

			path := in.Kwargs["path"]
			if path == "" {
				path = firstNonEmptyLine(in.Content)
			}
			if path == "" && len(in.Args) > 0 {
				path = in.Args[0]
			}
			if path == "" {
				out <- message.New(message.RoleTool, "read: no path given", time.Now().UTC())
				return
			}

			resolved, err := res.resolve(path)
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("read: %v", err), time.Now().UTC())
				return
			}

			f, err := os.Open(resolved)
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("read: open file: %v", err), time.Now().UTC())
				return
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("read: stat file: %v", err), time.Now().UTC())
				return
			}

			buf, err := io.ReadAll(io.LimitReader(f, readMaxBytes))
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("read: %v", err), time.Now().UTC())
				return
			}

			content := string(buf)
			if info.Size() > int64(len(buf)) {
				content += fmt.Sprintf("\n[truncated, %d of %d bytes shown]", len(buf), info.Size())
			}

			select {
			case out <- message.New(message.RoleTool, content, time.Now().UTC()):
			case <-ctx.Done():
			}
		}()
		return out
	}
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
