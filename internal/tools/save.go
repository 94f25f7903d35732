package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// NewSaveTool builds the save tool. Its block_types are intentionally
// empty: save is reached via the markdown parser's filename-preserving
// special case (internal/codeblock.ParseMarkdown), where any infostring
// that looks like a path routes here with that path carried in Args[0],
// not through an ordinary langtag match.
func NewSaveTool(workspace string) tool.Spec {
	return tool.Spec{
		Name:        "save",
		Description: "Write a fenced codeblock's content to a file, creating or overwriting it.",
		Instructions: "Use a fenced block whose infostring is the destination path, e.g. " +
			"```path/to/file.py. The block's content becomes the file's full contents.",
		Examples: []string{"```hello.py\nprint(\"hi\")\n```"},
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Destination path, relative to the workspace.", Required: true},
		},
		Execute: saveExecute(workspace),
	}
}

func saveExecute(workspace string) tool.ExecuteFunc {
	res := newResolver(workspace)
	return func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
		out := make(chan message.Message, 1)
		go func() {
			defer close(out)

			path := in.Kwargs["path"]
			if path == "" && len(in.Args) > 0 {
				path = in.Args[0]
			}
			if path == "" {
				out <- message.New(message.RoleTool, "save: no destination path given", time.Now().UTC())
				return
			}

			if !confirm(fmt.Sprintf("Write %d bytes to %s?", len(in.Content), path)) {
				return
			}

			resolved, err := res.resolve(path)
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("save: %v", err), time.Now().UTC())
				return
			}

			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("save: create directory: %v", err), time.Now().UTC())
				return
			}
			if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("save: write file: %v", err), time.Now().UTC())
				return
			}

			select {
			case out <- message.New(message.RoleTool, fmt.Sprintf("Saved %d bytes to %s", len(in.Content), path), time.Now().UTC()):
			case <-ctx.Done():
			}
		}()
		return out
	}
}
