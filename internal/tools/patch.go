package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// NewPatchTool builds the patch tool: it applies a unified diff to one
// or more workspace files. Parsing and hunk application are grounded on
// the donor's internal/tools/files.ApplyPatchTool.
func NewPatchTool(workspace string) tool.Spec {
	return tool.Spec{
		Name:        "patch",
		Description: "Apply a unified diff to one or more files in the workspace.",
		Instructions: "Invoke with a unified diff (---/+++ headers, @@ hunks) as the block content. " +
			"Context lines must match the file exactly.",
		BlockTypes: []string{"patch", "diff"},
		Execute:    patchExecute(workspace),
	}
}

func patchExecute(workspace string) tool.ExecuteFunc {
	res := newResolver(workspace)
	return func(ctx context.Context, in tool.Invocation, confirm tool.ConfirmFunc) <-chan message.Message {
		out := make(chan message.Message, 1)
		go func() {
			defer close(out)

			patches, err := parseUnifiedDiff(in.Content)
			if err != nil {
				out <- message.New(message.RoleTool, fmt.Sprintf("patch: %v", err), time.Now().UTC())
				return
			}

			var paths []string
			for _, p := range patches {
				paths = append(paths, p.path)
			}
			if !confirm(fmt.Sprintf("Apply patch to %s?", strings.Join(paths, ", "))) {
				return
			}

			var applied []string
			for _, p := range patches {
				resolved, err := res.resolve(p.path)
				if err != nil {
					out <- message.New(message.RoleTool, fmt.Sprintf("patch: %v", err), time.Now().UTC())
					return
				}
				data, err := os.ReadFile(resolved)
				if err != nil {
					out <- message.New(message.RoleTool, fmt.Sprintf("patch: read %s: %v", p.path, err), time.Now().UTC())
					return
				}
				updated, err := applyFilePatch(string(data), p)
				if err != nil {
					out <- message.New(message.RoleTool, fmt.Sprintf("patch: apply %s: %v", p.path, err), time.Now().UTC())
					return
				}
				if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
					out <- message.New(message.RoleTool, fmt.Sprintf("patch: write %s: %v", p.path, err), time.Now().UTC())
					return
				}
				applied = append(applied, p.path)
			}

			select {
			case out <- message.New(message.RoleTool, fmt.Sprintf("Applied patch to %s", strings.Join(applied, ", ")), time.Now().UTC()):
			case <-ctx.Done():
			}
		}()
		return out
	}
}

type filePatch struct {
	path  string
	hunks []hunk
}

type hunk struct {
	oldStart int
	lines    []string
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

func parseUnifiedDiff(patch string) ([]filePatch, error) {
	lines := strings.Split(patch, "\n")
	var patches []filePatch
	var current *filePatch
	var currentHunk *hunk

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index "):
			continue
		case strings.HasPrefix(line, "--- "):
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("missing +++ header")
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(lines[i+1], "+++ "))
			newPath = strings.TrimPrefix(strings.TrimPrefix(newPath, "b/"), "a/")
			patches = append(patches, filePatch{path: newPath})
			current = &patches[len(patches)-1]
			currentHunk = nil
			i++
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("hunk without file header")
			}
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("malformed hunk header: %s", line)
			}
			oldStart, _ := strconv.Atoi(m[1])
			current.hunks = append(current.hunks, hunk{oldStart: oldStart})
			currentHunk = &current.hunks[len(current.hunks)-1]
		default:
			if currentHunk == nil || line == "" || line == "\\ No newline at end of file" {
				continue
			}
			prefix := line[:1]
			if prefix != " " && prefix != "+" && prefix != "-" {
				return nil, fmt.Errorf("invalid patch line: %s", line)
			}
			currentHunk.lines = append(currentHunk.lines, line)
		}
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("no file headers found")
	}
	return patches, nil
}

func applyFilePatch(content string, patch filePatch) (string, error) {
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	trimmed := strings.TrimSuffix(content, "\n")
	var lines []string
	if trimmed != "" {
		lines = strings.Split(trimmed, "\n")
	}

	for _, h := range patch.hunks {
		idx := h.oldStart - 1
		if idx < 0 {
			idx = 0
		}
		for _, line := range h.lines {
			prefix := line[:1]
			text := ""
			if len(line) > 1 {
				text = line[1:]
			}
			switch prefix {
			case " ":
				if idx >= len(lines) || lines[idx] != text {
					return "", fmt.Errorf("context mismatch at line %d", idx+1)
				}
				idx++
			case "-":
				if idx >= len(lines) || lines[idx] != text {
					return "", fmt.Errorf("delete mismatch at line %d", idx+1)
				}
				lines = append(lines[:idx], lines[idx+1:]...)
			case "+":
				lines = append(lines[:idx], append([]string{text}, lines[idx:]...)...)
				idx++
			}
		}
	}

	result := strings.Join(lines, "\n")
	if hadTrailingNewline {
		result += "\n"
	}
	return result, nil
}
