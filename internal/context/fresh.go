package context

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilnai/kiln/internal/fswatch"
)

const gitStatusTimeout = 3 * time.Second

// FreshContextOptions configures the synthesized system message
// inserted by InsertFreshContext (spec.md §4.4b).
type FreshContextOptions struct {
	Workspace       string
	PreCommitOutput string
	FileCache       *fswatch.Cache
	MaxFiles        int
	ReadFile        func(path string) (string, error)
}

// BuildFreshContext synthesizes the fresh-context system message body:
// cwd, git status, optional pre-commit output, and the top-N
// most-mentioned files' contents.
func BuildFreshContext(opts FreshContextOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current working directory: %s\n", opts.Workspace)

	if status := gitStatus(opts.Workspace); status != "" {
		b.WriteString("\nGit status:\n")
		b.WriteString(status)
	}

	if opts.PreCommitOutput != "" {
		b.WriteString("\nPre-commit output:\n")
		b.WriteString(opts.PreCommitOutput)
	}

	if opts.FileCache != nil {
		limit := opts.MaxFiles
		if limit <= 0 {
			limit = 10
		}
		ranked := opts.FileCache.TopMentioned(limit)
		if len(ranked) > 0 {
			b.WriteString("\nRecently mentioned files:\n")
			readFile := opts.ReadFile
			if readFile == nil {
				readFile = defaultReadFile
			}
			for _, r := range ranked {
				display := fswatch.DisplayPath(r.Path, opts.Workspace)
				content, err := readFile(r.Path)
				if err != nil {
					continue
				}
				fmt.Fprintf(&b, "\n```%s\n%s\n```\n", display, content)
			}
		}
	}

	return b.String()
}

func defaultReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// gitStatus runs "git status --short" in workspace, returning "" on
// any failure (missing git, not a repo, etc.) rather than erroring —
// fresh context is best-effort.
func gitStatus(workspace string) string {
	if workspace == "" {
		return ""
	}
	if _, err := os.Stat(filepath.Join(workspace, ".git")); err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), gitStatusTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "status", "--short")
	cmd.Dir = workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return out.String()
}
