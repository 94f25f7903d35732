package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTopMentionedRanksByCountThenRecency(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	os.WriteFile(a, []byte("a"), 0o644)
	os.WriteFile(b, []byte("b"), 0o644)

	c := New(root)
	c.RecordMention("a.txt")
	c.RecordMention("a.txt")
	c.RecordMention("b.txt")

	ranked := c.TopMentioned(10)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked entries, got %d", len(ranked))
	}
	if ranked[0].Path != a {
		t.Fatalf("expected %s ranked first (2 mentions), got %s", a, ranked[0].Path)
	}
}

func TestDisplayPathRelativeWithinCwd(t *testing.T) {
	cwd := t.TempDir()
	path := filepath.Join(cwd, "sub", "file.go")
	got := DisplayPath(path, cwd)
	if got != filepath.Join("sub", "file.go") {
		t.Fatalf("expected relative path, got %q", got)
	}
}

func TestDisplayPathAbsoluteOutsideCwd(t *testing.T) {
	cwd := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "file.go")
	got := DisplayPath(path, cwd)
	if got != path {
		t.Fatalf("expected absolute path for file outside cwd, got %q", got)
	}
}

func TestCacheStartNoopWithoutWorkspace(t *testing.T) {
	c := New("")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("expected no-op Start to succeed, got %v", err)
	}
}
