package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilnai/kiln/internal/tool"
)

func alwaysConfirm(string) bool { return true }
func neverConfirm(string) bool  { return false }

func TestSaveWritesFile(t *testing.T) {
	root := t.TempDir()
	spec := NewSaveTool(root)

	ch := spec.Execute(context.Background(), tool.Invocation{
		Content: "print(1)\n",
		Args:    []string{"hello.py"},
	}, alwaysConfirm)

	var msgs []string
	for m := range ch {
		msgs = append(msgs, m.Content)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Saved") {
		t.Fatalf("unexpected messages: %v", msgs)
	}

	data, err := os.ReadFile(filepath.Join(root, "hello.py"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "print(1)\n" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

func TestSaveDeclinedConfirmationWritesNothing(t *testing.T) {
	root := t.TempDir()
	spec := NewSaveTool(root)

	ch := spec.Execute(context.Background(), tool.Invocation{
		Content: "x",
		Args:    []string{"skip.txt"},
	}, neverConfirm)
	for range ch {
	}

	if _, err := os.Stat(filepath.Join(root, "skip.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file to not exist, stat err = %v", err)
	}
}

func TestReadReturnsFileContent(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	spec := NewReadTool(root)
	ch := spec.Execute(context.Background(), tool.Invocation{Kwargs: map[string]string{"path": "notes.txt"}}, alwaysConfirm)

	var got string
	for m := range ch {
		got = m.Content
	}
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestResolverRejectsEscape(t *testing.T) {
	res := newResolver(t.TempDir())
	if _, err := res.resolve("../outside.txt"); err == nil {
		t.Fatal("expected workspace escape to be rejected")
	}
}

func TestShellRunsCommand(t *testing.T) {
	root := t.TempDir()
	spec := NewShellTool(root)

	ch := spec.Execute(context.Background(), tool.Invocation{Content: "echo hi"}, alwaysConfirm)
	var got string
	for m := range ch {
		got = m.Content
	}
	if !strings.Contains(got, "hi") {
		t.Fatalf("expected output to contain 'hi', got %q", got)
	}
}

func TestPatchAppliesUnifiedDiff(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	diff := "--- a/a.txt\n+++ b/a.txt\n@@ -1,3 +1,3 @@\n one\n-two\n+TWO\n three\n"

	spec := NewPatchTool(root)
	ch := spec.Execute(context.Background(), tool.Invocation{Content: diff}, alwaysConfirm)
	for range ch {
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read patched file: %v", err)
	}
	if string(data) != "one\nTWO\nthree\n" {
		t.Fatalf("unexpected patched content: %q", data)
	}
}

func TestDiscoverReturnsReferenceTools(t *testing.T) {
	specs := Discover(t.TempDir())
	names := map[string]bool{}
	for _, s := range specs {
		names[s.Name] = true
	}
	for _, want := range []string{"shell", "save", "patch", "read"} {
		if !names[want] {
			t.Fatalf("expected discovered tool %q, got %v", want, names)
		}
	}
}
