package convo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kilnai/kiln/internal/message"
)

func TestCreateLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo1")
	sys := message.New(message.RoleSystem, "you are an agent", time.Now())

	m, err := Create(dir, []message.Message{sys}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close()

	user := message.New(message.RoleUser, "hello", time.Now().Add(time.Second))
	if err := m.Append(user); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := Load(dir, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	msgs := loaded.Log().Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "hello" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
}

func TestCreateTwiceFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo1")
	if _, err := Create(dir, nil, ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := Create(dir, nil, ""); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestLoadMissingFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), false); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUndoRemovesLastMessages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo1")
	m, err := Create(dir, []message.Message{
		message.New(message.RoleSystem, "sys", time.Now()),
		message.New(message.RoleUser, "u1", time.Now().Add(time.Second)),
		message.New(message.RoleAssistant, "a1", time.Now().Add(2*time.Second)),
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close()

	if err := m.Undo(1); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(m.Log().Messages) != 2 {
		t.Fatalf("expected 2 messages after undo, got %d", len(m.Log().Messages))
	}

	reloaded, err := Load(dir, false)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Log().Messages) != 2 {
		t.Fatalf("undo not persisted: got %d messages", len(reloaded.Log().Messages))
	}
}

func TestLockPreventsSecondManager(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo1")
	m, err := Create(dir, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close()

	if _, err := Load(dir, true); err == nil {
		t.Fatal("expected second locked Load to fail while first manager holds the lock")
	}
}

func TestForkCopiesMessages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo1")
	m, err := Create(dir, []message.Message{
		message.New(message.RoleSystem, "sys", time.Now()),
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close()

	forkDir := filepath.Join(t.TempDir(), "fork1")
	forked, err := m.Fork(forkDir)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	defer forked.Close()

	if len(forked.Log().Messages) != 1 {
		t.Fatalf("expected fork to carry 1 message, got %d", len(forked.Log().Messages))
	}
}

func TestGetLastCodeBlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "convo1")
	m, err := Create(dir, []message.Message{
		message.New(message.RoleAssistant, "here:\n\n```shell\nls -la\n```\n", time.Now()),
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close()

	cb, ok := m.GetLastCodeBlock(nil)
	if !ok || cb != "ls -la" {
		t.Fatalf("expected 'ls -la', got %q, ok=%v", cb, ok)
	}
}
