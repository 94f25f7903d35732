package gemini

import (
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

func TestConvertMessagesSkipsSystemAndMapsRoles(t *testing.T) {
	now := time.Now()
	msgs := []message.Message{
		message.New(message.RoleSystem, "be terse", now),
		message.New(message.RoleUser, "hello", now),
		message.New(message.RoleAssistant, "hi there", now),
	}

	out := convertMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("expected system message to be dropped, got %d contents", len(out))
	}
	if out[0].Role != genai.RoleUser {
		t.Fatalf("expected first content to be user role, got %q", out[0].Role)
	}
	if out[1].Role != genai.RoleModel {
		t.Fatalf("expected second content to be model role, got %q", out[1].Role)
	}
}

func TestSystemInstructionJoinsSystemMessages(t *testing.T) {
	now := time.Now()
	msgs := []message.Message{
		message.New(message.RoleSystem, "first", now),
		message.New(message.RoleSystem, "second", now),
		message.New(message.RoleUser, "hi", now),
	}

	instr := systemInstruction(msgs)
	if instr == nil || len(instr.Parts) != 1 {
		t.Fatalf("expected a single merged system part, got %+v", instr)
	}
	if instr.Parts[0].Text != "first\n\nsecond" {
		t.Fatalf("unexpected merged system text: %q", instr.Parts[0].Text)
	}
}

func TestSystemInstructionNilWithoutSystemMessages(t *testing.T) {
	msgs := []message.Message{message.New(message.RoleUser, "hi", time.Now())}
	if instr := systemInstruction(msgs); instr != nil {
		t.Fatalf("expected nil system instruction, got %+v", instr)
	}
}

func TestConvertToolsBuildsFunctionDeclarations(t *testing.T) {
	tools := []tool.Spec{
		{
			Name:        "read",
			Description: "reads a file",
			Parameters: []tool.Parameter{
				{Name: "path", Type: "string", Required: true},
			},
		},
	}

	out := convertTools(tools)
	if len(out) != 1 || len(out[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected one tool with one declaration, got %+v", out)
	}
	decl := out[0].FunctionDeclarations[0]
	if decl.Name != "read" {
		t.Fatalf("expected declaration name 'read', got %q", decl.Name)
	}
	if decl.Parameters == nil || decl.Parameters.Properties["path"] == nil {
		t.Fatalf("expected a 'path' property in the converted schema")
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "path" {
		t.Fatalf("expected 'path' to be required, got %+v", decl.Parameters.Required)
	}
}

func TestConvertToolsEmptyReturnsNil(t *testing.T) {
	if out := convertTools(nil); out != nil {
		t.Fatalf("expected nil for no tools, got %+v", out)
	}
}

func TestIsRetryableClassifiesOverloadErrors(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"rate limit exceeded", true},
		{"503 service unavailable", true},
		{"invalid argument", false},
	}
	for _, c := range cases {
		got := isRetryable(errMsg(c.msg))
		if got != c.want {
			t.Errorf("isRetryable(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type errMsg string

func (e errMsg) Error() string { return string(e) }
