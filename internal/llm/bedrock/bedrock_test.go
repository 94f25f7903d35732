package bedrock

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

func TestConvertMessagesSkipsSystemAndMapsToolResults(t *testing.T) {
	now := time.Now()
	toolMsg := message.New(message.RoleTool, "42", now)
	toolMsg.CallID = "call-1"

	msgs := []message.Message{
		message.New(message.RoleSystem, "be terse", now),
		message.New(message.RoleUser, "what is 6*7", now),
		toolMsg,
	}

	out := convertMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("expected system message dropped, got %d messages", len(out))
	}
	if out[0].Role != types.ConversationRoleUser {
		t.Fatalf("expected first message to be user role")
	}

	toolResult, ok := out[1].Content[0].(*types.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("expected tool result content block, got %T", out[1].Content[0])
	}
	if toolResult.Value.ToolUseId == nil || *toolResult.Value.ToolUseId != "call-1" {
		t.Fatalf("expected tool use id 'call-1', got %+v", toolResult.Value.ToolUseId)
	}
}

func TestSystemBlocksJoinsSystemMessages(t *testing.T) {
	now := time.Now()
	msgs := []message.Message{
		message.New(message.RoleSystem, "first", now),
		message.New(message.RoleSystem, "second", now),
	}
	blocks := systemBlocks(msgs)
	if len(blocks) != 1 {
		t.Fatalf("expected a single merged system block, got %d", len(blocks))
	}
	textBlock, ok := blocks[0].(*types.SystemContentBlockMemberText)
	if !ok || textBlock.Value != "first\n\nsecond" {
		t.Fatalf("unexpected merged system text: %+v", blocks[0])
	}
}

func TestConvertToolsBuildsToolConfiguration(t *testing.T) {
	tools := []tool.Spec{{Name: "save", Description: "writes a file"}}
	cfg := convertTools(tools)
	if cfg == nil || len(cfg.Tools) != 1 {
		t.Fatalf("expected one configured tool, got %+v", cfg)
	}
}

func TestConvertToolsEmptyReturnsNil(t *testing.T) {
	if cfg := convertTools(nil); cfg != nil {
		t.Fatalf("expected nil tool configuration for no tools, got %+v", cfg)
	}
}

func TestIsRetryableClassifiesThrottling(t *testing.T) {
	if !isRetryable(errMsg("ThrottlingException: rate exceeded")) {
		t.Fatal("expected throttling error to be retryable")
	}
	if isRetryable(errMsg("ValidationException: bad model id")) {
		t.Fatal("expected validation error to be non-retryable")
	}
}

type errMsg string

func (e errMsg) Error() string { return string(e) }
