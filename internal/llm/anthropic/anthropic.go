// Package anthropic adapts the Anthropic Messages API (streaming and
// non-streaming) to the internal/llm.Adapter contract, grounded on the
// donor's internal/agent/providers/anthropic.go.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// Config configures the adapter.
type Config struct {
	APIKey  string
	BaseURL string
}

// New builds the Anthropic llm.Adapter.
func New(cfg Config) llm.Adapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return llm.Adapter{
		Name:   "anthropic",
		Chat:   chat(client),
		Stream: stream(client),
	}
}

func buildParams(messages []message.Message, model llm.ModelInfo, tools []tool.Spec) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ID),
		MaxTokens: int64(model.MaxOutput),
	}

	var sys strings.Builder
	var rest []message.Message
	for _, m := range messages {
		if m.Role == message.RoleSystem {
			if sys.Len() > 0 {
				sys.WriteString("\n\n")
			}
			sys.WriteString(m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if sys.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Text: sys.String()}}
	}

	params.Messages = convertMessages(rest)

	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

func convertMessages(messages []message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case message.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case message.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case message.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func convertTools(tools []tool.Spec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := t.Schema()
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
				},
			},
		})
	}
	return out
}

func chat(client anthropic.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (string, error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
		params := buildParams(messages, model, tools)
		var reply string
		err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
			resp, err := client.Messages.New(ctx, params)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, block := range resp.Content {
				if text := block.AsText(); text.Text != "" {
					b.WriteString(text.Text)
				} else if toolUse := block.AsToolUse(); toolUse.ID != "" {
					fmt.Fprintf(&b, "\n@%s(%s): %s", toolUse.Name, toolUse.ID, string(toolUse.Input))
				}
			}
			reply = b.String()
			return nil
		})
		return reply, err
	}
}

func stream(client anthropic.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (<-chan llm.Chunk, <-chan error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (<-chan llm.Chunk, <-chan error) {
		chunks := make(chan llm.Chunk)
		errs := make(chan error, 1)

		go func() {
			defer close(chunks)
			defer close(errs)

			params := buildParams(messages, model, tools)
			err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
				s := client.Messages.NewStreaming(ctx, params)

				var currentCallID, currentCallName string
				var currentInput strings.Builder
				inToolUse := false

				for s.Next() {
					event := s.Current()
					switch event.Type {
					case "content_block_start":
						start := event.AsContentBlockStart()
						if toolUse := start.ContentBlock.AsToolUse(); toolUse.ID != "" {
							inToolUse = true
							currentCallID = toolUse.ID
							currentCallName = toolUse.Name
							currentInput.Reset()
						}
					case "content_block_delta":
						delta := event.AsContentBlockDelta()
						if delta.Delta.Text != "" {
							select {
							case chunks <- llm.Chunk{Text: delta.Delta.Text}:
							case <-ctx.Done():
								return ctx.Err()
							}
						}
						if delta.Delta.PartialJSON != "" {
							currentInput.WriteString(delta.Delta.PartialJSON)
						}
					case "content_block_stop":
						if inToolUse {
							inToolUse = false
							input := []byte(currentInput.String())
							select {
							case chunks <- llm.Chunk{
								Text: fmt.Sprintf("\n@%s(%s): %s", currentCallName, currentCallID, string(input)),
								Call: &llm.ToolCallChunk{CallID: currentCallID, Name: currentCallName, Input: input},
							}:
							case <-ctx.Done():
								return ctx.Err()
							}
						}
					}
				}
				return s.Err()
			})
			if err != nil {
				errs <- err
			}
		}()

		return chunks, errs
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	ae, ok := err.(*anthropic.Error)
	if ok {
		*target = ae
	}
	return ok
}
