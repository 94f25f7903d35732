// Package openai adapts go-openai's chat completion streaming API to
// the internal/llm.Adapter contract, grounded on the donor's
// internal/agent/providers/openai.go.
package openai

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// buildingCall accumulates one streamed tool-call's fields across
// multiple delta chunks, keyed by the provider's choice index.
type buildingCall struct {
	id, name string
	args     strings.Builder
}

// Config configures the adapter.
type Config struct {
	APIKey  string
	BaseURL string
}

// New builds the OpenAI llm.Adapter.
func New(cfg Config) llm.Adapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	return llm.Adapter{
		Name:   "openai",
		Chat:   chat(client),
		Stream: stream(client),
	}
}

func buildRequest(messages []message.Message, model llm.ModelInfo, tools []tool.Spec, streaming bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:     model.ID,
		Messages:  convertMessages(messages),
		MaxTokens: model.MaxOutput,
		Stream:    streaming,
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}
	return req
}

func convertMessages(messages []message.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case message.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case message.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case message.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.CallID,
			})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func convertTools(tools []tool.Spec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema(),
			},
		})
	}
	return out
}

func chat(client *openai.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (string, error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
		req := buildRequest(messages, model, tools, false)
		var reply string
		err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
			resp, err := client.CreateChatCompletion(ctx, req)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("openai: empty choices in response")
			}
			msg := resp.Choices[0].Message
			var b strings.Builder
			b.WriteString(msg.Content)
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(&b, "\n@%s(%s): %s", tc.Function.Name, tc.ID, tc.Function.Arguments)
			}
			reply = b.String()
			return nil
		})
		return reply, err
	}
}

func stream(client *openai.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (<-chan llm.Chunk, <-chan error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (<-chan llm.Chunk, <-chan error) {
		chunks := make(chan llm.Chunk)
		errs := make(chan error, 1)

		go func() {
			defer close(chunks)
			defer close(errs)

			req := buildRequest(messages, model, tools, true)
			err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
				s, err := client.CreateChatCompletionStream(ctx, req)
				if err != nil {
					return err
				}
				defer s.Close()

				calls := map[int]*buildingCall{}

				for {
					resp, err := s.Recv()
					if err == io.EOF {
						for _, idx := range orderedIndices(calls) {
							c := calls[idx]
							input := []byte(c.args.String())
							select {
							case chunks <- llm.Chunk{
								Text: fmt.Sprintf("\n@%s(%s): %s", c.name, c.id, string(input)),
								Call: &llm.ToolCallChunk{CallID: c.id, Name: c.name, Input: input},
							}:
							case <-ctx.Done():
								return ctx.Err()
							}
						}
						return nil
					}
					if err != nil {
						return err
					}
					if len(resp.Choices) == 0 {
						continue
					}
					delta := resp.Choices[0].Delta
					if delta.Content != "" {
						select {
						case chunks <- llm.Chunk{Text: delta.Content}:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
					for _, tc := range delta.ToolCalls {
						idx := 0
						if tc.Index != nil {
							idx = *tc.Index
						}
						b, ok := calls[idx]
						if !ok {
							b = &buildingCall{}
							calls[idx] = b
						}
						if tc.ID != "" {
							b.id = tc.ID
						}
						if tc.Function.Name != "" {
							b.name = tc.Function.Name
						}
						if tc.Function.Arguments != "" {
							b.args.WriteString(tc.Function.Arguments)
						}
					}
				}
			})
			if err != nil {
				errs <- err
			}
		}()

		return chunks, errs
	}
}

func orderedIndices(m map[int]*buildingCall) []int {
	indices := make([]int, 0, len(m))
	for i := range m {
		indices = append(indices, i)
	}
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j] < indices[j-1]; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}
	return indices
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if ok := asOpenAIError(err, &apiErr); ok {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}

func asOpenAIError(err error, target **openai.APIError) bool {
	ae, ok := err.(*openai.APIError)
	if ok {
		*target = ae
	}
	return ok
}
