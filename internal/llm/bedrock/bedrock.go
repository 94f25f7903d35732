// Package bedrock adapts the AWS Bedrock Converse/ConverseStream API to
// the internal/llm.Adapter contract, grounded on the donor's
// internal/agent/providers/bedrock.go and internal/agent/toolconv/bedrock.go.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// Config configures the adapter.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// New builds the Bedrock llm.Adapter. A client construction failure is
// deferred to the first call so New itself never returns an error,
// matching the other adapters' signatures.
func New(cfg Config) llm.Adapter {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return llm.Adapter{
			Name: "bedrock",
			Chat: func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (string, error) {
				return "", fmt.Errorf("bedrock: load AWS config: %w", err)
			},
		}
	}
	client := bedrockruntime.NewFromConfig(awsCfg)

	return llm.Adapter{
		Name:   "bedrock",
		Chat:   chat(client),
		Stream: stream(client),
	}
}

func convertMessages(messages []message.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == message.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if m.Content != "" {
			if m.Role == message.RoleTool {
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.CallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				})
			} else {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if m.Role == message.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func systemBlocks(messages []message.Message) []types.SystemContentBlock {
	var sys strings.Builder
	for _, m := range messages {
		if m.Role != message.RoleSystem {
			continue
		}
		if sys.Len() > 0 {
			sys.WriteString("\n\n")
		}
		sys.WriteString(m.Content)
	}
	if sys.Len() == 0 {
		return nil
	}
	return []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: sys.String()}}
}

func convertTools(tools []tool.Spec) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.Tool, len(tools))
	for i, t := range tools {
		schemaBytes, err := json.Marshal(t.Schema())
		var schema any
		if err != nil || json.Unmarshal(schemaBytes, &schema) != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: out}
}

func buildInput(messages []message.Message, model llm.ModelInfo, tools []tool.Spec) *bedrockruntime.ConverseStreamInput {
	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model.ID),
		Messages: convertMessages(messages),
		System:   systemBlocks(messages),
	}
	if model.MaxOutput > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(model.MaxOutput))}
	}
	if cfg := convertTools(tools); cfg != nil {
		in.ToolConfig = cfg
	}
	return in
}

func chat(client *bedrockruntime.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (string, error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
		var reply string
		err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
			in := buildInput(messages, model, tools)
			streamOut, err := client.ConverseStream(ctx, in)
			if err != nil {
				return err
			}
			text, callErr := collectStream(ctx, streamOut)
			if callErr != nil {
				return callErr
			}
			reply = text
			return nil
		})
		return reply, err
	}
}

// collectStream drains a ConverseStream to completion, used by chat's
// non-streaming facade.
func collectStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) (string, error) {
	eventStream := out.GetStream()
	defer eventStream.Close()

	var b strings.Builder
	var callID, callName string
	var input strings.Builder
	inToolUse := false

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-eventStream.Events():
			if !ok {
				return b.String(), eventStream.Err()
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					inToolUse = true
					callID = aws.ToString(toolUse.Value.ToolUseId)
					callName = aws.ToString(toolUse.Value.Name)
					input.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					b.WriteString(delta.Value)
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						input.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if inToolUse {
					fmt.Fprintf(&b, "\n@%s(%s): %s", callName, callID, input.String())
					inToolUse = false
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return b.String(), nil
			}
		}
	}
}

func stream(client *bedrockruntime.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (<-chan llm.Chunk, <-chan error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (<-chan llm.Chunk, <-chan error) {
		chunks := make(chan llm.Chunk)
		errs := make(chan error, 1)

		go func() {
			defer close(chunks)
			defer close(errs)

			err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
				in := buildInput(messages, model, tools)
				out, err := client.ConverseStream(ctx, in)
				if err != nil {
					return err
				}
				return processStream(ctx, out, chunks)
			})
			if err != nil {
				errs <- err
			}
		}()

		return chunks, errs
	}
}

func processStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, chunks chan<- llm.Chunk) error {
	eventStream := out.GetStream()
	defer eventStream.Close()

	var callID, callName string
	var input strings.Builder
	inToolUse := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-eventStream.Events():
			if !ok {
				return eventStream.Err()
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					inToolUse = true
					callID = aws.ToString(toolUse.Value.ToolUseId)
					callName = aws.ToString(toolUse.Value.Name)
					input.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						select {
						case chunks <- llm.Chunk{Text: delta.Value}:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						input.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if inToolUse {
					inToolUse = false
					raw := []byte(input.String())
					select {
					case chunks <- llm.Chunk{
						Text: fmt.Sprintf("\n@%s(%s): %s", callName, callID, string(raw)),
						Call: &llm.ToolCallChunk{CallID: callID, Name: callName, Input: raw},
					}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return nil
			}
		}
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"ThrottlingException", "TooManyRequestsException", "ServiceUnavailableException", "rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
