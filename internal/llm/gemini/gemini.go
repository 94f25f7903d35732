// Package gemini adapts google.golang.org/genai's streaming iterator API
// to the internal/llm.Adapter contract, grounded on the donor's
// internal/agent/providers/google.go and internal/agent/toolconv/gemini.go.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/tool"
)

// Config configures the adapter.
type Config struct {
	APIKey string
}

// New builds the Gemini llm.Adapter.
func New(cfg Config) llm.Adapter {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return llm.Adapter{
			Name: "gemini",
			Chat: func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (string, error) {
				return "", fmt.Errorf("gemini: client init failed: %w", err)
			},
		}
	}

	return llm.Adapter{
		Name:   "gemini",
		Chat:   chat(client),
		Stream: stream(client),
	}
}

func convertMessages(messages []message.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == message.RoleSystem {
			continue
		}
		content := &genai.Content{}
		switch m.Role {
		case message.RoleUser, message.RoleTool:
			content.Role = genai.RoleUser
		case message.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}
		if m.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func systemInstruction(messages []message.Message) *genai.Content {
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
	return &genai.Content{Parts: []*genai.Part{{Text: sys.String()}}}
}

func buildConfig(messages []message.Message, model llm.ModelInfo, tools []tool.Spec) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	config.SystemInstruction = systemInstruction(messages)
	if model.MaxOutput > 0 {
		config.MaxOutputTokens = int32(model.MaxOutput)
	}
	if len(tools) > 0 {
		config.Tools = convertTools(tools)
	}
	return config
}

func convertTools(tools []tool.Spec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schemaBytes, err := json.Marshal(t.Schema())
		if err != nil {
			continue
		}
		var schemaMap map[string]any
		if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func chat(client *genai.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (string, error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (string, error) {
		contents := convertMessages(messages)
		config := buildConfig(messages, model, tools)

		var reply string
		err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
			resp, err := client.Models.GenerateContent(ctx, model.ID, contents, config)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						b.WriteString(part.Text)
					}
					if part.FunctionCall != nil {
						argsJSON, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							argsJSON = []byte("{}")
						}
						fmt.Fprintf(&b, "\n@%s(%s): %s", part.FunctionCall.Name, part.FunctionCall.Name, string(argsJSON))
					}
				}
			}
			reply = b.String()
			return nil
		})
		return reply, err
	}
}

func stream(client *genai.Client) func(context.Context, []message.Message, llm.ModelInfo, []tool.Spec) (<-chan llm.Chunk, <-chan error) {
	return func(ctx context.Context, messages []message.Message, model llm.ModelInfo, tools []tool.Spec) (<-chan llm.Chunk, <-chan error) {
		chunks := make(chan llm.Chunk)
		errs := make(chan error, 1)

		go func() {
			defer close(chunks)
			defer close(errs)

			contents := convertMessages(messages)
			config := buildConfig(messages, model, tools)

			err := llm.Retry(ctx, llm.DefaultRetryConfig(), isRetryable, func() error {
				streamIter := client.Models.GenerateContentStream(ctx, model.ID, contents, config)
				callSeq := 0

				for resp, err := range streamIter {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
					if err != nil {
						return err
					}
					if resp == nil {
						continue
					}
					for _, cand := range resp.Candidates {
						if cand.Content == nil {
							continue
						}
						for _, part := range cand.Content.Parts {
							if part == nil {
								continue
							}
							if part.Text != "" {
								select {
								case chunks <- llm.Chunk{Text: part.Text}:
								case <-ctx.Done():
									return ctx.Err()
								}
							}
							if part.FunctionCall != nil {
								callSeq++
								argsJSON, err := json.Marshal(part.FunctionCall.Args)
								if err != nil {
									argsJSON = []byte("{}")
								}
								callID := fmt.Sprintf("%s-%d", part.FunctionCall.Name, callSeq)
								select {
								case chunks <- llm.Chunk{
									Text: fmt.Sprintf("\n@%s(%s): %s", part.FunctionCall.Name, callID, string(argsJSON)),
									Call: &llm.ToolCallChunk{CallID: callID, Name: part.FunctionCall.Name, Input: argsJSON},
								}:
								case <-ctx.Done():
									return ctx.Err()
								}
							}
						}
					}
				}
				return nil
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
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "too many requests", "resource exhausted", "quota", "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
