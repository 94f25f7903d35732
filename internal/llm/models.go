package llm

// ModelTable is the process-wide, read-only capability table (spec.md
// §9: "the model metadata table is read-only"), keyed by
// "provider/model" as accepted by the CLI's --model flag.
var ModelTable = map[string]ModelInfo{
	"anthropic/claude-opus-4-6": {
		ID: "claude-opus-4-6", Provider: "anthropic",
		Context: 200000, MaxOutput: 32000,
		SupportsStreaming: true, SupportsVision: true,
	},
	"anthropic/claude-sonnet-4-6": {
		ID: "claude-sonnet-4-6", Provider: "anthropic",
		Context: 200000, MaxOutput: 16000,
		SupportsStreaming: true, SupportsVision: true,
	},
	"openai/gpt-5": {
		ID: "gpt-5", Provider: "openai",
		Context: 128000, MaxOutput: 16384,
		SupportsStreaming: true, SupportsVision: true,
	},
	"openai/gpt-5-mini": {
		ID: "gpt-5-mini", Provider: "openai",
		Context: 128000, MaxOutput: 16384,
		SupportsStreaming: true, SupportsVision: false,
	},
	"google/gemini-2.5-pro": {
		ID: "gemini-2.5-pro", Provider: "google",
		Context: 1000000, MaxOutput: 8192,
		SupportsStreaming: true, SupportsVision: true,
	},
	"bedrock/anthropic.claude-opus-4-6-v1": {
		ID: "anthropic.claude-opus-4-6-v1", Provider: "bedrock",
		Context: 200000, MaxOutput: 32000,
		SupportsStreaming: true, SupportsVision: true,
	},
}

// Lookup returns the capability entry for a "provider/model" identifier.
func Lookup(id string) (ModelInfo, bool) {
	m, ok := ModelTable[id]
	return m, ok
}
