package config

// ModelConfig selects the LLM provider/model and its capability flags
// (spec.md §4.5's per-model capability table; MODEL env var of §6).
type ModelConfig struct {
	ID                string `yaml:"id"`
	Provider          string `yaml:"provider"`
	Context           int    `yaml:"context"`
	MaxOutput         int    `yaml:"max_output"`
	SupportsStreaming bool   `yaml:"supports_streaming"`
	SupportsVision    bool   `yaml:"supports_vision"`

	// ToolFormat is one of "markdown", "xml", "tool" (spec.md §4.4's
	// TOOL_FORMAT env var).
	ToolFormat string `yaml:"tool_format"`

	// BreakOnToolUse mirrors GPTME_BREAK_ON_TOOLUSE, defaulting true.
	BreakOnToolUse bool `yaml:"break_on_tool_use"`
}

func defaultModelConfig() ModelConfig {
	return ModelConfig{
		ID:                "claude-sonnet-4-5",
		Provider:          "anthropic",
		Context:           200_000,
		MaxOutput:         8192,
		SupportsStreaming: true,
		ToolFormat:        "markdown",
		BreakOnToolUse:    true,
	}
}
