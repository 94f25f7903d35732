package config

// ToolsConfig controls which tools are activated and how confirmation
// is gated (spec.md §4.4's TOOL_ALLOWLIST env var, §4.6's
// --non-interactive flag).
type ToolsConfig struct {
	// Allowlist restricts activation to these tool names; empty means
	// every available tool is activated.
	Allowlist []string `yaml:"allowlist"`

	// NonInteractive auto-confirms every tool-use without prompting,
	// used by headless/CI invocations of cmd/kiln.
	NonInteractive bool `yaml:"non_interactive"`

	// Workspace is the directory tools operate relative to.
	Workspace string `yaml:"workspace"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{}
}
