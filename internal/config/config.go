// Package config assembles the process configuration for both
// cmd/kiln and cmd/kiln-server: model selection, tool allowlisting,
// HTTP server binding, session/idle behavior, and logging. It is
// grounded on the donor's internal/config package (one file per
// concern, gopkg.in/yaml.v3 with KnownFields(true), defaults layered
// under environment-variable overrides), simplified to this module's
// single-file YAML document (the donor's $include/json5 merging has no
// use case here since there's one config file per process, not a
// multi-gateway fleet).
package config

// Config is the root configuration document (spec.md §6's environment
// variables and CLI flags, surfaced here as their config-file
// equivalents).
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Tools   ToolsConfig   `yaml:"tools"`
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`

	// FreshContext mirrors GPTME_FRESH: skip the saved context block,
	// rebuild it from the workspace on every assemble.
	FreshContext bool `yaml:"fresh_context"`

	// PreCommitCheck mirrors GPTME_CHECK: run the workspace's
	// pre-commit hook after file-modifying tool use.
	PreCommitCheck bool `yaml:"pre_commit_check"`

	// CostAccounting mirrors GPTME_COSTS: track and report estimated
	// per-step token cost.
	CostAccounting bool `yaml:"cost_accounting"`
}

// Default returns the built-in baseline, overridden by Load's file and
// environment-variable layers.
func Default() Config {
	return Config{
		Model:   defaultModelConfig(),
		Tools:   defaultToolsConfig(),
		Server:  defaultServerConfig(),
		Session: defaultSessionConfig(),
		Logging: defaultLoggingConfig(),

		PreCommitCheck: true,
	}
}
