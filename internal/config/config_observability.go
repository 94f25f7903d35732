package config

// LoggingConfig mirrors internal/observability.LogConfig's fields,
// kept in internal/config so it round-trips through YAML/env like
// every other concern.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json"}
}
