package config

// ServerConfig binds cmd/kiln-server's HTTP listener (spec.md §6's
// server-mode host/port flags).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// LogsHome is the directory holding conversation logs (spec.md
	// §6's GPTME_LOGS_HOME).
	LogsHome string `yaml:"logs_home"`

	// MetricsEnabled mounts /metrics; true by default since
	// prometheus/client_golang is part of the ambient stack regardless
	// of which spec features are scoped out.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           8080,
		LogsHome:       defaultLogsHome(),
		MetricsEnabled: true,
	}
}
