package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds a Config starting from Default(), layering a YAML file
// at path (if it exists) and then environment variables (spec.md §6's
// table) on top, in that order of increasing precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			dec := yaml.NewDecoder(strings.NewReader(string(data)))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides cfg with spec.md §6's environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MODEL"); v != "" {
		cfg.Model.ID = v
	}
	if v := os.Getenv("TOOL_FORMAT"); v != "" {
		cfg.Model.ToolFormat = v
	}
	if v := os.Getenv("TOOL_ALLOWLIST"); v != "" {
		cfg.Tools.Allowlist = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("GPTME_FRESH"); ok {
		cfg.FreshContext = truthy(v)
	}
	if v, ok := os.LookupEnv("GPTME_CHECK"); ok {
		cfg.PreCommitCheck = truthy(v)
	}
	if v := os.Getenv("GPTME_LOGS_HOME"); v != "" {
		cfg.Server.LogsHome = v
	}
	if v, ok := os.LookupEnv("GPTME_BREAK_ON_TOOLUSE"); ok {
		cfg.Model.BreakOnToolUse = truthy(v)
	}
	if v, ok := os.LookupEnv("GPTME_COSTS"); ok {
		cfg.CostAccounting = truthy(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// truthy parses the loose boolean vocabulary gptme's environment
// variables accept ("1", "true", "yes" and their negations).
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off", "":
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return false
}

// defaultLogsHome mirrors gptme's ~/.local/share/gptme/logs default.
func defaultLogsHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".kiln", "logs")
	}
	return filepath.Join(home, ".local", "share", "kiln", "logs")
}
