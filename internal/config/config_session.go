package config

import "time"

// SessionConfig controls internal/session.Manager's lifecycle (spec.md
// §4.7: "a server process holds one Session per open conversation,
// swept after an idle timeout").
type SessionConfig struct {
	// IdleTimeout is how long an IDLE session may go without activity
	// before Manager.Sweep reclaims it. Zero disables the sweep.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

func defaultSessionConfig() SessionConfig {
	return SessionConfig{IdleTimeout: 30 * time.Minute}
}
