// Package observability provides structured logging, Prometheus
// metrics, and OpenTelemetry tracing for the agent loop and HTTP
// session server, grounded on the donor's observability package
// (logging.go, metrics.go, tracing.go) and scaled down to this
// module's domain: generation steps, tool executions, sessions, and
// SSE clients rather than multi-channel message routing.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the process logger (spec.md §6's LOG_LEVEL/
// LOG_FORMAT environment variables, surfaced through internal/config).
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text"; JSON is recommended for production.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file:line in each record.
	AddSource bool
}

// redactPatterns catches secrets that tool output or LLM responses
// might otherwise leak into logs: API keys/tokens/passwords passed as
// key=value pairs, and provider-specific key prefixes.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`),
	regexp.MustCompile(`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`),
	regexp.MustCompile(`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`),
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{95,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{48,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
}

// NewLogger builds a *slog.Logger per cfg, redacting secrets from both
// the log message and any string-valued attributes. If cfg.Output is
// nil, logs go to os.Stdout; an empty Level/Format default to "info"/
// "json".
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactAttr is an slog.HandlerOptions.ReplaceAttr hook that redacts
// secrets out of string-valued attributes and the record message.
func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	a.Value = slog.StringValue(redact(a.Value.String()))
	return a
}

func redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
