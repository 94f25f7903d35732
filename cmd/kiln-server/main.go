// Command kiln-server is the HTTP/SSE entrypoint of spec.md §4.7,
// wiring internal/server's session machine, internal/eventlog's
// durable event mirror, and internal/observability's metrics/logging
// over a shared internal/session.Engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilnai/kiln/internal/config"
	kctx "github.com/kilnai/kiln/internal/context"
	"github.com/kilnai/kiln/internal/eventlog"
	"github.com/kilnai/kiln/internal/fswatch"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/llm/anthropic"
	"github.com/kilnai/kiln/internal/llm/bedrock"
	"github.com/kilnai/kiln/internal/llm/gemini"
	"github.com/kilnai/kiln/internal/llm/openai"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/observability"
	"github.com/kilnai/kiln/internal/server"
	"github.com/kilnai/kiln/internal/session"
	"github.com/kilnai/kiln/internal/tool"
	"github.com/kilnai/kiln/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	eventDBPath := flag.String("event-db", "", "path to the sqlite event mirror (empty = in-memory)")
	flag.Parse()

	if err := run(*configPath, *eventDBPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, eventDBPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Server.LogsHome, 0o755); err != nil {
		return fmt.Errorf("kiln-server: create logs home: %w", err)
	}

	discovered := tools.Discover(cfg.Tools.Workspace)
	registry := tool.Build(discovered, cfg.Tools.Allowlist)
	for _, res := range registry.Activate() {
		if !res.Available {
			logger.Warn("tool unavailable", "tool", res.Tool, "reason", res.Reason)
		}
	}

	adapter, model, err := buildAdapter(cfg.Model)
	if err != nil {
		return err
	}

	cache := fswatch.New(cfg.Tools.Workspace)
	if err := cache.Start(ctx); err != nil {
		logger.Warn("file watch disabled", "error", err)
	}
	defer cache.Close()

	store, err := eventlog.Open(eventDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	eng := &session.Engine{
		Registry:       registry,
		Adapter:        adapter,
		Model:          model,
		Workspace:      cfg.Tools.Workspace,
		ToolFormat:     message.ToolFormat(cfg.Model.ToolFormat),
		FileCache:      cache,
		Estimator:      kctx.DefaultEstimator,
		BreakOnToolUse: cfg.Model.BreakOnToolUse,
		Events:         store,
		Metrics:        metrics,
	}

	manager := session.NewManager(eng, cfg.Session.IdleTimeout)

	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		LogsHome:       cfg.Server.LogsHome,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		Engine:         eng,
		Sessions:       manager,
		Events:         store,
		Logger:         logger,
		Metrics:        metrics,
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Stop(context.Background())
	return nil
}

func buildAdapter(m config.ModelConfig) (llm.Adapter, llm.ModelInfo, error) {
	info := llm.ModelInfo{
		ID:                m.ID,
		Provider:          m.Provider,
		Context:           m.Context,
		MaxOutput:         m.MaxOutput,
		SupportsStreaming: m.SupportsStreaming,
		SupportsVision:    m.SupportsVision,
	}

	switch m.Provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: os.Getenv("ANTHROPIC_API_KEY")}), info, nil
	case "openai":
		return openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")}), info, nil
	case "gemini":
		return gemini.New(gemini.Config{APIKey: os.Getenv("GEMINI_API_KEY")}), info, nil
	case "bedrock":
		return bedrock.New(bedrock.Config{}), info, nil
	default:
		return llm.Adapter{}, llm.ModelInfo{}, fmt.Errorf("kiln-server: unknown model provider %q", m.Provider)
	}
}
