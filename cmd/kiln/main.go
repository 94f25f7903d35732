// Command kiln is the interactive CLI entrypoint of spec.md §4.6,
// driving internal/agentloop against a local conversation log. It is
// grounded on the donor's cmd/ cobra wiring, generalized from nexus's
// gateway-process bootstrap to a single-shot agent-loop invocation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kilnai/kiln/internal/agentloop"
	kctx "github.com/kilnai/kiln/internal/context"
	"github.com/kilnai/kiln/internal/convo"
	"github.com/kilnai/kiln/internal/fswatch"
	"github.com/kilnai/kiln/internal/llm"
	"github.com/kilnai/kiln/internal/llm/anthropic"
	"github.com/kilnai/kiln/internal/llm/bedrock"
	"github.com/kilnai/kiln/internal/llm/gemini"
	"github.com/kilnai/kiln/internal/llm/openai"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/observability"
	"github.com/kilnai/kiln/internal/tool"
	"github.com/kilnai/kiln/internal/tools"

	"github.com/kilnai/kiln/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		workspace      string
		resume         bool
		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "kiln [name]",
		Short: "Run an interactive agent conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if workspace != "" {
				cfg.Tools.Workspace = workspace
			}
			if nonInteractive {
				cfg.Tools.NonInteractive = true
			}

			var name string
			if len(args) > 0 {
				name = args[0]
			}
			return runCLI(cmd.Context(), cfg, name, resume)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory tools operate in")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the most recently modified conversation")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "auto-confirm every tool use")

	return cmd
}

func runCLI(ctx context.Context, cfg config.Config, name string, resume bool) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logsHome := cfg.Server.LogsHome
	if err := os.MkdirAll(logsHome, 0o755); err != nil {
		return fmt.Errorf("kiln: create logs home: %w", err)
	}

	log, err := openOrCreateLog(logsHome, name, resume, cfg.Tools.Workspace)
	if err != nil {
		return err
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

	reader := bufio.NewReader(os.Stdin)
	loop := agentloop.New(agentloop.Config{
		Log:        log,
		Registry:   registry,
		Adapter:    adapter,
		Model:      model,
		Confirm:    buildConfirmFunc(cfg.Tools.NonInteractive),
		Workspace:  cfg.Tools.Workspace,
		ToolFormat: message.ToolFormat(cfg.Model.ToolFormat),
		Prompt:     buildPromptFunc(reader),
		FileCache:  cache,
		Estimator:  kctx.DefaultEstimator,
		PreCommit:  buildPreCommit(cfg),
	})

	logger.Info("starting conversation", "dir", log.Dir())
	return loop.Run(ctx)
}

func openOrCreateLog(logsHome, name string, resume bool, workspace string) (*convo.LogManager, error) {
	if resume {
		if recent, ok := convo.MostRecent(logsHome); ok {
			return convo.Load(filepath.Join(logsHome, recent), true)
		}
	}
	if name == "" {
		name = time.Now().UTC().Format("20060102-150405")
	}
	dir := filepath.Join(logsHome, name)
	if m, err := convo.Load(dir, true); err == nil {
		return m, nil
	}
	return convo.Create(dir, nil, workspace)
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
		return llm.Adapter{}, llm.ModelInfo{}, fmt.Errorf("kiln: unknown model provider %q", m.Provider)
	}
}

// buildConfirmFunc prompts on the controlling terminal for each
// pending tool-use, unless nonInteractive auto-confirms everything
// (spec.md §4.6's --non-interactive flag).
func buildConfirmFunc(nonInteractive bool) tool.ConfirmFunc {
	if nonInteractive {
		return func(string) bool { return true }
	}
	return func(prompt string) bool {
		fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return false
		}
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes"
	}
}

func buildPromptFunc(reader *bufio.Reader) agentloop.PromptFunc {
	return func(ctx context.Context) (string, bool) {
		fmt.Fprint(os.Stderr, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", false
		}
		return strings.TrimRight(line, "\n"), true
	}
}

func buildPreCommit(cfg config.Config) func(context.Context) (string, error) {
	if !cfg.PreCommitCheck {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return "", nil
	}
}
