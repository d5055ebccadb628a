// Package main provides the CLI entry point for AgentSmithy.
//
// AgentSmithy runs one project's chat loop behind an HTTP+SSE surface:
// dialog-scoped turns stream completions from a configured LLM provider,
// execute file/search/web/command tools against the project workdir, and
// checkpoint every edit so a turn's changes can be reviewed and rolled back.
//
// # Basic Usage
//
// Start the server:
//
//	agentsmithy serve --workdir /path/to/project
//
// # Environment Variables
//
//   - OPENAI_API_KEY, OPENAI_BASE_URL
//   - MODEL, EMBEDDING_MODEL
//   - SERVER_HOST, SERVER_PORT
//   - LOG_FORMAT (pretty|json), LOG_LEVEL
//   - AGENTSMITHY_CONFIG_DIR
//   - OTEL_EXPORTER_OTLP_ENDPOINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsmithy/agentsmithy/internal/chatservice"
	"github.com/agentsmithy/agentsmithy/internal/config"
	"github.com/agentsmithy/agentsmithy/internal/dialogstore"
	"github.com/agentsmithy/agentsmithy/internal/httpapi"
	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/internal/llm/anthropic"
	"github.com/agentsmithy/agentsmithy/internal/llm/gemini"
	"github.com/agentsmithy/agentsmithy/internal/llm/openai"
	"github.com/agentsmithy/agentsmithy/internal/observability"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/rag"
	"github.com/agentsmithy/agentsmithy/internal/runtimestatus"
	"github.com/agentsmithy/agentsmithy/internal/telemetry"
	"github.com/agentsmithy/agentsmithy/internal/tools"
	"github.com/agentsmithy/agentsmithy/internal/tools/websearch"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"

	"github.com/prometheus/client_golang/prometheus"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentsmithy",
		Short:        "AgentSmithy — project-scoped coding agent server",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		workdir string
		ide     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AgentSmithy server for one project workdir",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workdir == "" {
				return &invalidArgsError{msg: "--workdir is required"}
			}
			abs, err := absWorkdir(workdir)
			if err != nil {
				return &invalidArgsError{msg: fmt.Sprintf("--workdir: %v", err)}
			}
			return runServe(cmd.Context(), abs, ide)
		},
	}

	cmd.Flags().StringVar(&workdir, "workdir", "", "Project directory; .agentsmithy/ is created here (required)")
	cmd.Flags().StringVar(&ide, "ide", "", "String identifying the IDE, injected into the system prompt")
	return cmd
}

// invalidArgsError maps to exit code 2.
type invalidArgsError struct{ msg string }

func (e *invalidArgsError) Error() string { return e.msg }

// exitCodeFor implements the spec's exit-code contract: 0 on normal
// shutdown (never reaches here — runServe returns nil), 2 for invalid
// args, anything else nonzero and >2 for startup failures.
func exitCodeFor(err error) int {
	if _, ok := err.(*invalidArgsError); ok {
		return 2
	}
	return 3
}

func absWorkdir(workdir string) (string, error) {
	if !isAbs(workdir) {
		return "", fmt.Errorf("must be an absolute path, got %q", workdir)
	}
	return workdir, nil
}

func isAbs(path string) bool {
	return len(path) > 0 && path[0] == '/'
}

// runServe wires every dependency for one project workdir, starts the HTTP
// server, and blocks until SIGINT/SIGTERM or a fatal listener error, then
// drains in-flight turns before returning.
func runServe(ctx context.Context, workdir, ide string) error {
	cfg, err := config.Load(workdir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting agentsmithy",
		"version", version,
		"commit", commit,
		"workdir", workdir,
		"llm_provider", cfg.LLM.DefaultProvider,
		"config_valid", cfg.ConfigValid,
	)
	if !cfg.ConfigValid {
		logger.Warn("configuration has validation issues", "issues", cfg.ConfigErrors)
	}

	proj := project.New(workdir, ide)
	if err := proj.EnsureLayout(); err != nil {
		return fmt.Errorf("ensure project layout: %w", err)
	}

	status, err := runtimestatus.Acquire(proj.StatusPath())
	if err != nil {
		return fmt.Errorf("acquire server status: %w", err)
	}

	store, err := dialogstore.Open(proj.MessagesDBPath())
	if err != nil {
		_ = status.Failed(err.Error())
		return fmt.Errorf("open dialog store: %w", err)
	}
	defer store.Close()

	provider, model, err := buildProvider(cfg.LLM)
	if err != nil {
		_ = status.Failed(err.Error())
		return fmt.Errorf("build llm provider: %w", err)
	}

	ragCfg := rag.DefaultConfig()
	ragCfg.ChunkSize = cfg.RAG.ChunkSize
	ragCfg.ChunkOverlap = cfg.RAG.ChunkOverlap
	ragCfg.EmbeddingModel = cfg.LLM.EmbeddingModel
	ragCfg.EmbeddingAPIKey = cfg.LLM.OpenAI.APIKey
	ragCfg.EmbeddingBaseURL = cfg.LLM.OpenAI.BaseURL
	ragIndex, err := rag.NewDefaultIndex(proj.RAGDir(), ragCfg)
	if err != nil {
		_ = status.Failed(err.Error())
		return fmt.Errorf("build rag index: %w", err)
	}

	toolRegistry, err := tools.Build(tools.Dependencies{
		Workspace:    workdir,
		WebSearch:    &websearch.Config{Headless: cfg.Tools.WebFetchHeadless},
		WebFetch:     &websearch.FetchConfig{Headless: cfg.Tools.WebFetchHeadless},
		DialogTitler: store,
		TitleSummarizer: &tools.ProviderTitleSummarizer{
			Provider: provider,
			Model:    model,
		},
	})
	if err != nil {
		_ = status.Failed(err.Error())
		return fmt.Errorf("build tool registry: %w", err)
	}

	reg := prometheus.DefaultRegisterer
	metrics := observability.NewMetrics(reg)

	tracerCfg := telemetry.Config{
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	}
	if !cfg.Observability.Tracing.Enabled {
		tracerCfg.Endpoint = ""
	}
	tracer, shutdownTracer := telemetry.New(tracerCfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	locks := toolexec.NewLocks()
	toolCfg := toolexec.DefaultConfig()
	toolCfg.MaxConcurrency = cfg.Tools.MaxParallelTools
	toolCfg.DefaultTimeout = time.Duration(cfg.Tools.RunCommandTimeoutSeconds) * time.Second
	executor := toolexec.NewExecutor(toolRegistry, locks, toolCfg)
	executor.SetObserver(metrics)
	executor.SetTracer(tracer)

	chat := chatservice.New(chatservice.Config{
		Project:     proj,
		Store:       store,
		Executor:    executor,
		RAG:         ragIndex,
		Provider:    provider,
		Model:       model,
		MaxTokens:   4096,
		Tools:       tools.Specs(),
		Thinking:    false,
		ThinkingMax: 0,

		SystemPromptBase: systemPromptBase(ide),
		Logger:           logger,
		Observer:         metrics,
		Tracer:           tracer,
	})

	apiServer := httpapi.NewServer(httpapi.Config{
		Project: proj,
		Chat:    chat,
		Store:   store,
		Status:  status,
		Metrics: metrics,
		Logger:  logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: apiServer}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := status.SetPort(cfg.Server.Port); err != nil {
			logger.Warn("failed to persist listening port", "error", err)
		}
		if err := status.Ready(); err != nil {
			logger.Warn("failed to mark status ready", "error", err)
		}
		logger.Info("agentsmithy listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = status.Failed(err.Error())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("shutdown signal received, draining in-flight turns")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx, httpServer); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("agentsmithy stopped gracefully")
	return nil
}

// buildProvider selects and constructs the configured default LLM provider,
// returning it alongside the model name turns should use.
func buildProvider(cfg config.LLMConfig) (llm.Provider, string, error) {
	switch cfg.DefaultProvider {
	case "anthropic":
		p, err := anthropic.New(anthropic.Config{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Model,
		})
		return p, cfg.Model, err
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			DefaultModel: cfg.Model,
		})
		return p, cfg.Model, err
	case "gemini":
		p, err := gemini.New(gemini.Config{
			APIKey:       cfg.Gemini.APIKey,
			DefaultModel: cfg.Model,
		})
		return p, cfg.Model, err
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.DefaultProvider)
	}
}

// systemPromptBase seeds the turn loop's system prompt with the IDE
// identifier a client supplied at startup via --ide.
func systemPromptBase(ide string) string {
	base := "You are AgentSmithy, a coding agent operating directly on the user's project workdir."
	if ide == "" {
		return base
	}
	return fmt.Sprintf("%s\n\nYou are running inside: %s.", base, ide)
}

// newLogger builds the process-wide slog handler per cfg: JSON to stderr by
// default, a human-readable text handler when LOG_FORMAT=pretty.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "pretty" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
