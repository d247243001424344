// Command jobvoice is the voice assistant that keeps a job application
// tracker up to date.
//
// Usage:
//
//	jobvoice [-config path] [serve]
//	jobvoice [-config path] reconcile [-query q] [message-id ...]
//	jobvoice [-config path] mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/jobvoice/internal/app"
	"github.com/MrWong99/jobvoice/internal/assistant"
	"github.com/MrWong99/jobvoice/internal/config"
	"github.com/MrWong99/jobvoice/internal/observe"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("jobvoice", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := fs.String("env-file", ".env", "dotenv file with secrets; ignored when missing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "jobvoice: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "jobvoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "jobvoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Always stderr: the mcp command speaks JSON-RPC on stdout.
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(telemetryService(cfg), nil)
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	switch cmd {
	case "serve":
		return serve(ctx, *configPath, cfg, &level)
	case "reconcile":
		return reconcileCmd(ctx, cfg, rest, stdout)
	case "mcp":
		return mcpCmd(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "jobvoice: unknown command %q (want serve, reconcile or mcp)\n", cmd)
		return 2
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(ctx context.Context, configPath string, cfg *config.Config, level *slog.LevelVar) int {
	slog.Info("jobvoice starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	watcher, err := config.NewWatcher(configPath, config.WithOnChange(func(d config.ConfigDiff, _ *config.Config) {
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.AssistantChanged {
			slog.Info("assistant settings reloaded; they apply to the next session", "fields", d.AssistantFields)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
		}
	}))
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	go watcher.Run(ctx)

	providers, err := buildProviders(cfg, newRegistry())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithSettings(func() assistant.Settings { return watcher.Current().AssistantSettings() }))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── reconcile ─────────────────────────────────────────────────────────────────

func reconcileCmd(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	query := fs.String("query", "", "Gmail search query; defaults to gmail.query from the config")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	application, code := headless(ctx, cfg)
	if application == nil {
		return code
	}
	defer application.Shutdown(context.Background())

	outcomes, err := application.Reconcile(ctx, *query, fs.Args())
	for _, o := range outcomes {
		line := fmt.Sprintf("%s\t%s\t%s", o.Email.ID, o.Status, o.Email.Subject)
		if o.Err != nil {
			line += "\t" + o.Err.Error()
		} else if o.Reply != "" {
			line += "\t" + o.Reply
		}
		fmt.Fprintln(stdout, line)
	}
	if err != nil {
		slog.Error("reconcile failed", "err", err)
		return 1
	}
	return 0
}

// ── mcp ───────────────────────────────────────────────────────────────────────

func mcpCmd(ctx context.Context, cfg *config.Config) int {
	application, code := headless(ctx, cfg)
	if application == nil {
		return code
	}
	defer application.Shutdown(context.Background())

	slog.Info("serving MCP over stdio")
	if err := application.MCP().RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
		return 1
	}
	return 0
}

// headless builds the app without audio devices for the batch commands.
func headless(ctx context.Context, cfg *config.Config) (*app.App, int) {
	cfg.Audio.Backend = config.AudioNone
	providers, err := buildProviders(cfg, newRegistry())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return nil, 1
	}
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return nil, 1
	}
	return application, 0
}

// telemetryService describes this instance's wiring for exported telemetry.
func telemetryService(cfg *config.Config) observe.Service {
	svc := observe.Service{
		Version:      app.Version,
		LiveProvider: cfg.Providers.Live.Name,
		AudioBackend: string(cfg.Audio.Backend),
		StoreBackend: string(cfg.Store.Backend),
	}
	for _, e := range append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...) {
		if e.Name != "" {
			svc.TextModels = append(svc.TextModels, e.Name)
		}
	}
	return svc
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         jobvoice startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Fprintf(os.Stderr, "║  LLM fallbacks   : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	fmt.Fprintf(os.Stderr, "║  Voice           : %-19s ║\n", cfg.Assistant.Voice)
	fmt.Fprintf(os.Stderr, "║  Store           : %-19s ║\n", cfg.Store.Backend)
	fmt.Fprintf(os.Stderr, "║  Audio           : %-19s ║\n", cfg.Audio.Backend)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(os.Stderr, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}
