// Package app wires all jobvoice subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the tracker store and
// builds the assistant, Run serves the HTTP surface until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMicrophone, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jobvoice/internal/assistant"
	"github.com/MrWong99/jobvoice/internal/config"
	"github.com/MrWong99/jobvoice/internal/health"
	"github.com/MrWong99/jobvoice/internal/job"
	"github.com/MrWong99/jobvoice/internal/job/badgerstore"
	"github.com/MrWong99/jobvoice/internal/job/postgres"
	"github.com/MrWong99/jobvoice/internal/mcpserver"
	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/internal/reconcile"
	"github.com/MrWong99/jobvoice/internal/resilience"
	"github.com/MrWong99/jobvoice/internal/tools"
	"github.com/MrWong99/jobvoice/internal/uiapi"
	"github.com/MrWong99/jobvoice/pkg/audio"
	"github.com/MrWong99/jobvoice/pkg/audio/pulse"
	"github.com/MrWong99/jobvoice/pkg/provider/llm"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
)

// Version is reported to MCP clients and in telemetry.
var Version = "dev"

const shutdownGrace = 10 * time.Second

// NamedLLM is one text model in failover order.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the constructed provider values. Populated by main.go via
// the config registry.
type Providers struct {
	// Live is the speech-to-speech service. Nil disables voice sessions.
	Live s2s.Provider

	// LLMs are tried in order by the text agent. Empty disables text
	// overrides without a session and email reconciliation.
	LLMs []NamedLLM
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	settings  func() assistant.Settings

	// Subsystems, initialised in New and torn down in Shutdown.
	store      job.Store
	dispatcher *tools.Dispatcher
	llm        *resilience.LLMFallback
	agent      *reconcile.Agent
	player     *audio.Player
	mic        audio.Microphone
	ctrl       *assistant.Controller
	mcp        *mcpserver.Server
	health     *health.Handler
	source     reconcile.Source

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a job store instead of opening the configured backend.
// Import files from the config are still applied.
func WithStore(s job.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMicrophone injects a microphone instead of the configured audio backend.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithSettings supplies the live settings accessor, typically backed by a
// config watcher. Defaults to the settings of the config passed to New.
func WithSettings(fn func() assistant.Settings) Option {
	return func(a *App) { a.settings = fn }
}

// WithMetrics injects the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEmailSource injects the mailbox used by [App.Reconcile].
func WithEmailSource(s reconcile.Source) Option {
	return func(a *App) { a.source = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.settings == nil {
		a.settings = cfg.AssistantSettings
	}

	// ── 1. Tracker store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.dispatcher = tools.New(a.store, tools.WithMetrics(a.metrics))

	// ── 2. Text models ───────────────────────────────────────────────────
	a.initLLM()

	// ── 3. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 4. Assistant ─────────────────────────────────────────────────────
	if err := a.initAssistant(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}

	// ── 5. Outer surfaces ────────────────────────────────────────────────
	a.mcp = mcpserver.New(a.dispatcher, Version)
	a.health = health.New(a.checkers()...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend and imports seed files.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		sc := a.cfg.Store
		switch sc.Backend {
		case config.StoreFile:
			fs, err := job.OpenFileStore(sc.Path)
			if err != nil {
				return err
			}
			a.store = fs
		case config.StoreBadger:
			bs, err := badgerstore.Open(sc.Path)
			if err != nil {
				return err
			}
			a.store = bs
			a.closers = append(a.closers, bs.Close)
		case config.StorePostgres:
			ps, err := postgres.NewStore(ctx, sc.PostgresDSN)
			if err != nil {
				return err
			}
			a.store = ps
			a.closers = append(a.closers, func() error {
				ps.Close()
				return nil
			})
		default:
			a.store = job.NewMemStore()
		}
		slog.Info("job store opened", "backend", sc.Backend, "path", sc.Path)
	}

	for _, path := range a.cfg.Store.ImportFiles {
		n, err := job.ImportFile(ctx, a.store, path)
		if err != nil {
			return fmt.Errorf("import %q: %w", path, err)
		}
		slog.Info("imported applications", "path", path, "count", n)
	}
	return nil
}

// initLLM chains the configured text models behind circuit breakers.
func (a *App) initLLM() {
	if len(a.providers.LLMs) == 0 {
		slog.Warn("no text model configured; typed commands need a live session and reconcile is disabled")
		return
	}
	primary := a.providers.LLMs[0]
	a.llm = resilience.NewLLMFallback(primary.Provider, primary.Name, resilience.FallbackConfig{}, a.metrics)
	for _, fb := range a.providers.LLMs[1:] {
		a.llm.AddFallback(fb.Name, fb.Provider)
	}
	a.agent = reconcile.NewAgent(a.llm, a.dispatcher)
}

// initAudio opens the PulseAudio devices unless audio is disabled or a
// microphone was injected.
func (a *App) initAudio() error {
	a.player = audio.NewPlayer(audio.WithUnderrunHook(func() {
		a.metrics.PlaybackUnderruns.Add(context.Background(), 1)
	}))
	if a.mic != nil || a.cfg.Audio.Backend == config.AudioNone {
		return nil
	}
	latency := time.Duration(a.cfg.Audio.PlaybackLatencyMS) * time.Millisecond
	speaker, err := pulse.OpenSpeaker(a.player, latency)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	a.closers = append(a.closers, speaker.Close)
	a.mic = &pulse.Microphone{Source: a.cfg.Audio.InputDevice}
	return nil
}

func (a *App) initAssistant() error {
	if a.providers.Live == nil {
		return errors.New("a live provider is required")
	}
	cfg := assistant.Config{
		Provider:   a.providers.Live,
		Dispatcher: a.dispatcher,
		Microphone: a.mic,
		Player:     a.player,
		Settings:   a.settings,
		Metrics:    a.metrics,
		Logger:     slog.Default().With("component", "assistant"),
	}
	if a.agent != nil {
		cfg.Agent = a.agent
	}
	ctrl, err := assistant.NewController(cfg)
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	a.closers = append([]func() error{func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return ctrl.StopSession(ctx)
	}}, a.closers...)
	return nil
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{
		health.StoreChecker(a.store),
		health.SecretChecker("live_provider", a.cfg.Providers.Live.APIKey, "set "+config.EnvGeminiAPIKey),
	}
	if a.llm != nil {
		cs = append(cs, health.FallbackChecker("llm", a.llm.Group()))
	}
	return cs
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the assistant controller.
func (a *App) Controller() *assistant.Controller { return a.ctrl }

// Store returns the tracker store.
func (a *App) Store() job.Store { return a.store }

// MCP returns the MCP server exposing the tracker tools.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the full HTTP surface: the UI API, health probes,
// Prometheus metrics and, when configured, the MCP endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", uiapi.New(a.ctrl, a.store).Handler())
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if p := a.cfg.MCP.HTTPPath; p != "" {
		mux.Handle(p, a.mcp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves [App.Handler] on the configured listen address and blocks until
// ctx is cancelled. When ctx is done, Run returns context.Canceled (or the
// underlying cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

// ─── Reconcile ───────────────────────────────────────────────────────────────

// ErrReconcileUnavailable is returned by [App.Reconcile] without a text model.
var ErrReconcileUnavailable = errors.New("app: reconcile needs a text model")

// Reconcile applies the given Gmail message IDs to the tracker. With no IDs
// it searches the mailbox with query, or the configured query when empty.
func (a *App) Reconcile(ctx context.Context, query string, ids []string) ([]reconcile.Outcome, error) {
	if a.agent == nil {
		return nil, ErrReconcileUnavailable
	}
	src := a.source
	if src == nil || len(ids) == 0 {
		gs, err := reconcile.NewGmailSource(ctx, reconcile.GmailConfig{
			AccessToken: a.cfg.Gmail.AccessToken,
			BaseURL:     a.cfg.Gmail.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("app: gmail: %w", err)
		}
		if src == nil {
			src = gs
		}
		if len(ids) == 0 {
			if query == "" {
				query = a.cfg.Gmail.Query
			}
			ids, err = gs.Search(ctx, query, a.cfg.Gmail.MaxResults)
			if err != nil {
				return nil, err
			}
			slog.Info("gmail search", "query", query, "matches", len(ids))
		}
	}

	r, err := reconcile.New(reconcile.Config{
		Source:  src,
		Agent:   a.agent,
		Metrics: a.metrics,
		MaxBody: reconcile.BodyBudget(a.llm.ContextWindow()),
	})
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, ids)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever a failed New managed to open.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
