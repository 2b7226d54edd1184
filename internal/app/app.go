// Package app wires the vanilla dialogue subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the save slot, the
// forwarding pipeline, the capture engine, and the HTTP surface; Run serves
// until the context is cancelled; Shutdown persists the pending lines and
// releases resources in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithForwarder, ...). When an option is not provided, New creates real
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

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/capture"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/config"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/filter"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/health"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/ingest"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/mcpserver"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/resilience"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/savestore"
)

// shutdownTimeout bounds the HTTP server's graceful stop.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	level      *slog.LevelVar
	metrics    *observe.Metrics
	telemetry  *observe.Telemetry
	configPath string

	// Subsystems, initialised in New and torn down in Shutdown.
	store      savestore.Store
	slot       *savestore.Slot
	forwarder  forward.Forwarder
	breaker    *resilience.Breaker
	dispatcher *forward.Dispatcher
	hub        *ingest.Hub
	engine     *capture.Engine
	handler    http.Handler
	cron       *cron.Cron
	watcher    *config.Watcher

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a save store instead of opening one from config.
func WithStore(s savestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithForwarder injects the downstream forwarder instead of the Mantella
// HTTP client. The dispatcher is still placed in front of it.
func WithForwarder(f forward.Forwarder) Option {
	return func(a *App) { a.forwarder = f }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry mounts the Prometheus registry at /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevel lets config reloads adjust the process log level.
func WithLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// WithVersion sets the version reported over MCP.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithConfigPath enables hot reload of the dialogue rules and log level from
// the file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. It opens the save store, restores the pending lines
// saved in the configured slot, and assembles the HTTP routes. Nothing is
// served until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Save slot ─────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Forwarding pipeline ───────────────────────────────────────────
	a.initForwarding()

	// ── 3. Engine ────────────────────────────────────────────────────────
	a.hub = ingest.NewHub()
	a.engine = capture.New(
		capture.WithForwarder(a.dispatcher),
		capture.WithNotifier(a.hub),
		capture.WithMetrics(a.metrics),
		capture.WithSettings(Settings(cfg.Dialogue)),
	)
	a.restore(ctx)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()

	// ── 5. Autosave ──────────────────────────────────────────────────────
	if sched := cfg.Persistence.Autosave; sched != "" {
		a.cron = cron.New()
		if _, err := a.cron.AddFunc(sched, a.autosave); err != nil {
			a.close()
			return nil, fmt.Errorf("app: autosave schedule %q: %w", sched, err)
		}
	}

	// ── 6. Config hot reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		s, err := savestore.Open(ctx, a.cfg.Persistence)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.closers = append(a.closers, a.store.Close)
	if err := savestore.ValidateSlot(a.cfg.Persistence.Slot); err != nil {
		return err
	}
	a.slot = savestore.NewSlot(a.store, a.cfg.Persistence.Slot, a.metrics)
	return nil
}

func (a *App) initForwarding() {
	if a.forwarder == nil {
		m := a.cfg.Mantella
		client := forward.NewMantella(forward.MantellaConfig{
			BaseURL:  m.BaseURL,
			Port:     m.Port,
			Route:    m.Route,
			Username: m.Username,
			Password: m.Password,
			Timeout:  m.Timeout,
			Breaker: resilience.Config{
				MaxFailures:  m.Breaker.MaxFailures,
				ResetTimeout: m.Breaker.ResetTimeout,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Info("mantella circuit state changed", "name", name, "from", from, "to", to)
				},
			},
		})
		a.forwarder = client
		a.breaker = client.Breaker()
	}
	a.dispatcher = forward.NewDispatcher(a.forwarder,
		forward.WithQueueSize(a.cfg.Mantella.QueueSize),
		forward.WithMetrics(a.metrics),
	)
}

// restore loads the slot into the engine. A missing or unreadable slot
// leaves the engine empty; the service still starts.
func (a *App) restore(ctx context.Context) {
	b, err := a.slot.Read(ctx)
	switch {
	case errors.Is(err, savestore.ErrNotFound):
		slog.Info("no saved dialogue state", "slot", a.slot.Name())
		return
	case err != nil:
		slog.Warn("cannot read saved dialogue state, starting empty", "slot", a.slot.Name(), "err", err)
		return
	}
	if err := a.engine.Load(ctx, b); err != nil {
		slog.Warn("saved dialogue state ignored", "slot", a.slot.Name(), "err", err)
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	ingest.NewServer(a.engine, ingest.WithSlot(a.slot), ingest.WithHub(a.hub)).Register(mux)

	checks := []health.Checker{
		health.Flag("engine", "dialogue tracking degraded", a.engine.Degraded),
		health.Ping("save_slot", a.slot),
		health.Flag("save_slot_writes", "last save slot operation failed", a.slot.Failing),
	}
	if a.breaker != nil {
		checks = append(checks, health.Breaker(a.breaker))
	}
	health.New(checks...).Register(mux)

	mux.Handle("/mcp", mcpserver.Handler(a.engine, a.version))
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.MetricsHandler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the capture engine.
func (a *App) Engine() *capture.Engine { return a.engine }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, delivers forwarded messages, and runs the autosave
// schedule until ctx is cancelled. It returns ctx.Err() on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.cron != nil {
		a.cron.Start()
	}

	slog.Info("app running", "addr", ln.Addr().String(), "slot", a.slot.Name())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Persistence ─────────────────────────────────────────────────────────────

// Save writes the pending lines to the configured slot.
func (a *App) Save(ctx context.Context) error {
	b, err := a.engine.Save(ctx)
	if err != nil {
		return fmt.Errorf("app: save: %w", err)
	}
	if err := a.slot.Write(ctx, b); err != nil {
		return fmt.Errorf("app: save: %w", err)
	}
	return nil
}

func (a *App) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Save(ctx); err != nil {
		slog.Warn("autosave failed", "slot", a.slot.Name(), "err", err)
		return
	}
	slog.Debug("autosaved dialogue state", "slot", a.slot.Name())
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DialogueChanged {
		a.engine.UpdateSettings(Settings(new.Dialogue))
		slog.Info("dialogue rules reloaded")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Settings converts the dialogue section of the config into engine settings.
func Settings(d config.DialogueConfig) capture.Settings {
	return capture.Settings{
		Enabled: d.EnableVanillaDialogueTracking,
		Rules: filter.Rules{
			PlayerLineBlacklist:      d.PlayerLineBlacklist,
			NPCLineBlacklist:         d.NPCLineBlacklist,
			GenericGreetings:         d.GenericGreetings,
			FilterNonUniqueGreetings: d.FilterNonUniqueGreetings,
			FilterShortReplies:       d.FilterShortReplies,
			MinWordCount:             d.FilterShortRepliesMinWordCount,
		},
		IgnoreNames:               d.NPCNamesToIgnore,
		RetainNonParticipantLines: d.RetainNonParticipantLines,
		PlayerName:                d.PlayerName,
		Debug:                     d.DebugLogVanillaDialogue,
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops background work, saves the pending lines one last time,
// and closes the save store. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.cron != nil {
			select {
			case <-a.cron.Stop().Done():
			case <-ctx.Done():
			}
		}
		_ = a.dispatcher.Close()

		if err := a.Save(ctx); err != nil {
			errs = append(errs, err)
		} else {
			slog.Info("dialogue state saved", "slot", a.slot.Name())
		}
		errs = append(errs, a.close())
	})
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
