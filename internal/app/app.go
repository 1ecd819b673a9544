// Package app wires all Apex Strategy subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the store and builds every
// service, Run serves HTTP until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
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

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/apex/internal/admin"
	"github.com/MrWong99/apex/internal/advisor"
	"github.com/MrWong99/apex/internal/catalog"
	"github.com/MrWong99/apex/internal/concierge"
	"github.com/MrWong99/apex/internal/config"
	"github.com/MrWong99/apex/internal/contact"
	"github.com/MrWong99/apex/internal/health"
	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/internal/resilience"
	"github.com/MrWong99/apex/internal/store"
	"github.com/MrWong99/apex/internal/web"
	"github.com/MrWong99/apex/pkg/provider/live"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM     llm.Provider
	LLMName string

	// LLMFallback is tried when LLM fails.
	LLMFallback     llm.Provider
	LLMFallbackName string

	Live live.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems: initialised in New, torn down in Shutdown.
	kv             store.KV
	textModel      llm.Provider
	catalog        catalog.Repository
	advisor        *advisor.Service
	admin          *admin.Service
	contact        *contact.Service
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	server         *web.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a key-value store instead of opening one from config.
// The caller keeps ownership: Shutdown does not close it.
func WithStore(kv store.KV) Option {
	return func(a *App) { a.kv = kv }
}

// WithMetrics sets the instruments and the handler served at /metrics.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = h
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
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

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 3. Text model ────────────────────────────────────────────────────
	a.initTextModel()

	// ── 4. Services ──────────────────────────────────────────────────────
	a.advisor = advisor.New(advisor.Config{
		MaxConversations: cfg.Advisor.MaxConversations,
		IdleTimeout:      cfg.Advisor.IdleTimeout,
		FallbackMessage:  cfg.Advisor.FallbackMessage,
	}, a.catalog, a.textModel, a.providers.LLMName, a.metrics)
	a.admin = admin.New(admin.Config{
		Password:        cfg.Admin.Password,
		RegenerateModel: cfg.Admin.RegenerateModel,
		ProviderName:    a.providers.LLMName,
	}, a.catalog, a.textModel, admin.WithMetrics(a.metrics))
	a.contact = contact.New(a.kv)
	a.health = health.New(health.PingChecker("store", a.kv))

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.server = web.New(web.Config{
		Catalog:         a.catalog,
		Advisor:         a.advisor,
		Admin:           a.admin,
		Contact:         a.contact,
		Concierge:       a.newConcierge,
		Health:          a.health,
		Metrics:         a.metricsHandler,
		Telemetry:       a.metrics,
		OriginPatterns:  cfg.Server.AllowedOrigins,
		InputSampleRate: cfg.Concierge.InputSampleRate,
	})

	slog.Info("app initialised",
		"store", cfg.Store.Backend,
		"llm", a.providers.LLMName,
		"voice", a.providers.Live != nil,
		"admin", a.admin.Enabled(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured key-value backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.kv != nil {
		return nil
	}
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, sc.Path)
		if err != nil {
			return err
		}
		a.kv = s
	case config.StorePostgres:
		s, err := store.OpenPostgres(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.kv = s
	default:
		a.kv = store.NewMemStore()
	}
	a.closers = append(a.closers, a.kv.Close)
	slog.Info("store opened", "backend", sc.Backend)
	return nil
}

// initCatalog builds the repository, replacing the built-in defaults with
// the seed file when one is configured.
func (a *App) initCatalog() error {
	var opts []catalog.Option
	if path := a.cfg.Store.SeedFile; path != "" {
		seed, err := catalog.LoadSeed(path)
		if err != nil {
			return err
		}
		opts = append(opts, catalog.WithSeed(seed))
		slog.Info("catalog seed loaded", "path", path,
			"projects", len(seed.Projects), "services", len(seed.Services))
	}
	a.catalog = catalog.NewKVRepository(a.kv, opts...)
	return nil
}

// initTextModel puts the configured text backends behind circuit breakers.
func (a *App) initTextModel() {
	p := a.providers
	if p.LLM == nil {
		slog.Warn("no text model configured; chat replies will use the fallback message")
		return
	}
	fb := resilience.NewLLMFallback(p.LLM, p.LLMName, resilience.FallbackConfig{})
	if p.LLMFallback != nil {
		fb.AddFallback(p.LLMFallbackName, p.LLMFallback)
	}
	a.textModel = fb
}

// newConcierge builds the controller for one concierge socket.
func (a *App) newConcierge(opts ...concierge.Option) *concierge.Controller {
	cc := a.cfg.Concierge
	base := []concierge.Option{
		concierge.WithLLM(a.textModel, a.providers.LLMName),
		concierge.WithMetrics(a.metrics),
	}
	if a.providers.Live != nil {
		base = append(base, concierge.WithLive(a.providers.Live))
	}
	return concierge.New(concierge.Config{
		Greeting:                cc.Greeting,
		Instructions:            cc.Instructions,
		VoiceInstructions:       cc.VoiceInstructions,
		Voice:                   a.cfg.Providers.Live.Option("voice", ""),
		FallbackMessage:         cc.FallbackMessage,
		VoiceUnavailableMessage: cc.VoiceUnavailableMessage,
		FrameSize:               cc.FrameSize,
		OutputSampleRate:        cc.OutputSampleRate,
	}, append(base, opts...)...)
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Addr returns the listening address once Run has bound it, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and sweeps idle advisor conversations until ctx is
// cancelled, then drains in-flight requests. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error { return a.advisor.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
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

// runClosers releases what New opened before it failed.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
