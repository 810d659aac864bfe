// Package ff7link bridges a companion UI to a running Final Fantasy VII
// process: it watches for the game, exposes memory-backed commands over HTTP
// and keeps itself up to date.
package ff7link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ff7link/internal/address"
	"github.com/loykin/ff7link/internal/bridge"
	"github.com/loykin/ff7link/internal/config"
	"github.com/loykin/ff7link/internal/gamedata"
	"github.com/loykin/ff7link/internal/history"
	"github.com/loykin/ff7link/internal/history/factory"
	"github.com/loykin/ff7link/internal/liaison"
	"github.com/loykin/ff7link/internal/metrics"
	"github.com/loykin/ff7link/internal/restart"
	"github.com/loykin/ff7link/internal/server"
	"github.com/loykin/ff7link/internal/updater"
)

// Version is the build version, set with -ldflags "-X github.com/loykin/ff7link.Version=...".
var Version = "0.0.0-dev"

// Re-export core types for external consumers.

type Config = config.Config

type Snapshot = gamedata.Snapshot

type WorldModel = gamedata.WorldModel

type UpdateSession = updater.Session

type UpdateState = updater.State

type ProcessHandle = liaison.Handle

// LoadConfig reads a TOML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// App is one wired ff7link instance.
type App struct {
	cfg *Config
	log *slog.Logger

	table   *address.Table
	liaison *liaison.Liaison
	bridge  *bridge.Bridge
	updater *updater.Controller
	history *history.Multi

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	mu         sync.Mutex
	started    bool
	srv        *http.Server
	metricsSrv *http.Server
	closeOnce  sync.Once
	closeErr   error

	// overrides applied by options
	memory    liaison.Memory
	finder    liaison.Finder
	source    updater.Source
	installer updater.Installer
	restarter updater.Restarter
}

// Option customizes an App.
type Option func(*App)

// WithLogger replaces the logger built from [log].
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

// WithRegistry registers metrics with a custom registry instead of the default one.
func WithRegistry(r *prometheus.Registry) Option {
	return func(a *App) { a.registerer, a.gatherer = r, r }
}

// WithMemory replaces the OS process memory backend.
func WithMemory(m liaison.Memory) Option { return func(a *App) { a.memory = m } }

// WithFinder replaces process discovery by name.
func WithFinder(f liaison.Finder) Option { return func(a *App) { a.finder = f } }

// WithUpdateSource replaces the HTTP manifest source.
func WithUpdateSource(s updater.Source) Option { return func(a *App) { a.source = s } }

// WithInstaller replaces the binary installer.
func WithInstaller(i updater.Installer) Option { return func(a *App) { a.installer = i } }

// WithRestarter replaces the restart step.
func WithRestarter(r updater.Restarter) Option { return func(a *App) { a.restarter = r } }

// New wires the application from cfg. Nothing runs until Start.
func New(cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:        cfg,
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = cfg.Log.NewSlogger()
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(a.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var sinks []history.Sink
	if cfg.History.Enabled {
		for _, dsn := range cfg.History.Sinks() {
			s, err := factory.NewSinkFromDSN(dsn)
			if err != nil {
				_ = history.NewMulti(a.log, sinks...).Close()
				return nil, fmt.Errorf("history sink: %w", err)
			}
			sinks = append(sinks, s)
		}
	}
	a.history = history.NewMulti(a.log.With("component", "history"), sinks...)

	regions, err := cfg.AddressTable()
	if err != nil {
		_ = a.history.Close()
		return nil, err
	}
	a.table = address.NewTable(regions)

	dets, err := cfg.DetectorList()
	if err != nil {
		_ = a.history.Close()
		return nil, err
	}
	lopts := []liaison.Option{
		liaison.WithPollInterval(cfg.Process.PollInterval),
		liaison.WithDetectors(dets...),
		liaison.WithLogger(a.log.With("component", "liaison")),
	}
	if a.memory != nil {
		lopts = append(lopts, liaison.WithMemory(a.memory))
	}
	if a.finder != nil {
		lopts = append(lopts, liaison.WithFinder(a.finder))
	}
	a.liaison = liaison.New(cfg.Process.Names, lopts...)

	reader := gamedata.NewReader(a.liaison, a.table)
	a.bridge = bridge.New(a.liaison, a.table, reader, bridge.Options{
		IgnoreWriteErrors: cfg.Bridge.IgnoreWriteErrors,
		Logger:            a.log,
	})

	a.updater = updater.New(a.updaterConfig())
	return a, nil
}

func (a *App) updaterConfig() updater.Config {
	uc := a.cfg.Updater
	current := uc.CurrentVersion
	if current == "" {
		current = Version
	}
	c := updater.Config{
		CurrentVersion: current,
		Source:         a.source,
		Installer:      a.installer,
		Restarter:      a.restarter,
		History:        a.history,
		Logger:         a.log,
		Timeout:        uc.Timeout,
	}
	if c.Source == nil && uc.Active() {
		src := updater.NewHTTPSource(uc.Endpoint, uc.Timeout)
		src.Target = uc.Target
		c.Source = src
	}
	if c.Installer == nil {
		c.Installer = updater.BinaryInstaller{Target: uc.InstallPath}
	}
	if c.Restarter == nil && uc.Restart {
		c.Restarter = restart.Exec{
			Path:       uc.InstallPath,
			BeforeExit: func() { _ = a.Close() },
			Logger:     a.log.With("component", "restart"),
		}
	}
	return c
}

// Bridge returns the command bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Liaison returns the process liaison.
func (a *App) Liaison() *liaison.Liaison { return a.liaison }

// Updater returns the update controller.
func (a *App) Updater() *updater.Controller { return a.updater }

// Addresses returns the live region table.
func (a *App) Addresses() *address.Table { return a.table }

// Start begins watching for the game, serves the HTTP API and kicks off the
// update cycle in the background. It returns once the listeners are bound.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("already started")
	}
	a.started = true

	a.liaison.Start(ctx)
	a.watchConfig()

	deps := server.Deps{
		Bridge:  a.bridge,
		Process: a.liaison,
		Updates: a.updater,
		Token:   a.cfg.Server.Token,
		Logger:  a.log,
	}
	if a.cfg.Metrics.Enabled {
		h := metrics.HandlerFor(a.gatherer)
		if a.cfg.Metrics.Listen == "" {
			deps.Metrics = h
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			a.metricsSrv = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				a.log.Info("metrics server listening", "addr", a.cfg.Metrics.Listen)
				if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error("metrics server stopped", "error", err)
				}
			}()
		}
	}

	srv, err := server.NewServer(a.cfg.Server.Listen, a.cfg.Server.BasePath, deps)
	if err != nil {
		a.liaison.Stop()
		return err
	}
	a.srv = srv

	if a.updater.Enabled() {
		a.updater.Start()
	} else {
		a.log.Info("updater disabled", "enabled", a.cfg.Updater.Enabled, "endpoint", a.cfg.Updater.Endpoint)
	}
	return nil
}

// watchConfig applies [addresses] edits to the live table.
func (a *App) watchConfig() {
	if a.cfg.File == "" {
		return
	}
	err := config.Watch(a.cfg.File, func(c *config.Config, err error) {
		if err != nil {
			a.log.Warn("config reload failed; keeping previous addresses", "file", a.cfg.File, "error", err)
			return
		}
		regions, err := c.AddressTable()
		if err != nil {
			a.log.Warn("config reload failed; keeping previous addresses", "file", a.cfg.File, "error", err)
			return
		}
		a.table.Replace(regions)
		a.log.Info("addresses reloaded", "file", a.cfg.File, "regions", len(regions))
	})
	if err != nil {
		a.log.Warn("config watch disabled", "file", a.cfg.File, "error", err)
	}
}

// Close stops the HTTP servers and the process watch and closes history
// sinks. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		srv, msrv := a.srv, a.metricsSrv
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown api server: %w", err))
			}
		}
		if msrv != nil {
			if err := msrv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			}
		}
		a.liaison.Stop()
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
