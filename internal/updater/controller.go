// Package updater runs the one-shot self-update cycle: check the remote
// manifest, download the artifact, install it and restart.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/ff7link/internal/history"
	"github.com/loykin/ff7link/internal/metrics"
)

// historyTimeout bounds a single history delivery.
const historyTimeout = 5 * time.Second

// Config wires a Controller. A nil Source disables updating.
type Config struct {
	CurrentVersion string
	Source         Source
	Installer      Installer
	// Restarter is invoked once after a successful install; nil skips the restart.
	Restarter Restarter
	// History receives every transition. Delivery errors are left to the
	// sink to report; history.Multi logs each failing sink.
	History history.Sink
	Logger  *slog.Logger
	// Timeout bounds the whole cycle; zero means no limit.
	Timeout time.Duration
}

// Controller owns one update session.
type Controller struct {
	cfg  Config
	log  *slog.Logger
	once sync.Once
	done chan struct{}

	mu   sync.RWMutex
	sess Session
}

// New returns an idle controller.
func New(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		cfg:  cfg,
		log:  log.With("component", "updater"),
		done: make(chan struct{}),
		sess: Session{ID: uuid.NewString(), State: StateIdle, CurrentVersion: cfg.CurrentVersion},
	}
	metrics.SetUpdateState(StateIdle.String())
	return c
}

// Enabled reports whether a source is configured.
func (c *Controller) Enabled() bool { return c.cfg.Source != nil }

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// Start runs the cycle in the background. It returns immediately and there is
// no way to cancel the cycle once started.
func (c *Controller) Start() {
	go c.Run(context.Background())
}

// Run executes the cycle at most once per controller and returns the final
// session. Concurrent and repeated calls wait for the first one to finish.
func (c *Controller) Run(ctx context.Context) Session {
	c.once.Do(func() {
		defer close(c.done)
		c.run(ctx)
	})
	<-c.done
	return c.Session()
}

// Wait blocks until a started cycle has finished.
func (c *Controller) Wait() Session {
	<-c.done
	return c.Session()
}

// Check queries the source without changing the session. It returns
// ErrNoUpdate when the current build is the latest.
func (c *Controller) Check(ctx context.Context) (*Release, error) {
	if c.cfg.Source == nil {
		return nil, errors.New("updater is disabled")
	}
	rel, err := c.cfg.Source.Check(ctx, c.cfg.CurrentVersion)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, ErrNoUpdate
	}
	return rel, nil
}

func (c *Controller) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("update cycle panicked: %v", r))
		}
	}()

	if c.cfg.Source == nil {
		c.log.Info("updater disabled")
		return
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.mu.Lock()
	c.sess.StartedAt = time.Now()
	c.mu.Unlock()

	c.transition(StateChecking, nil)
	c.log.Info("checking for update", "current_version", c.cfg.CurrentVersion)
	rel, err := c.cfg.Source.Check(ctx, c.cfg.CurrentVersion)
	if err != nil {
		c.fail(fmt.Errorf("check: %w", err))
		return
	}
	if rel == nil {
		c.transition(StateNotAvailable, nil)
		c.log.Info("no update available")
		c.finish()
		return
	}

	c.transition(StateDownloading, func(s *Session) { s.RemoteVersion = rel.Version })
	c.log.Info("downloading update", "version", rel.Version, "url", rel.URL)
	path, err := c.cfg.Source.Download(ctx, rel, c.onChunk)
	if err != nil {
		c.fail(fmt.Errorf("download: %w", err))
		return
	}
	c.log.Info("download finished", "bytes", c.Session().BytesDownloaded)

	if err := c.install(ctx, path); err != nil {
		c.fail(fmt.Errorf("install: %w", err))
		return
	}
	c.transition(StateInstalled, nil)
	c.log.Info("update installed", "version", rel.Version)
	c.finish()

	if c.cfg.Restarter == nil {
		c.log.Info("restart skipped")
		return
	}
	c.log.Info("restarting")
	if err := c.cfg.Restarter.Restart(); err != nil {
		c.log.Error("restart failed", "error", err)
	}
}

// install removes the artifact on return, which is always before any restart.
func (c *Controller) install(ctx context.Context, artifact string) error {
	defer func() {
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			c.log.Warn("remove update artifact", "path", artifact, "error", err)
		}
	}()
	if c.cfg.Installer == nil {
		return nil
	}
	return c.cfg.Installer.Install(ctx, artifact)
}

func (c *Controller) onChunk(n int, total int64) {
	c.mu.Lock()
	c.sess.BytesDownloaded += int64(n)
	if total > 0 {
		c.sess.ContentLength = total
	}
	got := c.sess.BytesDownloaded
	c.mu.Unlock()
	metrics.AddDownloadedBytes(n)
	c.log.Debug("downloaded chunk", "chunk", n, "bytes", got, "total", total)
}

// transition moves the session to next and records it. Invalid moves are
// programming errors and panic, which run converts into a failure.
func (c *Controller) transition(next State, mutate func(*Session)) {
	c.mu.Lock()
	prev := c.sess.State
	if !canTransition(prev, next) {
		c.mu.Unlock()
		panic(fmt.Sprintf("invalid update transition %s -> %s", prev, next))
	}
	c.sess.State = next
	if mutate != nil {
		mutate(&c.sess)
	}
	if next.Terminal() {
		c.sess.FinishedAt = time.Now()
	}
	snap := c.sess
	c.mu.Unlock()

	metrics.RecordUpdateTransition(prev.String(), next.String())
	metrics.SetUpdateState(next.String())
	c.log.Debug("update state", "from", prev, "to", next)
	c.record(history.EventUpdateTransition, prev, snap)
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	prev := c.sess.State
	if prev.Terminal() {
		c.mu.Unlock()
		c.log.Error("update error after terminal state", "state", prev, "error", err)
		return
	}
	if prev == StateIdle {
		// failures before the check starts are reported as failed checks
		c.sess.State = StateChecking
		prev = StateChecking
	}
	c.sess.State = StateFailed
	c.sess.Err = err.Error()
	c.sess.FinishedAt = time.Now()
	snap := c.sess
	c.mu.Unlock()

	metrics.RecordUpdateTransition(prev.String(), StateFailed.String())
	metrics.SetUpdateState(StateFailed.String())
	c.log.Error("update failed", "error", err)
	c.record(history.EventUpdateTransition, prev, snap)
	c.finish()
}

func (c *Controller) finish() {
	s := c.Session()
	c.record(history.EventUpdateFinished, s.State, s)
}

func (c *Controller) record(t history.EventType, from State, s Session) {
	if c.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			SessionID:       s.ID,
			From:            from.String(),
			To:              s.State.String(),
			CurrentVersion:  s.CurrentVersion,
			RemoteVersion:   s.RemoteVersion,
			BytesDownloaded: s.BytesDownloaded,
			Error:           s.Err,
		},
	}
	_ = c.cfg.History.Send(ctx, e)
}
