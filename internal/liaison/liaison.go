// Package liaison watches for the game process and performs raw memory I/O
// against it. The attached state is owned by a Liaison instance and mutated
// only by its watch loop; everyone else reads it through IsRunning/Handle.
package liaison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/ff7link/internal/address"
	"github.com/loykin/ff7link/internal/detector"
	"github.com/loykin/ff7link/internal/metrics"
)

// DefaultPollInterval is how often the watch loop scans the process table.
const DefaultPollInterval = time.Second

// ErrNotAttached is returned by memory operations while no process is attached.
var ErrNotAttached = errors.New("process not attached")

// NotRunningError is the user-facing precondition failure for operations
// that need an attached process.
type NotRunningError struct {
	Name string
}

func (e *NotRunningError) Error() string { return e.Name + " is not running" }

// Is lets errors.Is(err, ErrNotAttached) match a NotRunningError.
func (e *NotRunningError) Is(target error) bool { return target == ErrNotAttached }

// Handle is a point-in-time view of the watched process.
type Handle struct {
	Attached bool      `json:"attached"`
	PID      int32     `json:"pid,omitempty"`
	Name     string    `json:"name,omitempty"`
	Exe      string    `json:"exe,omitempty"`
	Since    time.Time `json:"since,omitzero"`
}

// Finder locates the target process. *detector.NameDetector satisfies it.
type Finder interface {
	Find(ctx context.Context) (detector.Match, bool, error)
}

// Liaison is the process liaison: watch + memory access for one target.
type Liaison struct {
	names    []string
	finder   Finder
	extra    []detector.Detector
	mem      Memory
	interval time.Duration
	log      *slog.Logger
	onChange []func(Handle)

	handle atomic.Pointer[Handle]

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option customizes a Liaison.
type Option func(*Liaison)

// WithPollInterval sets the watch period.
func WithPollInterval(d time.Duration) Option {
	return func(l *Liaison) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithFinder replaces the gopsutil name detector.
func WithFinder(f Finder) Option { return func(l *Liaison) { l.finder = f } }

// WithDetectors adds detectors that must all report alive for the process to count as attached.
func WithDetectors(ds ...detector.Detector) Option {
	return func(l *Liaison) { l.extra = append(l.extra, ds...) }
}

// WithMemory replaces the OS memory backend.
func WithMemory(m Memory) Option { return func(l *Liaison) { l.mem = m } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(l *Liaison) { l.log = log } }

// OnChange registers a callback invoked from the watch loop on attach/detach.
func OnChange(fn func(Handle)) Option {
	return func(l *Liaison) { l.onChange = append(l.onChange, fn) }
}

// New initializes a liaison for the acceptable process names. The watch does
// not run until Start is called.
func New(names []string, opts ...Option) *Liaison {
	l := &Liaison{
		names:    append([]string(nil), names...),
		interval: DefaultPollInterval,
		mem:      NewOSMemory(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.finder == nil {
		l.finder = detector.NewNameDetector(l.names...)
	}
	l.handle.Store(&Handle{})
	return l
}

// Name is the display name used in user-facing errors (the first watched name).
func (l *Liaison) Name() string {
	if len(l.names) == 0 {
		return "process"
	}
	return l.names[0]
}

// IsRunning reports the current attachment state.
func (l *Liaison) IsRunning() bool { return l.handle.Load().Attached }

// Handle returns a copy of the current process handle.
func (l *Liaison) Handle() Handle { return *l.handle.Load() }

// Start runs one scan synchronously, then keeps watching in the background
// until ctx is done or Stop is called. Calling Start while a watch is
// running is a no-op.
func (l *Liaison) Start(ctx context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		select {
		case <-l.stopped:
			l.cancel()
		default:
			l.mu.Unlock()
			return
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.stopped = make(chan struct{})
	stopped := l.stopped
	l.mu.Unlock()

	l.log.Info("process watch started", "names", l.names, "interval", l.interval)
	l.Refresh(ctx)
	go l.watch(ctx, stopped)
}

// Stop halts the watch loop and waits for it to exit.
func (l *Liaison) Stop() {
	l.mu.Lock()
	cancel, stopped := l.cancel, l.stopped
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// watch publishes a detached handle on exit so no caller keeps using a PID
// that is no longer being watched.
func (l *Liaison) watch(ctx context.Context, stopped chan struct{}) {
	defer func() {
		l.publish(l.handle.Load(), Handle{})
		l.log.Info("process watch stopped", "names", l.names)
		close(stopped)
	}()
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Refresh(ctx)
		}
	}
}

// Refresh scans once and publishes the result.
func (l *Liaison) Refresh(ctx context.Context) Handle {
	return l.publish(l.handle.Load(), l.scan(ctx))
}

func (l *Liaison) publish(prev *Handle, next Handle) Handle {
	if prev.Attached == next.Attached && prev.PID == next.PID {
		return *prev
	}
	l.handle.Store(&next)
	metrics.SetAttached(next.Attached)
	metrics.IncAttachTransition(next.Attached)
	if next.Attached {
		l.log.Info("process attached", "name", next.Name, "pid", next.PID)
	} else {
		l.log.Info("process detached", "name", prev.Name, "pid", prev.PID)
	}
	for _, fn := range l.onChange {
		fn(next)
	}
	return next
}

func (l *Liaison) scan(ctx context.Context) Handle {
	m, ok, err := l.finder.Find(ctx)
	if err != nil {
		l.log.Debug("process scan failed", "error", err)
		return Handle{}
	}
	if !ok {
		return Handle{}
	}
	for _, d := range l.extra {
		alive, err := d.Alive()
		if err != nil {
			l.log.Debug("detector failed", "detector", d.Describe(), "error", err)
			return Handle{}
		}
		if !alive {
			return Handle{}
		}
	}
	since := m.StartedAt
	if prev := l.handle.Load(); prev.Attached && prev.PID == m.PID {
		since = prev.Since
	}
	if since.IsZero() {
		since = time.Now()
	}
	return Handle{Attached: true, PID: m.PID, Name: m.Name, Exe: m.Exe, Since: since}
}

// ReadBuffer reads n bytes at addr from the attached process.
func (l *Liaison) ReadBuffer(addr address.Address, n int) ([]byte, error) {
	h := l.handle.Load()
	if !h.Attached {
		return nil, ErrNotAttached
	}
	if n <= 0 {
		return []byte{}, nil
	}
	b, err := l.mem.Read(h.PID, addr, n)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %s (pid %d): %w", n, addr, h.PID, err)
	}
	return b, nil
}

// WriteBuffer writes data at addr in the attached process.
func (l *Liaison) WriteBuffer(addr address.Address, data []byte) error {
	h := l.handle.Load()
	if !h.Attached {
		return ErrNotAttached
	}
	if len(data) == 0 {
		return nil
	}
	if err := l.mem.Write(h.PID, addr, data); err != nil {
		return fmt.Errorf("write %d bytes at %s (pid %d): %w", len(data), addr, h.PID, err)
	}
	return nil
}
