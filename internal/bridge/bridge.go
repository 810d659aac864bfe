// Package bridge implements the command operations the UI invokes against
// the attached game process.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/ff7link/internal/address"
	"github.com/loykin/ff7link/internal/gamedata"
	"github.com/loykin/ff7link/internal/liaison"
	"github.com/loykin/ff7link/internal/metrics"
)

// Operation names, used as metric labels and in logs.
const (
	OpIsProcessRunning  = "is_process_running"
	OpUpdateMessageData = "update_message_data"
	OpReadGameData      = "read_game_data"
)

// NotRunningError renders as "<name> is not running".
type NotRunningError = liaison.NotRunningError

// Liaison is the process access the bridge depends on.
type Liaison interface {
	IsRunning() bool
	Name() string
	WriteBuffer(addr address.Address, data []byte) error
}

// GameReader produces game snapshots.
type GameReader interface {
	Read(ctx context.Context) (gamedata.Snapshot, error)
}

// Options tune bridge behavior.
type Options struct {
	// IgnoreWriteErrors reports success for UpdateMessageData even when the
	// memory write fails. The failure is still logged and counted.
	IgnoreWriteErrors bool
	Logger            *slog.Logger
}

// Bridge is safe for concurrent use. It keeps no attachment state of its own.
type Bridge struct {
	proc Liaison
	res  address.Resolver
	game GameReader
	opts Options
	log  *slog.Logger
}

// New returns a bridge.
func New(proc Liaison, res address.Resolver, game GameReader, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{proc: proc, res: res, game: game, opts: opts, log: log.With("component", "bridge")}
}

// IsProcessRunning reports the liaison's current attachment. It never fails.
func (b *Bridge) IsProcessRunning() bool {
	start := time.Now()
	running := b.proc.IsRunning()
	metrics.ObserveBridgeCall(OpIsProcessRunning, "ok", time.Since(start).Seconds())
	return running
}

// UpdateMessageData writes data into the world message region of the game.
// An empty payload succeeds without touching memory.
func (b *Bridge) UpdateMessageData(data []byte) error {
	return b.call(OpUpdateMessageData, func() (string, error) {
		if !b.proc.IsRunning() {
			return "", &NotRunningError{Name: b.proc.Name()}
		}
		addr, err := b.res.Resolve(address.WorldMesData)
		if err != nil {
			return "", err
		}
		err = b.proc.WriteBuffer(addr, data)
		if err == nil {
			return "ok", nil
		}
		if errors.Is(err, liaison.ErrNotAttached) {
			err = fmt.Errorf("%w: %w", &NotRunningError{Name: b.proc.Name()}, err)
		}
		if b.opts.IgnoreWriteErrors {
			b.log.Warn("message write failed, ignored", "addr", addr, "bytes", len(data), "error", err)
			return "ignored_error", nil
		}
		return "", err
	})
}

// ReadGameData returns a snapshot of the current game state.
func (b *Bridge) ReadGameData(ctx context.Context) (gamedata.Snapshot, error) {
	var s gamedata.Snapshot
	err := b.call(OpReadGameData, func() (string, error) {
		if !b.proc.IsRunning() {
			return "", &NotRunningError{Name: b.proc.Name()}
		}
		var err error
		s, err = b.game.Read(ctx)
		return "ok", err
	})
	if err != nil {
		return gamedata.Snapshot{}, err
	}
	return s, nil
}

// call runs fn, records it, and turns a panic in the call path into an error.
func (b *Bridge) call(op string, fn func() (string, error)) (err error) {
	start := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bridge call panicked", "op", op, "panic", r)
			err = fmt.Errorf("%s: internal error: %v", op, r)
		}
		if err != nil {
			result = "error"
			if errors.Is(err, liaison.ErrNotAttached) {
				result = "not_running"
			}
			b.log.Debug("bridge call failed", "op", op, "error", err)
		}
		metrics.ObserveBridgeCall(op, result, time.Since(start).Seconds())
	}()
	result, err = fn()
	return err
}
