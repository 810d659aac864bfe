package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of update event.
type EventType string

const (
	// EventUpdateTransition is emitted on every update controller state change.
	EventUpdateTransition EventType = "update_transition"
	// EventUpdateFinished is emitted once when the cycle reaches a terminal state.
	EventUpdateFinished EventType = "update_finished"
)

// Record carries the update session fields of an event.
type Record struct {
	SessionID       string `json:"session_id"`
	From            string `json:"from"`
	To              string `json:"to"`
	CurrentVersion  string `json:"current_version"`
	RemoteVersion   string `json:"remote_version,omitempty"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	Error           string `json:"error,omitempty"`
}

// Event represents an update event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to several sinks. A failing sink is logged and does
// not prevent delivery to the others.
type Multi struct {
	sinks []Sink
	log   *slog.Logger
}

// NewMulti returns a fan-out sink. Nil sinks are skipped.
func NewMulti(log *slog.Logger, sinks ...Sink) *Multi {
	if log == nil {
		log = slog.Default()
	}
	m := &Multi{log: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Send delivers e to every sink and returns the joined errors.
func (m *Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, e); err != nil {
			m.log.Warn("history sink failed", "type", e.Type, "session", e.Record.SessionID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
