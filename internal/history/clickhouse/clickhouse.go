package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/ff7link/internal/history"
)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options configures the connection. Zero values select the ClickHouse defaults.
type Options struct {
	Database string
	Username string
	Password string
	// CreateTable creates the target table when missing.
	CreateTable bool
}

func New(addr, table string) (*Sink, error) {
	return NewWithOptions(addr, table, Options{})
}

func NewWithOptions(addr, table string, o Options) (*Sink, error) {
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if o.CreateTable {
		if err := s.ensureTable(context.Background()); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			type String,
			occurred_at DateTime64(6),
			session_id String,
			from_state String,
			to_state String,
			current_version String,
			remote_version String,
			bytes_downloaded Int64,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, session_id)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, session_id, from_state, to_state, current_version, remote_version, bytes_downloaded, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	rec := e.Record
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		rec.SessionID,
		rec.From,
		rec.To,
		rec.CurrentVersion,
		rec.RemoteVersion,
		rec.BytesDownloaded,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}

	return nil
}
