// Package audit keeps a sqlite ledger of PSK installation outcomes. It never
// stores key material: rows hold the interface, the peer's public key, the
// backend and the outcome code.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/gookit/event"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chiquitav2/psk-broker/internal/events"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

//go:embed schema.sql
var ddl string

// DefaultPath is used when no path is configured.
const DefaultPath = "/var/lib/psk-broker/audit.db"

// Entry is one recorded outcome.
type Entry struct {
	ID         int64
	Interface  string
	PeerID     string
	Backend    string
	Outcome    string
	Duration   time.Duration
	RecordedAt time.Time
}

// Store is the sqlite-backed ledger.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens or creates the ledger at path.
func Open(path string, l *logger.Logger) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewFromDB(db, l)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an existing connection and sets up the schema.
func NewFromDB(db *sql.DB, l *logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to setup audit schema: %w", err)
	}
	return &Store{db: db, logger: l.WithComponent("audit")}, nil
}

// Record appends one entry. A zero RecordedAt is stored as now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO psk_outcomes (interface, peer_id, backend, outcome, duration_us, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Interface, e.PeerID, e.Backend, e.Outcome, e.Duration.Microseconds(), e.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, interface, peer_id, backend, outcome, duration_us, recorded_at
		 FROM psk_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var us int64
		if err := rows.Scan(&e.ID, &e.Interface, &e.PeerID, &e.Backend, &e.Outcome, &us, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		e.Duration = time.Duration(us) * time.Microsecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Subscribe records every outcome published on bus.
func (s *Store) Subscribe(bus *events.Bus) {
	listener := event.ListenerFunc(func(ev event.Event) error {
		var entry Entry
		switch p := ev.Get("payload").(type) {
		case events.PSKInstalledEvent:
			entry = Entry{Interface: p.Interface, PeerID: p.PeerID, Backend: p.Backend,
				Outcome: "ok", Duration: p.Duration, RecordedAt: p.Timestamp}
		case events.PSKFailedEvent:
			entry = Entry{Interface: p.Interface, PeerID: p.PeerID, Backend: p.Backend,
				Outcome: p.ErrorKind, Duration: p.Duration, RecordedAt: p.Timestamp}
		default:
			return errors.New("unexpected audit payload")
		}

		if err := s.Record(context.Background(), entry); err != nil {
			// A failing ledger must not fail the event chain.
			s.logger.Warn("failed to record audit entry", "error", err.Error())
		}
		return nil
	})
	bus.SubscribeToInstalled(listener)
	bus.SubscribeToFailed(listener)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
