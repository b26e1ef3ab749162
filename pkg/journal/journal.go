// Package journal is the durable implementation of the persistence
// boundary: an append-only SQLite log of (participant id, record) pairs
// with filtered, restartable reads. Dispatch never depends on it.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed journal. Records are stored in their JSON wire
// form and re-validated against the registry on read.
type Store struct {
	db       *sql.DB
	registry *event.Registry
}

// Open creates or opens the journal database at path. WAL mode for
// concurrent reads, a single writer connection to avoid SQLITE_BUSY,
// idempotent schema application.
func Open(path string, registry *event.Registry) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Store{db: db, registry: registry}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one (participant id, record) pair.
func (s *Store) Append(ctx context.Context, participantID string, rec *event.Record) error {
	payload, err := event.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (participant_id, event_id, event_type, payload) VALUES (?, ?, ?, ?)`,
		participantID, rec.ID(), rec.Type(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", rec.ID(), err)
	}
	return nil
}

// Events reads records matching the filter in append order. The sequence
// is finite and restartable: the same filter replays the same prefix.
func (s *Store) Events(ctx context.Context, f core.Filter) ([]*event.Record, error) {
	query := `SELECT payload FROM events`
	var (
		where []string
		args  []any
	)
	if f.ParticipantID != "" {
		where = append(where, "participant_id = ?")
		args = append(args, f.ParticipantID)
	}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// Limit keeps the newest N, still returned in append order.
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " DESC LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	var out []*event.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		rec, err := s.registry.Unmarshal([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode journaled event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

var _ core.Journal = (*Store)(nil)
