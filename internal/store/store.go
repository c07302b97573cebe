// Package store provides SQLite persistence for the event log.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"vigil-worker-go/internal/models"
)

// Store is the append-only event log. Appends are serialized through the
// write lock; range queries run concurrently under the read lock and never
// observe a partially written event.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates the store at dbPath, creating tables as needed. Pass
// ":memory:" for an in-memory database (tests).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, &models.StorageError{Op: "open", Err: err}
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &models.StorageError{Op: "open", Err: err}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &models.StorageError{Op: "migrate", Err: err}
	}

	log.Info().Str("path", dbPath).Msg("Event store initialized")
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		classification TEXT NOT NULL,
		confidence REAL NOT NULL,
		snapshot_path TEXT,
		occurred_at DATETIME NOT NULL,
		stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_camera ON events(camera_id);
	CREATE INDEX IF NOT EXISTS idx_events_identity ON events(camera_id, identity);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists one event. Idempotent under retry: a second append with
// the same event_id leaves exactly one stored row.
func (s *Store) Append(ctx context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, camera_id, identity, classification, confidence, snapshot_path, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		ev.EventID,
		ev.CameraID,
		ev.Identity,
		string(ev.Classification),
		ev.Confidence,
		ev.SnapshotPath,
		ev.Timestamp.UTC(),
	)
	if err != nil {
		return &models.StorageError{Op: "append", Err: err}
	}
	return nil
}

// Query returns events with occurred_at in [r.From, r.To), ordered by
// timestamp ascending. Insertion order breaks timestamp ties, which keeps
// per-camera event order stable.
func (s *Store) Query(ctx context.Context, r Range) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, camera_id, identity, classification, confidence, snapshot_path, occurred_at
		FROM events
		WHERE occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC, rowid ASC
	`, r.From.UTC(), r.To.UTC())
	if err != nil {
		return nil, &models.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var classification string
		var snapshot sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.CameraID, &ev.Identity, &classification, &ev.Confidence, &snapshot, &ev.Timestamp); err != nil {
			return nil, &models.StorageError{Op: "query", Err: err}
		}
		ev.Classification = models.Classification(classification)
		ev.SnapshotPath = snapshot.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "query", Err: err}
	}
	return events, nil
}

// Count returns the number of stored events, used by status endpoints
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EventFilter narrows queries beyond the time range
type EventFilter struct {
	CameraID       string
	Classification models.Classification
}

// QueryFiltered is Query with optional camera and classification filters
func (s *Store) QueryFiltered(ctx context.Context, r Range, f EventFilter) ([]models.Event, error) {
	events, err := s.Query(ctx, r)
	if err != nil {
		return nil, err
	}
	if f.CameraID == "" && f.Classification == "" {
		return events, nil
	}
	out := events[:0]
	for _, ev := range events {
		if f.CameraID != "" && ev.CameraID != f.CameraID {
			continue
		}
		if f.Classification != "" && ev.Classification != f.Classification {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// timeLayout is used for CSV export timestamps
const timeLayout = time.RFC3339
