// Package registry stores registered subjects and tracked intruder
// identities with their reference face encodings.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"vigil-worker-go/internal/helpers"
	"vigil-worker-go/internal/models"
)

// Registry is the SQLite-backed subject database. The detection engine
// consumes it read-only; registration flows write through the control API.
type Registry struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates the registry at dbPath, creating tables as needed
func Open(dbPath string) (*Registry, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Subject registry initialized")
	return r, nil
}

func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		subject_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS subject_encodings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT NOT NULL,
		encoding BLOB NOT NULL,
		FOREIGN KEY (subject_id) REFERENCES subjects(subject_id)
	);

	CREATE INDEX IF NOT EXISTS idx_encodings_subject ON subject_encodings(subject_id);

	CREATE TABLE IF NOT EXISTS intruders (
		intruder_id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		encoding BLOB NOT NULL,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		sightings INTEGER DEFAULT 1
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// RegisterSubject creates or replaces a subject and its reference encodings
func (r *Registry) RegisterSubject(ctx context.Context, subjectID, displayName string, encodings [][]float64) error {
	if subjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if len(encodings) == 0 {
		return fmt.Errorf("at least one reference encoding is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register subject %s: %w", subjectID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subjects (subject_id, display_name) VALUES (?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET display_name = excluded.display_name
	`, subjectID, displayName); err != nil {
		return fmt.Errorf("register subject %s: %w", subjectID, err)
	}

	// Replace the encoding set wholesale so updates are atomic
	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_encodings WHERE subject_id = ?`, subjectID); err != nil {
		return fmt.Errorf("register subject %s: %w", subjectID, err)
	}
	for _, enc := range encodings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subject_encodings (subject_id, encoding) VALUES (?, ?)
		`, subjectID, helpers.EncodeFloats(enc)); err != nil {
			return fmt.Errorf("register subject %s: %w", subjectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register subject %s: %w", subjectID, err)
	}

	log.Info().
		Str("subject_id", subjectID).
		Str("display_name", displayName).
		Int("encodings", len(encodings)).
		Msg("Subject registered")
	return nil
}

// RemoveSubject deletes a subject and its encodings
func (r *Registry) RemoveSubject(ctx context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE subject_id = ?`, subjectID)
	if err != nil {
		return fmt.Errorf("remove subject %s: %w", subjectID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("subject %s not found", subjectID)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subject_encodings WHERE subject_id = ?`, subjectID); err != nil {
		return fmt.Errorf("remove subject %s: %w", subjectID, err)
	}
	return nil
}

// Subjects returns every subject with its encodings, for the matcher
func (r *Registry) Subjects(ctx context.Context) ([]models.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.subject_id, s.display_name, e.encoding
		FROM subjects s
		JOIN subject_encodings e ON e.subject_id = s.subject_id
		ORDER BY s.subject_id, e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	index := make(map[string]int)
	for rows.Next() {
		var id, name string
		var blob []byte
		if err := rows.Scan(&id, &name, &blob); err != nil {
			return nil, fmt.Errorf("list subjects: %w", err)
		}
		enc, err := helpers.DecodeFloats(blob)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", id, err)
		}
		i, ok := index[id]
		if !ok {
			index[id] = len(subjects)
			subjects = append(subjects, models.Subject{SubjectID: id, DisplayName: name})
			i = index[id]
		}
		subjects[i].Encodings = append(subjects[i].Encodings, enc)
	}
	return subjects, rows.Err()
}

// ListSubjects returns subjects without encodings, for the control API
func (r *Registry) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `SELECT subject_id, display_name FROM subjects ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var s models.Subject
		if err := rows.Scan(&s.SubjectID, &s.DisplayName); err != nil {
			return nil, fmt.Errorf("list subjects: %w", err)
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// MatchOrAddIntruder resolves an unknown encoding to a stable intruder
// identity. The closest stored intruder within tolerance wins and has its
// sighting record updated; otherwise a new sequential Intruder_N identity
// is created.
func (r *Registry) MatchOrAddIntruder(ctx context.Context, encoding []float64, tolerance float64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT intruder_id, encoding FROM intruders ORDER BY seq`)
	if err != nil {
		return "", fmt.Errorf("match intruder: %w", err)
	}

	bestID := ""
	bestDist := tolerance
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return "", fmt.Errorf("match intruder: %w", err)
		}
		stored, err := helpers.DecodeFloats(blob)
		if err != nil {
			rows.Close()
			return "", fmt.Errorf("intruder %s: %w", id, err)
		}
		if d := helpers.EuclideanDistance(encoding, stored); d <= bestDist {
			bestDist = d
			bestID = id
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return "", fmt.Errorf("match intruder: %w", err)
	}
	rows.Close()

	now := time.Now().UTC()
	if bestID != "" {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE intruders SET last_seen = ?, sightings = sightings + 1 WHERE intruder_id = ?
		`, now, bestID); err != nil {
			return "", fmt.Errorf("update intruder %s: %w", bestID, err)
		}
		return bestID, nil
	}

	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM intruders`).Scan(&seq); err != nil {
		return "", fmt.Errorf("add intruder: %w", err)
	}
	next := int(seq.Int64) + 1
	newID := fmt.Sprintf("Intruder_%d", next)

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO intruders (intruder_id, seq, encoding, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`, newID, next, helpers.EncodeFloats(encoding), now, now); err != nil {
		return "", fmt.Errorf("add intruder: %w", err)
	}

	log.Info().Str("intruder_id", newID).Msg("New intruder tracked")
	return newID, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}
