package store

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/models"
)

// ExportCSV writes every event in the range to dest as CSV and returns the
// number of exported events. An empty range writes only the header. Export
// never mutates stored data.
func (s *Store) ExportCSV(ctx context.Context, r Range, dest string) (int, error) {
	events, err := s.Query(ctx, r)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, &models.ExportError{Destination: dest, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"event_id", "camera_id", "timestamp", "identity", "confidence", "classification", "snapshot"}
	if err := w.Write(header); err != nil {
		return 0, &models.ExportError{Destination: dest, Err: err}
	}

	for _, ev := range events {
		record := []string{
			ev.EventID,
			ev.CameraID,
			ev.Timestamp.UTC().Format(timeLayout),
			ev.Identity,
			strconv.FormatFloat(ev.Confidence, 'f', 4, 64),
			string(ev.Classification),
			ev.SnapshotPath,
		}
		if err := w.Write(record); err != nil {
			return 0, &models.ExportError{Destination: dest, Err: err}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, &models.ExportError{Destination: dest, Err: err}
	}

	log.Info().
		Str("dest", dest).
		Int("events", len(events)).
		Time("from", r.From).
		Time("to", r.To).
		Msg("Event log exported")

	return len(events), nil
}
