package store

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil-worker-go/internal/models"
)

func TestExportCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"x1", "x2"} {
		if err := s.Append(ctx, testEvent(id, "cam-1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	dest := filepath.Join(t.TempDir(), "export.csv")
	count, err := s.ExportCSV(ctx, Range{From: base, To: base.Add(time.Hour)}, dest)
	if err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 exported events, got %d", count)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(records) != 3 { // header + 2 rows
		t.Fatalf("expected 3 CSV records, got %d", len(records))
	}
	if records[0][0] != "event_id" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "x1" || records[2][0] != "x2" {
		t.Fatalf("rows out of order: %v", records)
	}
}

func TestExportCSVEmptyRange(t *testing.T) {
	s := openTestStore(t)
	dest := filepath.Join(t.TempDir(), "empty.csv")

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	count, err := s.ExportCSV(context.Background(), Range{From: from, To: from.Add(time.Hour)}, dest)
	if err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 exported events, got %d", count)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected header row in empty export")
	}
}

func TestExportCSVBadDestination(t *testing.T) {
	s := openTestStore(t)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.ExportCSV(context.Background(), Range{From: from, To: from.Add(time.Hour)}, filepath.Join(t.TempDir(), "missing", "export.csv"))
	if err == nil {
		t.Fatal("expected error for unwritable destination")
	}
	var exportErr *models.ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("expected ExportError, got %T: %v", err, err)
	}
}
