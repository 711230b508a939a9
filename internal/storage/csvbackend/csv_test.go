package csvbackend

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/maestro/internal/storage"
)

func TestCSVExporter(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	ctx := context.Background()
	now := time.Now().UTC()

	objs := []*storage.DataObject{
		{
			ID:             "csv1",
			SourceURL:      "http://example.com/a.mp3",
			ContentPath:    "data/full/a.mp3",
			Metadata:       map[string]any{"note": "comma, inside"},
			Classification: map[string]json.RawMessage{"genre": json.RawMessage(`"jazz"`)},
			CreatedAt:      now,
		},
		{ID: "csv2", ContentPath: "data/full/b.mp3", Filtered: true, CreatedAt: now},
	}
	for _, o := range objs {
		if err := e.Export(ctx, o); err != nil {
			t.Fatalf("Failed to export %s: %v", o.ID, err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Headers, ",") {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "csv1" || rows[2][5] != "true" {
		t.Errorf("unexpected rows: %v", rows[1:])
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(rows[1][7]), &meta); err != nil || meta["note"] != "comma, inside" {
		t.Errorf("metadata column did not round trip: %q (%v)", rows[1][7], err)
	}
	created, err := time.Parse(time.RFC3339Nano, rows[1][6])
	if err != nil || !created.Equal(now) {
		t.Errorf("Expected created_at %v, got %q", now, rows[1][6])
	}
}

func TestCSVExporter_EmptyHasHeader(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != strings.Join(Headers, ",") {
		t.Errorf("expected header only, got %q", got)
	}
}
