package jsonbackend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/FranksOps/maestro/internal/storage"
)

func TestJSONExporter(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	objs := []*storage.DataObject{
		{
			ID:             "obj1",
			SourceURL:      "http://example.com/1.jpg",
			ContentPath:    "data/full/1.jpg",
			PreviewPath:    "data/thumbs/1.jpg",
			Metadata:       map[string]any{"datetime": "2021:01:01 10:00:00"},
			Classification: map[string]json.RawMessage{"species": json.RawMessage(`"owl"`)},
			CreatedAt:      now,
		},
		{
			ID:          "obj2",
			ContentPath: "data/full/2.jpg",
			Filtered:    true,
			CreatedAt:   now,
		},
	}
	for _, o := range objs {
		if err := e.Export(ctx, o); err != nil {
			t.Fatalf("Failed to export %s: %v", o.ID, err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var got []Record
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		got = append(got, r)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(got))
	}
	if got[0].ID != "obj1" || string(got[0].Classification["species"]) != `"owl"` {
		t.Errorf("unexpected first record: %+v", got[0])
	}
	if !got[1].Filtered {
		t.Error("expected filtered flag on second record")
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Errorf("Expected CreatedAt %v, got %v", now, got[0].CreatedAt)
	}
}

func TestJSONExporter_Cancelled(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Export(ctx, &storage.DataObject{ID: "x"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %q", buf.String())
	}
}
