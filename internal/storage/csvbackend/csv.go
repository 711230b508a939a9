package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/maestro/internal/storage"
)

// ensure csvExporter implements storage.Exporter
var _ storage.Exporter = (*csvExporter)(nil)

// Headers defines the CSV column order
var Headers = []string{
	"id",
	"source_url",
	"content_path",
	"preview_path",
	"public_path",
	"filtered",
	"created_at",
	"metadata_json",
	"classification_json",
}

type csvExporter struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

// New creates a new CSV storage.Exporter writing to w. The header row is
// written before the first record, or on Close for an empty datastream.
func New(w io.Writer) storage.Exporter {
	return &csvExporter{w: csv.NewWriter(w)}
}

func (e *csvExporter) header() error {
	if e.wroteHeader {
		return nil
	}
	e.wroteHeader = true
	return e.w.Write(Headers)
}

func (e *csvExporter) Export(ctx context.Context, obj *storage.DataObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	metadata, err := json.Marshal(obj.Metadata)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	classification, err := json.Marshal(obj.Classification)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	record := []string{
		obj.ID,
		obj.SourceURL,
		obj.ContentPath,
		obj.PreviewPath,
		obj.PublicPath,
		strconv.FormatBool(obj.Filtered),
		obj.CreatedAt.Format(time.RFC3339Nano),
		string(metadata),
		string(classification),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.header(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := e.w.Write(record); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (e *csvExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.header(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}
