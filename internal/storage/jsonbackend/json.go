package jsonbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/FranksOps/maestro/internal/storage"
)

// ensure jsonExporter implements storage.Exporter
var _ storage.Exporter = (*jsonExporter)(nil)

// Record is the NDJSON line written for each data object.
type Record struct {
	ID             string                     `json:"id"`
	SourceURL      string                     `json:"source_url,omitempty"`
	ContentPath    string                     `json:"content_path"`
	PreviewPath    string                     `json:"preview_path,omitempty"`
	PublicPath     string                     `json:"public_path,omitempty"`
	Metadata       map[string]any             `json:"metadata,omitempty"`
	Filtered       bool                       `json:"filtered"`
	Classification map[string]json.RawMessage `json:"classification,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
}

func recordOf(obj *storage.DataObject) Record {
	return Record{
		ID:             obj.ID,
		SourceURL:      obj.SourceURL,
		ContentPath:    obj.ContentPath,
		PreviewPath:    obj.PreviewPath,
		PublicPath:     obj.PublicPath,
		Metadata:       obj.Metadata,
		Filtered:       obj.Filtered,
		Classification: obj.Classification,
		CreatedAt:      obj.CreatedAt,
	}
}

type jsonExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// New creates a new NDJSON storage.Exporter writing to w.
func New(w io.Writer) storage.Exporter {
	return &jsonExporter{enc: json.NewEncoder(w)}
}

func (e *jsonExporter) Export(ctx context.Context, obj *storage.DataObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Encode appends the newline.
	if err := e.enc.Encode(recordOf(obj)); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (e *jsonExporter) Close() error { return nil }
