// Package gather turns source URLs into stored raw files and previews, one
// retrieval mechanism per data type.
package gather

import (
	"context"
	"fmt"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/storage"
)

// Item is one retrieved file. Paths are relative to the context directory,
// except PublicPath which is relative to the public root.
type Item struct {
	ContentPath string
	PreviewPath string
	PublicPath  string
	SourceURL   string
	Metadata    map[string]any
}

// Object converts it into a data object of contextID.
func (it Item) Object(contextID string) *storage.DataObject {
	return &storage.DataObject{
		ContextID:   contextID,
		ContentPath: it.ContentPath,
		PreviewPath: it.PreviewPath,
		PublicPath:  it.PublicPath,
		SourceURL:   it.SourceURL,
		Metadata:    it.Metadata,
	}
}

// Retriever fetches the media behind urls into the context at scope. It
// returns what it stored even when it also returns an error.
type Retriever interface {
	Retrieve(ctx context.Context, scope blobstore.Scope, urls []string) ([]Item, error)
}

// Retrievers maps a data type to its retrieval mechanism.
type Retrievers map[storage.DataType]Retriever

// For returns the retriever of dataType.
func (r Retrievers) For(dataType storage.DataType) (Retriever, error) {
	rt, ok := r[dataType]
	if !ok {
		return nil, fmt.Errorf("no retriever for data type %q", dataType)
	}
	return rt, nil
}
