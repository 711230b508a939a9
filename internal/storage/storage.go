package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/FranksOps/maestro/internal/lifecycle"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key (context code per owner,
	// plugin name per kind) is already taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrStatusConflict is returned by TransitionStatus when the stored status
	// is not the expected one.
	ErrStatusConflict = errors.New("storage: status changed concurrently")
)

// ContextFilter narrows ListContexts.
type ContextFilter struct {
	Owner  *Owner
	Status lifecycle.Status
	Limit  int
	Offset int
}

// ContextStore persists search contexts.
type ContextStore interface {
	CreateContext(ctx context.Context, sc *SearchContext) error
	GetContext(ctx context.Context, id string) (*SearchContext, error)
	GetContextByCode(ctx context.Context, owner Owner, code string) (*SearchContext, error)
	ListContexts(ctx context.Context, filter ContextFilter) ([]*SearchContext, error)
	// TransitionStatus moves the context from one status to another only if
	// the stored status is still from and the edge is part of the lifecycle.
	TransitionStatus(ctx context.Context, id string, from, to lifecycle.Status) error
	SetStopped(ctx context.Context, id string, stopped bool) error
	// IncrementIterations returns the new counter value.
	IncrementIterations(ctx context.Context, id string) (int, error)
	// DeleteContext removes the context with its configuration and data objects.
	DeleteContext(ctx context.Context, id string) error
}

// ConfigStore persists context configurations.
type ConfigStore interface {
	SaveConfiguration(ctx context.Context, cfg *Configuration) error
	GetConfiguration(ctx context.Context, contextID string) (*Configuration, error)
}

// PluginFilter narrows ListPlugins. Zero values match everything.
type PluginFilter struct {
	Kind       PluginKind
	ActiveOnly bool
}

// PluginStore persists the plugin catalog.
type PluginStore interface {
	// UpsertPlugin inserts or updates the record keyed by (Kind, Name). An empty
	// ID is assigned on insert; the stored ID is written back into p.
	UpsertPlugin(ctx context.Context, p *Plugin) error
	GetPlugin(ctx context.Context, id string) (*Plugin, error)
	ListPlugins(ctx context.Context, filter PluginFilter) ([]*Plugin, error)
}

// DataFilter narrows ListDataObjects.
type DataFilter struct {
	UnfilteredOnly bool
	IDs            []string
}

// DataStore persists a context's datastream.
type DataStore interface {
	// InsertDataObjects skips objects whose (ContextID, ContentPath) already
	// exists and returns how many rows were created.
	InsertDataObjects(ctx context.Context, objs []*DataObject) (int, error)
	ListDataObjects(ctx context.Context, contextID string, filter DataFilter) ([]*DataObject, error)
	CountDataObjects(ctx context.Context, contextID string, filter DataFilter) (int, error)
	// UpdateDataObject writes paths, metadata and the filtered flag.
	UpdateDataObject(ctx context.Context, obj *DataObject) error
	// SetClassification records one classifier's result without touching the
	// results of other classifiers.
	SetClassification(ctx context.Context, objectID, classifier string, result json.RawMessage) error
	// DeleteDataObjects removes the given objects and returns the removed rows.
	DeleteDataObjects(ctx context.Context, contextID string, ids []string) ([]*DataObject, error)
}

// CacheStore persists fetcher result cache rows.
type CacheStore interface {
	GetAPIResult(ctx context.Context, fetcherID, paramsKey string) (*APIResult, error)
	// PutAPIResult keeps the first row written for a key.
	PutAPIResult(ctx context.Context, r *APIResult) error
}

// Backend defines the persistence boundary of the pipeline.
type Backend interface {
	ContextStore
	ConfigStore
	PluginStore
	DataStore
	CacheStore
	Close() error
}

// Exporter serializes a datastream for the download-results operation.
type Exporter interface {
	Export(ctx context.Context, obj *DataObject) error
	// Close flushes buffered output. It does not close the underlying writer.
	Close() error
}
