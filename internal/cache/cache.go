// Package cache memoizes fetcher results keyed by the exact call parameters.
// Rows live in the storage backend, payloads as JSON files under a directory.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/metrics"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/storage"
)

// DirName is the payload directory under the data root.
const DirName = "apis"

type payload struct {
	FetcherID string          `json:"fetcher_id"`
	Params    json.RawMessage `json:"params"`
	URLs      []string        `json:"urls"`
}

// Cache is the fetcher result cache.
type Cache struct {
	store  storage.CacheStore
	dir    string
	logger *slog.Logger
}

// New returns a Cache writing payloads into dir.
func New(store storage.CacheStore, dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, dir: dir, logger: logger}
}

func payloadName(fetcherID, key string) string {
	sum := sha256.Sum256([]byte(fetcherID + "\x00" + key))
	return hex.EncodeToString(sum[:]) + ".json"
}

// Get returns the cached URLs of fetcherID for params. A missing row, a
// missing payload and a corrupt payload are all misses.
func (c *Cache) Get(ctx context.Context, fetcherID string, params plugin.FetchParams) ([]string, bool) {
	urls, err := c.get(ctx, fetcherID, params)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("cache read failed, treating as miss", "fetcher_id", fetcherID, "err", err)
		}
		metrics.RecordCache(false)
		return nil, false
	}
	metrics.RecordCache(true)
	return urls, true
}

func (c *Cache) get(ctx context.Context, fetcherID string, params plugin.FetchParams) ([]string, error) {
	key, err := params.Key()
	if err != nil {
		return nil, fmt.Errorf("cache key: %w", err)
	}
	row, err := c.store.GetAPIResult(ctx, fetcherID, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(c.dir, filepath.Base(row.ResultPath)))
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", row.ResultPath, err)
	}
	if p.FetcherID != fetcherID || string(p.Params) != key {
		return nil, fmt.Errorf("payload %s belongs to another call", row.ResultPath)
	}
	if p.URLs == nil {
		p.URLs = []string{}
	}
	return p.URLs, nil
}

// Put stores urls as the result of fetcherID for params. Entries are never
// updated: an existing readable entry is left as is.
func (c *Cache) Put(ctx context.Context, fetcherID string, params plugin.FetchParams, urls []string) error {
	key, err := params.Key()
	if err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	if _, err := c.get(ctx, fetcherID, params); err == nil {
		return nil
	}
	if urls == nil {
		urls = []string{}
	}
	data, err := json.Marshal(payload{FetcherID: fetcherID, Params: json.RawMessage(key), URLs: urls})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	name := payloadName(fetcherID, key)
	if err := blobstore.WriteAtomic(filepath.Join(c.dir, name), data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := c.store.PutAPIResult(ctx, &storage.APIResult{FetcherID: fetcherID, ParamsKey: key, ResultPath: name}); err != nil {
		return fmt.Errorf("record payload: %w", err)
	}
	return nil
}
