// Package checkpoint persists the typed output of stages that later stages,
// or a resume, re-read from disk instead of recomputing.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/FranksOps/maestro/internal/blobstore"
)

// ErrNotFound is returned when a stage has not written its checkpoint yet.
var ErrNotFound = errors.New("checkpoint: not found")

// Fetch is the URL list produced by the fetch stage.
type Fetch struct {
	Iteration int       `json:"iteration"`
	URLs      []string  `json:"urls"`
	CreatedAt time.Time `json:"created_at"`
}

// Gather lists the data objects known after the gather stage.
type Gather struct {
	ObjectIDs []string  `json:"object_ids"`
	Inserted  int       `json:"inserted"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	fetchFile  = "fetch.json"
	gatherFile = "gather.json"
)

// Store reads and writes checkpoints inside context directories.
type Store struct {
	blobs *blobstore.Store
}

// New returns a Store writing under blobs.
func New(blobs *blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

func (s *Store) SaveFetch(scope blobstore.Scope, cp *Fetch) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return s.write(scope, fetchFile, cp)
}

func (s *Store) LoadFetch(scope blobstore.Scope) (*Fetch, error) {
	var cp Fetch
	if err := s.read(scope, fetchFile, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) SaveGather(scope blobstore.Scope, cp *Gather) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return s.write(scope, gatherFile, cp)
}

func (s *Store) LoadGather(scope blobstore.Scope) (*Gather, error) {
	var cp Gather
	if err := s.read(scope, gatherFile, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) write(scope blobstore.Scope, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := s.blobs.WriteFile(scope, path.Join(blobstore.DirCheckpoints, name), data); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *Store) read(scope blobstore.Scope, name string, v any) error {
	data, err := s.blobs.ReadFile(scope, path.Join(blobstore.DirCheckpoints, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checkpoint %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return nil
}
