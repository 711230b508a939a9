package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/storage"
)

func TestFetchCheckpoint(t *testing.T) {
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "data"), filepath.Join(dir, "public"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	s := New(blobs)
	scope := blobstore.Scope{Owner: storage.Owner{Kind: storage.OwnerUser, ID: "u"}, Code: "c"}

	if _, err := s.LoadFetch(scope); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	in := &Fetch{Iteration: 2, URLs: []string{"u1", "u2"}}
	if err := s.SaveFetch(scope, in); err != nil {
		t.Fatalf("SaveFetch: %v", err)
	}
	out, err := s.LoadFetch(scope)
	if err != nil {
		t.Fatalf("LoadFetch: %v", err)
	}
	if out.Iteration != 2 || len(out.URLs) != 2 || out.URLs[0] != "u1" || out.URLs[1] != "u2" {
		t.Errorf("unexpected checkpoint: %+v", out)
	}
	if out.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	// Overwrite keeps only the latest list.
	if err := s.SaveFetch(scope, &Fetch{Iteration: 3, URLs: []string{"u3"}}); err != nil {
		t.Fatalf("SaveFetch: %v", err)
	}
	out, _ = s.LoadFetch(scope)
	if len(out.URLs) != 1 || out.URLs[0] != "u3" {
		t.Errorf("expected overwritten list, got %v", out.URLs)
	}
}

func TestGatherCheckpoint_Corrupt(t *testing.T) {
	dir := t.TempDir()
	blobs, _ := blobstore.New(filepath.Join(dir, "data"), filepath.Join(dir, "public"))
	s := New(blobs)
	scope := blobstore.Scope{Owner: storage.Owner{Kind: storage.OwnerUser, ID: "u"}, Code: "c"}

	if err := blobs.WriteFile(scope, blobstore.DirCheckpoints+"/gather.json", []byte("{not json")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := s.LoadGather(scope)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
