package stagelog

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/storage"
)

func TestLog_FirstLineTruncates(t *testing.T) {
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "data"), filepath.Join(dir, "public"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	scope := blobstore.Scope{Owner: storage.Owner{Kind: storage.OwnerUser, ID: "u"}, Code: "c"}

	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	first := Open(blobs, scope, lifecycle.StageFetch, nil)
	first.now = func() time.Time { return fixed }
	first.Printf("Starting fetch")
	first.Printf("Got %d URLs", 2)

	lines, err := Read(blobs, scope, lifecycle.StageFetch)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	if lines[0] != "[09-03-2024 14:05:07] Starting fetch" {
		t.Errorf("unexpected format: %q", lines[0])
	}

	// A new run starts a fresh log.
	second := Open(blobs, scope, lifecycle.StageFetch, nil)
	second.Printf("Starting fetch again")
	lines, _ = Read(blobs, scope, lifecycle.StageFetch)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "Starting fetch again") {
		t.Errorf("expected previous run to be discarded, got %v", lines)
	}

	// Other stages are untouched.
	if lines, _ := Read(blobs, scope, lifecycle.StageGather); len(lines) != 0 {
		t.Errorf("expected empty gather log, got %v", lines)
	}
}
