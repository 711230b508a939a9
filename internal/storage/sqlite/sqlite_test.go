package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/FranksOps/maestro/internal/storage/storagetest"
)

func TestSQLiteBackend(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "maestro.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	storagetest.Run(t, b)
}

func TestSQLiteBackend_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maestro.db")

	b, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Schema creation is idempotent.
	b, err = New(DSN(path))
	if err != nil {
		t.Fatalf("Failed to reopen SQLite backend: %v", err)
	}
	defer b.Close()
}
