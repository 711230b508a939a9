package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/FranksOps/maestro/internal/storage/storagetest"
)

func TestPostgresBackend(t *testing.T) {
	// Only run this test if MAESTRO_TEST_PG_DSN is set
	dsn := os.Getenv("MAESTRO_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres backend test: MAESTRO_TEST_PG_DSN not set")
	}

	b, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres backend: %v", err)
	}
	defer b.Close()

	storagetest.Run(t, b)
}
