package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/credbroker/broker/internal/store"
)

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.db")
	s, err := store.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.db")
	ctx := context.Background()

	s, err := store.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	seedCredential(t, s, "cred1", "gemini")
	s.Close()

	s2, err := store.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen OpenSQLite() error = %v", err)
	}
	defer s2.Close()
	if err := s2.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := s2.GetCredential(ctx, "cred1"); err != nil {
		t.Errorf("GetCredential() after reopen error = %v", err)
	}
}
