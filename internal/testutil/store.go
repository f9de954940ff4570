package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/g960059/viasacra/internal/db"
	"github.com/g960059/viasacra/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "viasacra-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// SeedSession writes a session straight into the store, bypassing the
// invariant checks of the session package.
func SeedSession(t *testing.T, store *db.Store, ctx context.Context, sess model.Session) {
	t.Helper()
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}
