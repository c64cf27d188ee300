package testsupport

import (
	"context"
	"testing"

	"narrasync/internal/config"
	"narrasync/internal/projectstore"
)

// MustOpenStore opens a projectstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *projectstore.Store {
	t.Helper()

	store, err := projectstore.Open(cfg)
	if err != nil {
		t.Fatalf("projectstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewProject inserts an empty project document.
func NewProject(t testing.TB, store *projectstore.Store, title string) *projectstore.Project {
	t.Helper()

	project, err := store.Create(context.Background(), title, []byte(`{"segments":[]}`), projectstore.Summary{})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return project
}
