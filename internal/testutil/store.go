package testutil

import (
	"testing"

	"jt-go/internal/docstore"
	"jt-go/internal/jt"
)

// NewTestStore creates an in-memory SQLite document store with the schema
// applied. The store is closed when the test completes.
func NewTestStore(t *testing.T) jt.DocumentStore {
	t.Helper()

	s, err := docstore.NewSQLiteStore(docstore.DriverCGO, ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
