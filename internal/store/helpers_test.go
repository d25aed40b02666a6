package store

import (
	"testing"

	"playsync/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(migrations.Files); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}
