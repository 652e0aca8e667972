package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustPut writes an entry or fails the test.
func mustPut(t *testing.T, s *Store, key, text string, tags ...string) Entry {
	t.Helper()
	e, err := s.Put(context.Background(), Entry{Key: key, Text: text, Tags: tags})
	if err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
	return e
}
