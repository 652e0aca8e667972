package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyKey is returned when an entry key is blank.
var ErrEmptyKey = errors.New("entry key must not be empty")

// Entry is one knowledge-base record.
type Entry struct {
	Key  string
	Text string
	Tags []string

	// Revision counts writes to the key, from 1.
	Revision int64

	// Seq is the store-wide write sequence of the last write.
	Seq int64
}

// Put inserts or replaces the entry under e.Key and returns the stored
// record with its revision and sequence filled in.
func (s *Store) Put(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Key) == "" {
		return Entry{}, fmt.Errorf("put entry: %w", ErrEmptyKey)
	}
	tagsJSON, err := marshalTags(e.Tags)
	if err != nil {
		return Entry{}, fmt.Errorf("put entry %q: %w", e.Key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("put entry %q: begin: %w", e.Key, err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM entries`).Scan(&seq); err != nil {
		return Entry{}, fmt.Errorf("put entry %q: next seq: %w", e.Key, err)
	}

	// The upsert keeps revision monotonic per key.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (key, text, tags, revision, seq)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			text = excluded.text,
			tags = excluded.tags,
			revision = entries.revision + 1,
			seq = excluded.seq
	`, e.Key, e.Text, tagsJSON, seq)
	if err != nil {
		return Entry{}, fmt.Errorf("put entry %q: %w", e.Key, err)
	}

	var stored Entry
	row := tx.QueryRowContext(ctx, `SELECT key, text, tags, revision, seq FROM entries WHERE key = ?`, e.Key)
	if stored, err = scanEntry(row); err != nil {
		return Entry{}, fmt.Errorf("put entry %q: %w", e.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("put entry %q: commit: %w", e.Key, err)
	}
	return stored, nil
}

// Delete removes the entry under key. It reports whether an entry existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete entry %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry %q: %w", key, err)
	}
	return n > 0, nil
}
