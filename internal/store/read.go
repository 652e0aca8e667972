package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultSearchLimit caps Search results when the caller passes 0.
const DefaultSearchLimit = 10

// Get returns the entry under key. The bool is false when none exists.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, text, tags, revision, seq FROM entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get entry %q: %w", key, err)
	}
	return e, true, nil
}

// Search returns entries whose key or text contains query, ignoring
// Unicode case, ordered by key. An empty query matches every entry. A limit of 0
// means DefaultSearchLimit.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit < 0 {
		return nil, fmt.Errorf("search entries: negative limit %d", limit)
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	needle := fold(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, text, tags, revision, seq
		FROM entries
		WHERE instr(fold(key), ?) > 0 OR instr(fold(text), ?) > 0
		ORDER BY key COLLATE BINARY ASC
		LIMIT ?
	`, needle, needle, limit)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("search entries: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Recent returns up to limit entries, most recently written first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, text, tags, revision, seq
		FROM entries
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("recent entries: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		tagsJSON string
	)
	if err := row.Scan(&e.Key, &e.Text, &tagsJSON, &e.Revision, &e.Seq); err != nil {
		return Entry{}, err
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return Entry{}, err
	}
	e.Tags = tags
	return e, nil
}
