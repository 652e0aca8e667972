package store

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

func TestPut_NewEntry(t *testing.T) {
	s := createTestStore(t)

	e := mustPut(t, s, "go/errors", "wrap with %w", "go", "errors")
	if e.Revision != 1 {
		t.Errorf("Revision = %d, want 1", e.Revision)
	}
	if e.Seq != 1 {
		t.Errorf("Seq = %d, want 1", e.Seq)
	}

	got, ok, err := s.Get(context.Background(), "go/errors")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Text != "wrap with %w" {
		t.Errorf("Text = %q", got.Text)
	}
	if !slices.Equal(got.Tags, []string{"go", "errors"}) {
		t.Errorf("Tags = %v", got.Tags)
	}
}

func TestPut_ReplaceBumpsRevision(t *testing.T) {
	s := createTestStore(t)

	mustPut(t, s, "a", "first")
	mustPut(t, s, "b", "other")
	e := mustPut(t, s, "a", "second")

	if e.Revision != 2 {
		t.Errorf("Revision = %d, want 2", e.Revision)
	}
	if e.Seq != 3 {
		t.Errorf("Seq = %d, want 3", e.Seq)
	}
	if e.Text != "second" {
		t.Errorf("Text = %q, want second", e.Text)
	}
	if e.Tags != nil {
		t.Errorf("Tags = %v, want none", e.Tags)
	}

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestPut_EmptyKey(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Put(context.Background(), Entry{Key: "  ", Text: "x"})
	if !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Put() error = %v, want ErrEmptyKey", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok {
		t.Error("Get() found an entry that was never written")
	}
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s, "a", "text")

	existed, err := s.Delete(ctx, "a")
	if err != nil || !existed {
		t.Fatalf("Delete() = %v, %v; want true, nil", existed, err)
	}
	existed, err = s.Delete(ctx, "a")
	if err != nil || existed {
		t.Fatalf("second Delete() = %v, %v; want false, nil", existed, err)
	}

	// A deleted key starts over.
	e := mustPut(t, s, "a", "again")
	if e.Revision != 1 {
		t.Errorf("Revision after delete = %d, want 1", e.Revision)
	}
}

func TestSearch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s, "zeta", "talks about Sessions")
	mustPut(t, s, "alpha", "unrelated")
	mustPut(t, s, "Beta", "session handling")
	mustPut(t, s, "session-notes", "keys match too")

	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"case insensitive, ordered by key", "session", 0, []string{"Beta", "session-notes", "zeta"}},
		{"limit", "session", 2, []string{"Beta", "session-notes"}},
		{"empty query lists all", "", 0, []string{"Beta", "alpha", "session-notes", "zeta"}},
		{"no match", "quantum", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.query, tt.limit)
			if err != nil {
				t.Fatalf("Search() failed: %v", err)
			}
			keys := []string{}
			for _, e := range got {
				keys = append(keys, e.Key)
			}
			if !slices.Equal(keys, tt.want) {
				t.Errorf("Search(%q, %d) = %v, want %v", tt.query, tt.limit, keys, tt.want)
			}
		})
	}

	if _, err := s.Search(ctx, "x", -1); err == nil {
		t.Error("Search() with negative limit should fail")
	}
}

func TestSearch_UnicodeCase(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s, "\u00c4rger", "trouble")
	mustPut(t, s, "city", "Z\u00fcrich")
	mustPut(t, s, "road", "STRASSE")
	mustPut(t, s, "plain", "nothing here")

	tests := []struct {
		query string
		want  []string
	}{
		{"\u00c4rger", []string{"\u00c4rger"}},
		{"\u00e4rger", []string{"\u00c4rger"}},
		{"Z\u00dcRICH", []string{"city"}},
		{"stra\u00dfe", []string{"road"}},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, tt.query, 0)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", tt.query, err)
		}
		keys := []string{}
		for _, e := range got {
			keys = append(keys, e.Key)
		}
		if !slices.Equal(keys, tt.want) {
			t.Errorf("Search(%q) = %v, want %v", tt.query, keys, tt.want)
		}
	}
}

func TestRecent(t *testing.T) {
	s := createTestStore(t)

	mustPut(t, s, "a", "1")
	mustPut(t, s, "b", "2")
	mustPut(t, s, "a", "3")

	got, err := s.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 2 || got[0].Key != "a" || got[1].Key != "b" {
		t.Errorf("Recent() = %+v, want a then b", got)
	}
}

func TestEntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mustPut(t, s1, "kept", "durable", "t")
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(context.Background(), "kept")
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = %v, %v", ok, err)
	}
	if got.Text != "durable" || !slices.Equal(got.Tags, []string{"t"}) {
		t.Errorf("Get() after reopen = %+v", got)
	}

	// The write sequence continues.
	if e := mustPut(t, s2, "next", "x"); e.Seq != 2 {
		t.Errorf("Seq after reopen = %d, want 2", e.Seq)
	}
}

func TestTagsRoundTrip(t *testing.T) {
	for _, tags := range [][]string{nil, {"one"}, {"b", "a", "caf\u00e9"}} {
		data, err := marshalTags(tags)
		if err != nil {
			t.Fatalf("marshalTags(%v) failed: %v", tags, err)
		}
		got, err := unmarshalTags(data)
		if err != nil {
			t.Fatalf("unmarshalTags(%q) failed: %v", data, err)
		}
		if !slices.Equal(got, tags) {
			t.Errorf("round trip %v -> %q -> %v", tags, data, got)
		}
	}

	if _, err := unmarshalTags(`{"a":1}`); err == nil {
		t.Error("unmarshalTags() accepted an object")
	}
	if _, err := unmarshalTags(`[1]`); err == nil {
		t.Error("unmarshalTags() accepted a non-string tag")
	}
}
