// Package store provides the SQLite knowledge base behind the Knowledge
// module.
//
// An entry is a key, a text body, and optional tags. Writing an existing
// key replaces it and bumps its revision; every write takes the next value
// of a store-wide sequence, so entries also carry a recency order.
//
// # Ordering
//
// Listing and search results are ordered by key with BINARY collation, so
// the same database yields the same pages on every platform.
//
// # Connections
//
// The driver opens every connection with WAL journaling, synchronous=NORMAL
// and a 5 second busy timeout. The pool holds a single connection.
//
// Tags are stored as canonical JSON produced by internal/ir.
package store
