// Package schema describes the shape of commands and checks values against it.
//
// A schema is a tree of three node kinds:
//   - Leaf: a string, int, bool, or float, optionally pinned to a literal
//   - Sequence: an ordered list of one element schema
//   - Mapping: ordered keyed fields, each required or optional
//
// Validate is pure. It reports the first failure only (depth-first, fields in
// declared order) so the agent gets one concrete thing to fix per turn.
package schema
