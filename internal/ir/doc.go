// Package ir provides the value representation shared by every modcall package.
//
// A command parsed from agent text, a handler response, and a declaration
// example are all IR values. All other internal packages import ir; ir imports
// nothing internal.
//
// Key constraints:
//   - No null. An absent mapping key is the only "nothing".
//   - Int and float are distinct kinds; 2 and 2.0 never compare equal.
//   - NaN and infinities are rejected at every boundary.
//   - Canonical JSON (MarshalCanonical) is the only input to content hashes.
package ir
