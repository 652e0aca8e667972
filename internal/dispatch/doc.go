// Package dispatch routes parsed commands to module handlers.
//
// Each span of a turn moves through one state machine:
//
//	awaiting_span -> parsed -> matched -> executing -> completed
//	                    \          \          \
//	                     +----------+----------+--> failed
//
// A failed span never stops the turn. Turn returns one Outcome per span in
// input order, and Feedback renders them for the agent's next input.
//
// Mutual exclusion is per (module, session): two spans addressing the same
// session of a non-reentrant module never run at once, and within a turn
// they run in span order. The registry is read-only and may be swapped
// wholesale between turns.
package dispatch
