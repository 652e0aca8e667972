// Package modules holds the reference modules an agent can call out of the
// box: IO, Subtask, Knowledge and Manual.
//
// Their declarations live in modules.cue, embedded and compiled at startup
// like any user declaration directory. Each module's handler routes on the
// query's command field.
package modules
