package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/syntax"
)

// State is a span's position in the dispatch state machine.
type State string

const (
	StateAwaitingSpan State = "awaiting_span"
	StateParsed       State = "parsed"
	StateMatched      State = "matched"
	StateExecuting    State = "executing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Kind classifies a failed span.
type Kind string

const (
	// KindParseError: the span body is not a command.
	KindParseError Kind = "parse_error"

	// KindIncompleteSpan: the span was never closed.
	KindIncompleteSpan Kind = "incomplete_span"

	// KindUnknownModule: no module answers to the span's module field.
	KindUnknownModule Kind = "unknown_module"

	// KindUnknownCommand: the module declares no such command.
	KindUnknownCommand Kind = "unknown_command"

	// KindSchemaViolation: the query does not match the command's schema.
	KindSchemaViolation Kind = "schema_violation"

	// KindHandlerError: the handler reported a failure.
	KindHandlerError Kind = "handler_error"

	// KindHandlerContractViolation: the handler's response does not match
	// the declared response schema. A module fault, not the agent's.
	KindHandlerContractViolation Kind = "handler_contract_violation"

	// KindQuotaExceeded: the turn had more spans than allowed.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindCancelled: the turn's context ended before the span ran.
	KindCancelled Kind = "cancelled"
)

// Outcome is the terminal record of one span.
type Outcome struct {
	// Index is the span's position in the turn, from 0.
	Index int `json:"index"`

	// Seq is the dispatcher clock value, increasing in span order.
	Seq int64 `json:"seq"`

	// SpanID is the content address of (turn, index, raw span).
	SpanID string `json:"span_id"`

	State State `json:"state"`

	// Kind is empty when State is completed.
	Kind Kind `json:"kind,omitempty"`

	// Module and Command are set as far as they were resolved.
	Module  string `json:"module,omitempty"`
	Command string `json:"command,omitempty"`

	// Field is the offending location for schema and contract violations.
	Field string `json:"field,omitempty"`

	Reason string `json:"reason,omitempty"`

	Response ir.IRValue `json:"response,omitempty"`
}

// OK reports whether the span completed.
func (o Outcome) OK() bool {
	return o.State == StateCompleted
}

// Err returns the failure as an *Error, or nil for a completed span.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &Error{
		Kind:    o.Kind,
		Module:  o.Module,
		Command: o.Command,
		Field:   o.Field,
		Reason:  o.Reason,
		SpanID:  o.SpanID,
	}
}

// Report converts the outcome into the data rendered back to the agent.
func (o Outcome) Report() syntax.Report {
	return syntax.Report{
		Kind:     string(o.Kind),
		Module:   o.Module,
		Command:  o.Command,
		Field:    o.Field,
		Reason:   o.Reason,
		Response: o.Response,
	}
}

// Error is a failed span as a Go error.
type Error struct {
	Kind    Kind
	Module  string
	Command string
	Field   string
	Reason  string
	SpanID  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Module != "" && e.Command != "":
		return fmt.Sprintf("%s: %s (module=%s, command=%s)", e.Kind, e.Reason, e.Module, e.Command)
	case e.Module != "":
		return fmt.Sprintf("%s: %s (module=%s)", e.Kind, e.Reason, e.Module)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
