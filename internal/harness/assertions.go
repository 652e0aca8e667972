package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			status := event.Kind
			if status == "" {
				status = event.State
			}
			fmt.Fprintf(&buf, "  [%d] turn %d span %d %s %s\n", i+1, event.Turn, event.Index, event.Action(), status)
		}
	}

	return buf.String()
}

// matchesKind reports whether the event has the wanted kind; "ok" and ""
// accept completed spans, "" also accepts anything.
func matchesKind(event TraceEvent, kind string) bool {
	switch kind {
	case "":
		return true
	case "ok":
		return event.Kind == ""
	default:
		return event.Kind == kind
	}
}

// assertTraceContains checks the trace for an outcome of the action with
// the given kind and a response matching the subset.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Action() != assertion.Action || !matchesKind(event, assertion.Kind) {
			continue
		}
		if assertion.Response == nil {
			return nil
		}
		resp, err := ir.FromGo(event.Response)
		if err != nil {
			continue
		}
		if ok, _ := matchSubset(resp, assertion.Response); ok {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s (kind %q) with response %v", assertion.Action, assertion.Kind, assertion.Response),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions first appear in the given order.
// Intervening actions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Action()]; !seen {
			positions[event.Action()] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the number of outcomes for an action.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action() == assertion.Action && matchesKind(event, assertion.Kind) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

func assertOutboxContains(outbox string, assertion Assertion) error {
	if strings.Contains(outbox, assertion.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutboxContains,
		Expected: fmt.Sprintf("outbox containing %q", assertion.Text),
		Actual:   fmt.Sprintf("%q", outbox),
	}
}

// assertKnowledgeEntry checks the knowledge base after the run.
func assertKnowledgeEntry(ctx context.Context, st *store.Store, assertion Assertion) error {
	e, ok, err := st.Get(ctx, assertion.Key)
	if err != nil {
		return fmt.Errorf("knowledge_entry: %w", err)
	}

	switch {
	case assertion.Absent && ok:
		return &AssertionError{
			Type:     AssertKnowledgeEntry,
			Expected: fmt.Sprintf("no entry under %q", assertion.Key),
			Actual:   fmt.Sprintf("entry with text %q", e.Text),
		}
	case assertion.Absent:
		return nil
	case !ok:
		return &AssertionError{
			Type:     AssertKnowledgeEntry,
			Expected: fmt.Sprintf("entry under %q", assertion.Key),
			Actual:   "no entry",
		}
	case assertion.Text != "" && e.Text != assertion.Text:
		return &AssertionError{
			Type:     AssertKnowledgeEntry,
			Expected: fmt.Sprintf("text %q", assertion.Text),
			Actual:   fmt.Sprintf("text %q", e.Text),
		}
	}
	return nil
}

// matchSubset checks that actual holds every expected key with an equal
// value. Nested mappings match as subsets too; everything else must be
// equal, kind included.
func matchSubset(actual ir.IRValue, expected map[string]any) (bool, error) {
	want, err := ir.FromGo(expected)
	if err != nil {
		return false, err
	}
	return subset(actual, want), nil
}

func subset(actual, expected ir.IRValue) bool {
	exp, ok := expected.(ir.IRObject)
	if !ok {
		return ir.Equal(actual, expected)
	}
	act, ok := actual.(ir.IRObject)
	if !ok {
		return false
	}
	for key, v := range exp {
		got, exists := act[key]
		if !exists || !subset(got, v) {
			return false
		}
	}
	return true
}

// AssertionContext provides the run state assertions inspect.
type AssertionContext struct {
	Store  *store.Store
	Ctx    context.Context
	Outbox string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertOutboxContains:
			err = assertOutboxContains(result.Outbox, assertion)
		case AssertKnowledgeEntry:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: knowledge_entry requires a store", i)
			} else {
				err = assertKnowledgeEntry(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
