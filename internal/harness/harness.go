package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/modcall/internal/config"
	"github.com/roach88/modcall/internal/dispatch"
	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/modules"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/store"
	"github.com/roach88/modcall/internal/syntax"
)

// DefaultTurnToken prefixes turn tokens when a scenario names none.
const DefaultTurnToken = "test-turn"

// Harness holds one scenario run: a fresh registry, reference modules over
// an in-memory store, and a dispatcher with fixed turn tokens.
type Harness struct {
	store      *store.Store
	outbox     *bytes.Buffer
	dispatcher *dispatch.Dispatcher
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database with deterministic
// turn tokens and subtask ids, so feedback is identical across runs.
// Execution errors (bad declarations, missing handlers) are returned as
// errors; unmet expectations are recorded in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	for i, turn := range scenario.Turns {
		res, err := h.dispatcher.Turn(ctx, turn.Text)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}

		result.Turns = append(result.Turns, TurnRecord{Turn: res.Turn, Feedback: res.Feedback()})
		for _, o := range res.Outcomes {
			result.Trace = append(result.Trace, traceEvent(i+1, o))
		}
		for _, msg := range checkTurn(i+1, turn.Expect, res.Outcomes) {
			result.AddError(msg)
		}
	}
	result.Outbox = h.outbox.String()

	actx := &AssertionContext{Store: h.store, Ctx: ctx, Outbox: result.Outbox}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{store: st, outbox: &bytes.Buffer{}}
	if err := h.init(scenario); err != nil {
		st.Close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) init(scenario *Scenario) error {
	parser := syntax.MustNew()
	handlers := dispatch.Handlers{}

	var decls []registry.ModuleDecl
	if scenario.builtins() {
		builtin, err := modules.Declarations()
		if err != nil {
			return err
		}
		decls = append(decls, builtin...)

		n := 0
		b := modules.New(h.outbox, h.store, parser)
		b.Subtask = modules.NewSubtask(modules.WithIDs(func() string {
			n++
			return fmt.Sprintf("subtask-%d", n)
		}))
		for id, handler := range b.Handlers() {
			handlers[id] = handler
		}
	}

	if len(scenario.Declarations) > 0 {
		extra, errs := config.LoadDeclarations(scenario.Declarations...)
		if len(errs) > 0 {
			return fmt.Errorf("load declarations: %w", errors.Join(errs...))
		}
		decls = append(decls, extra...)
	}

	reg, err := registry.Load(decls...)
	if err != nil {
		return err
	}

	mocks, err := mockHandlers(scenario.Mocks)
	if err != nil {
		return err
	}
	for id, handler := range mocks {
		handlers[id] = handler
	}

	token := scenario.TurnToken
	if token == "" {
		token = DefaultTurnToken
	}
	tokens := make([]string, len(scenario.Turns))
	for i := range tokens {
		tokens[i] = fmt.Sprintf("%s-%d", token, i+1)
	}

	policy, _ := dispatch.ParseExtraFields(scenario.ExtraFields)
	opts := []dispatch.Option{
		dispatch.WithParser(parser),
		dispatch.WithPolicy(policy),
		dispatch.WithTurnTokens(dispatch.NewFixedGenerator(tokens...)),
		dispatch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if scenario.Concurrency > 0 {
		opts = append(opts, dispatch.WithConcurrency(scenario.Concurrency))
	}
	if scenario.MaxSpans > 0 {
		opts = append(opts, dispatch.WithMaxSpans(scenario.MaxSpans))
	}

	h.dispatcher, err = dispatch.New(reg, handlers, opts...)
	return err
}

// mockHandlers builds one handler per mocked module.
func mockHandlers(mocks []Mock) (dispatch.Handlers, error) {
	answers := make(map[string]map[string]Mock)
	for _, m := range mocks {
		if answers[m.Module] == nil {
			answers[m.Module] = make(map[string]Mock)
		}
		answers[m.Module][m.Command] = m
	}

	handlers := make(dispatch.Handlers, len(answers))
	for module, byCommand := range answers {
		responses := make(map[string]ir.IRValue, len(byCommand))
		for command, m := range byCommand {
			if m.Error != "" {
				continue
			}
			resp, err := ir.FromGo(m.Response)
			if err != nil {
				return nil, fmt.Errorf("mock %s.%s: %w", module, command, err)
			}
			responses[command] = resp
		}

		handlers[module] = dispatch.HandlerFunc(func(_ context.Context, query ir.IRObject) (ir.IRValue, error) {
			command, _ := query.String("command")
			m, ok := byCommand[command]
			if !ok {
				return nil, fmt.Errorf("no mock for %s.%s", module, command)
			}
			if m.Error != "" {
				return nil, errors.New(m.Error)
			}
			return ir.Clone(responses[command]), nil
		})
	}
	return handlers, nil
}

func traceEvent(turn int, o dispatch.Outcome) TraceEvent {
	e := TraceEvent{
		Turn:    turn,
		Index:   o.Index,
		Seq:     o.Seq,
		State:   string(o.State),
		Kind:    string(o.Kind),
		Module:  o.Module,
		Command: o.Command,
		Field:   o.Field,
	}
	if o.Response != nil {
		e.Response = ir.ToGo(o.Response)
	}
	return e
}

// checkTurn compares a turn's outcomes with its expect clauses.
func checkTurn(turn int, expect []Expect, outcomes []dispatch.Outcome) []string {
	if len(expect) == 0 {
		return nil
	}
	if len(expect) != len(outcomes) {
		return []string{fmt.Sprintf("turn %d: expected %d outcomes, got %d", turn, len(expect), len(outcomes))}
	}

	var errs []string
	for i, e := range expect {
		o := outcomes[i]
		fail := func(format string, args ...any) {
			errs = append(errs, fmt.Sprintf("turn %d, span %d: ", turn, i)+fmt.Sprintf(format, args...))
		}

		state := e.State
		if state == "" {
			state = string(dispatch.StateCompleted)
			if e.Kind != "" {
				state = string(dispatch.StateFailed)
			}
		}
		if string(o.State) != state {
			fail("expected state %s, got %s (kind %s: %s)", state, o.State, o.Kind, o.Reason)
			continue
		}
		if e.Kind != "" && string(o.Kind) != e.Kind {
			fail("expected kind %s, got %s", e.Kind, o.Kind)
		}
		if e.Module != "" && o.Module != e.Module {
			fail("expected module %s, got %s", e.Module, o.Module)
		}
		if e.Command != "" && o.Command != e.Command {
			fail("expected command %s, got %s", e.Command, o.Command)
		}
		if e.Field != "" && o.Field != e.Field {
			fail("expected field %s, got %s", e.Field, o.Field)
		}
		if e.ReasonContains != "" && !strings.Contains(o.Reason, e.ReasonContains) {
			fail("expected reason containing %q, got %q", e.ReasonContains, o.Reason)
		}
		if e.Response != nil {
			if ok, err := matchSubset(o.Response, e.Response); err != nil {
				fail("expect.response: %v", err)
			} else if !ok {
				fail("response %v does not match %v", ir.ToGo(o.Response), e.Response)
			}
		}
	}
	return errs
}
