package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/schema"
	"github.com/roach88/modcall/internal/syntax"
)

// ExtraFields is the policy for query keys the command schema does not declare.
type ExtraFields string

const (
	// PassExtra hands undeclared keys to the handler unchanged.
	PassExtra ExtraFields = "pass"

	// StripExtra removes undeclared keys before invoking the handler.
	StripExtra ExtraFields = "strip"

	// RejectExtra fails the span with schema_violation.
	RejectExtra ExtraFields = "reject"
)

// ParseExtraFields maps a config value to a policy.
func ParseExtraFields(s string) (ExtraFields, error) {
	switch p := ExtraFields(s); p {
	case PassExtra, StripExtra, RejectExtra:
		return p, nil
	case "":
		return PassExtra, nil
	default:
		return "", fmt.Errorf("unknown extra-fields policy %q (want pass, strip, or reject)", s)
	}
}

const (
	// DefaultConcurrency runs spans one at a time, in order.
	DefaultConcurrency = 1

	// DefaultMaxSpans caps spans per turn.
	DefaultMaxSpans = 32
)

// Dispatcher runs turns against a registry and a set of handlers.
// Safe for concurrent use; concurrent turns share session exclusion.
type Dispatcher struct {
	reg         atomic.Pointer[registry.Registry]
	handlers    Handlers
	fallback    Handler
	parser      *syntax.Parser
	policy      ExtraFields
	concurrency int
	maxSpans    int
	tokens      TurnTokenGenerator
	clock       *Clock
	sessions    *sessionLocks
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithParser sets the span parser. Default is syntax.MustNew().
func WithParser(p *syntax.Parser) Option {
	return func(d *Dispatcher) {
		d.parser = p
	}
}

// WithPolicy sets the extra-fields policy. Default is PassExtra.
func WithPolicy(p ExtraFields) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithFallback answers modules that have no handler of their own. Without
// one, every module in the registry needs a handler.
func WithFallback(h Handler) Option {
	return func(d *Dispatcher) {
		d.fallback = h
	}
}

// WithConcurrency caps handlers running at once within a turn.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.concurrency = n
	}
}

// WithMaxSpans caps spans per turn; 0 means unlimited.
func WithMaxSpans(n int) Option {
	return func(d *Dispatcher) {
		d.maxSpans = n
	}
}

// WithTurnTokens sets the turn token generator. Default is UUIDv7Generator.
func WithTurnTokens(g TurnTokenGenerator) Option {
	return func(d *Dispatcher) {
		d.tokens = g
	}
}

// WithClock sets the sequence clock, e.g. to continue numbering.
func WithClock(c *Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher. Every module in reg needs a handler.
func New(reg *registry.Registry, handlers Handlers, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	d := &Dispatcher{
		handlers:    make(Handlers, len(handlers)),
		policy:      PassExtra,
		concurrency: DefaultConcurrency,
		maxSpans:    DefaultMaxSpans,
		tokens:      UUIDv7Generator{},
		clock:       NewClock(),
		sessions:    newSessionLocks(),
		logger:      slog.Default(),
	}
	for id, h := range handlers {
		d.handlers[id] = h
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.parser == nil {
		d.parser = syntax.MustNew()
	}
	if _, err := ParseExtraFields(string(d.policy)); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if d.concurrency < 1 {
		return nil, fmt.Errorf("dispatch: concurrency must be at least 1, got %d", d.concurrency)
	}
	if err := d.checkHandlers(reg); err != nil {
		return nil, err
	}
	d.reg.Store(reg)
	return d, nil
}

func (d *Dispatcher) checkHandlers(reg *registry.Registry) error {
	if d.fallback != nil {
		return nil
	}
	var missing []string
	for _, m := range reg.Modules() {
		if d.handlers[m.ID] == nil {
			missing = append(missing, m.ID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("dispatch: no handler for module(s) %s", strings.Join(missing, ", "))
	}
	return nil
}

// Swap replaces the registry wholesale. Turns already running finish
// against the registry they started with.
func (d *Dispatcher) Swap(reg *registry.Registry) error {
	if reg == nil {
		return errors.New("dispatch: registry is required")
	}
	if err := d.checkHandlers(reg); err != nil {
		return err
	}
	old := d.reg.Swap(reg)
	d.logger.Info("registry swapped", "from", short(old.Fingerprint()), "to", short(reg.Fingerprint()), "modules", reg.Len())
	return nil
}

// Registry returns the current registry.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.reg.Load()
}

// Parser returns the span parser.
func (d *Dispatcher) Parser() *syntax.Parser {
	return d.parser
}

// TurnResult holds one outcome per span, in span order.
type TurnResult struct {
	Turn string

	// Fingerprint identifies the registry the turn ran against.
	Fingerprint string

	Outcomes []Outcome

	parser *syntax.Parser
}

// Failed returns the number of failed spans.
func (r *TurnResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Feedback renders every outcome as a [[result]] or [[error]] span, in
// span order, separated by newlines. It is the agent's next input.
func (r *TurnResult) Feedback() string {
	parts := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		parts[i] = renderOutcome(r.parser, o)
	}
	return strings.Join(parts, "\n")
}

// job is a matched, validated span waiting for its handler.
type job struct {
	mod   *registry.ModuleDecl
	cmd   *registry.CommandDecl
	query ir.IRObject
}

// Turn parses text and dispatches every span. Spans are matched in order as
// the parser yields them; handlers run with at most the configured
// concurrency, and same-session spans run in span order.
//
// Per-span failures are outcomes, not errors. The error is the context's
// error when the turn was cancelled; the result is complete either way.
func (d *Dispatcher) Turn(ctx context.Context, text string) (*TurnResult, error) {
	reg := d.reg.Load()
	turn := d.tokens.Generate()
	logger := d.logger.With("turn", turn)
	quota := NewSpanQuota(d.maxSpans)

	var (
		g      errgroup.Group
		outs   []*Outcome
		chains = make(map[sessionKey]chan struct{})
	)
	g.SetLimit(d.concurrency)

	for parsed := range d.parser.Parse(text) {
		out := &Outcome{Index: parsed.Index, State: StateAwaitingSpan, SpanID: spanID(turn, parsed)}
		outs = append(outs, out)

		if err := quota.Check(turn); err != nil {
			fail(out, KindQuotaExceeded, err.Error())
			continue
		}
		if err := ctx.Err(); err != nil {
			fail(out, KindCancelled, "turn cancelled before the span ran: "+err.Error())
			continue
		}

		j, ok := d.prepare(reg, parsed, out)
		if !ok {
			continue
		}

		var key *sessionKey
		var wait, done chan struct{}
		if !j.mod.Reentrant {
			k := sessionKeyFor(j.mod, j.cmd, j.query)
			key = &k
			wait = chains[k]
			done = make(chan struct{})
			chains[k] = done
		}

		g.Go(func() error {
			if done != nil {
				defer close(done)
			}
			if wait != nil {
				select {
				case <-wait:
				case <-ctx.Done():
				}
			}
			info := SpanInfo{Turn: turn, Index: out.Index, SpanID: out.SpanID, Registry: reg}
			d.execute(WithSpanInfo(ctx, info), logger, j, key, out)
			return nil
		})
	}
	_ = g.Wait()

	result := &TurnResult{
		Turn:        turn,
		Fingerprint: reg.Fingerprint(),
		Outcomes:    make([]Outcome, len(outs)),
		parser:      d.parser,
	}
	for i, out := range outs {
		out.Seq = d.clock.Next()
		result.Outcomes[i] = *out
		logger.Debug("span dispatched",
			"index", out.Index,
			"module", out.Module,
			"command", out.Command,
			"state", out.State,
			"kind", out.Kind,
		)
	}
	logger.Debug("turn dispatched", "spans", len(outs), "failed", result.Failed())

	return result, ctx.Err()
}

// prepare moves a span from awaiting_span to matched, failing it on the way
// if it cannot be parsed, resolved, or validated.
func (d *Dispatcher) prepare(reg *registry.Registry, parsed syntax.Parsed, out *Outcome) (job, bool) {
	if !parsed.OK() {
		kind := KindParseError
		if parsed.Failure.Kind == syntax.FailureIncomplete {
			kind = KindIncompleteSpan
		}
		fail(out, kind, parsed.Failure.Diagnostic)
		return job{}, false
	}
	out.State = StateParsed
	value := parsed.Value

	name, ok := value.String("module")
	if !ok {
		fail(out, KindUnknownModule, "span has no module field; modules: "+moduleNames(reg))
		return job{}, false
	}
	mod, ok := reg.Resolve(name)
	if !ok {
		out.Module = name
		fail(out, KindUnknownModule, fmt.Sprintf("no module named %q; modules: %s", name, moduleNames(reg)))
		return job{}, false
	}
	out.Module = mod.ID

	cmdName, _ := value.String("command")
	out.Command = cmdName
	cmd, ok := reg.ResolveCommand(mod.ID, value)
	if !ok {
		fail(out, KindUnknownCommand, fmt.Sprintf("module %s has no command %q; commands: %s", mod.ID, cmdName, commandNames(mod)))
		return job{}, false
	}
	out.State = StateMatched

	var opts []schema.Option
	if d.policy == RejectExtra {
		opts = append(opts, schema.WithProfile(schema.Strict))
	}
	if err := schema.Validate(cmd.Query, value, opts...); err != nil {
		if ve, ok := schema.AsValidationError(err); ok {
			out.Field = ve.Path
		}
		fail(out, KindSchemaViolation, fmt.Sprintf("%s; query shape: %s", err, schema.Describe(cmd.Query)))
		return job{}, false
	}

	query := value.Clone()
	if d.policy == StripExtra {
		if pruned, ok := schema.Prune(cmd.Query, value).(ir.IRObject); ok {
			query = pruned
		}
	}
	return job{mod: mod, cmd: cmd, query: query}, true
}

// execute moves a matched span through executing to a terminal state.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, j job, key *sessionKey, out *Outcome) {
	if err := ctx.Err(); err != nil {
		fail(out, KindCancelled, "turn cancelled before the span ran: "+err.Error())
		return
	}
	if key != nil {
		unlock := d.sessions.lock(*key)
		defer unlock()
	}
	out.State = StateExecuting

	resp, err := invoke(ctx, d.handlerFor(j.mod.ID), j.query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			fail(out, KindCancelled, err.Error())
			return
		}
		fail(out, KindHandlerError, err.Error())
		return
	}

	if resp == nil {
		d.contractViolation(logger, out, "", "handler returned no response")
		return
	}
	if err := schema.Validate(j.cmd.Response, resp); err != nil {
		field := ""
		if ve, ok := schema.AsValidationError(err); ok {
			field = ve.Path
		}
		d.contractViolation(logger, out, field, "response does not match its schema: "+err.Error())
		return
	}
	if _, err := d.parser.RenderOutcome(syntax.Report{Module: out.Module, Command: out.Command, Response: resp}); err != nil {
		d.contractViolation(logger, out, "", "response cannot be rendered: "+err.Error())
		return
	}

	out.Response = resp
	out.State = StateCompleted
}

func (d *Dispatcher) contractViolation(logger *slog.Logger, out *Outcome, field, reason string) {
	out.Field = field
	fail(out, KindHandlerContractViolation, reason)
	logger.Error("handler contract violation",
		"module", out.Module,
		"command", out.Command,
		"field", field,
		"reason", reason,
	)
}

func (d *Dispatcher) handlerFor(id string) Handler {
	if h := d.handlers[id]; h != nil {
		return h
	}
	return d.fallback
}

func invoke(ctx context.Context, h Handler, query ir.IRObject) (resp ir.IRValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Invoke(ctx, query)
}

func fail(out *Outcome, kind Kind, reason string) {
	out.State = StateFailed
	out.Kind = kind
	out.Reason = reason
}

// sessionKeyFor names the exclusion unit of a job: the module, plus the
// session value when the command declares the module's session field.
func sessionKeyFor(mod *registry.ModuleDecl, cmd *registry.CommandDecl, query ir.IRObject) sessionKey {
	key := sessionKey{module: mod.ID}
	if mod.SessionField == "" {
		return key
	}
	if m, ok := cmd.Query.(*schema.Mapping); ok {
		if _, declared := m.Field(mod.SessionField); !declared {
			return key
		}
	}
	switch v := query[mod.SessionField].(type) {
	case nil:
	case ir.IRString:
		key.session = string(v)
	default:
		if b, err := ir.MarshalCanonical(v); err == nil {
			key.session = string(b)
		}
	}
	return key
}

func spanID(turn string, parsed syntax.Parsed) string {
	id, err := ir.SpanID(turn, parsed.Index, parsed.Span.Raw)
	if err != nil {
		return ""
	}
	return id
}

func moduleNames(reg *registry.Registry) string {
	var names []string
	for _, m := range reg.Modules() {
		names = append(names, m.Command)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func commandNames(mod *registry.ModuleDecl) string {
	names := make([]string, len(mod.Commands))
	for i, c := range mod.Commands {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

// renderOutcome never fails: text that would break an error span is
// scrubbed and rendered again.
func renderOutcome(p *syntax.Parser, o Outcome) string {
	report := o.Report()
	if text, err := p.RenderOutcome(report); err == nil {
		return text
	}
	report.Module = scrub(report.Module)
	report.Command = scrub(report.Command)
	report.Field = scrub(report.Field)
	report.Reason = scrub(report.Reason)
	report.Response = nil
	if report.Kind == "" {
		report.Kind = string(KindHandlerContractViolation)
		report.Reason = "response cannot be rendered"
	}
	if text, err := p.RenderOutcome(report); err == nil {
		return text
	}
	return syntax.ErrorDelimiters.Open + "\nkind: " + string(o.Kind) + "\n" + syntax.ErrorDelimiters.Close
}

func scrub(s string) string {
	s = strings.ToValidUTF8(s, "?")
	for _, tag := range []string{
		syntax.ErrorDelimiters.Open, syntax.ErrorDelimiters.Close,
		syntax.ResultDelimiters.Open, syntax.ResultDelimiters.Close,
	} {
		s = strings.ReplaceAll(s, tag, "")
	}
	return s
}
