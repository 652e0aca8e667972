package syntax

import (
	"fmt"
	"iter"
	"strings"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/schema"
)

// Delimiters are the open and close tags around a span.
type Delimiters struct {
	Open  string
	Close string
}

var (
	// CommandDelimiters tag commands written by the agent.
	CommandDelimiters = Delimiters{Open: "[[command]]", Close: "[[/command]]"}

	// ResultDelimiters tag successful outcomes fed back to the agent.
	ResultDelimiters = Delimiters{Open: "[[result]]", Close: "[[/result]]"}

	// ErrorDelimiters tag failed outcomes fed back to the agent.
	ErrorDelimiters = Delimiters{Open: "[[error]]", Close: "[[/error]]"}
)

// Validate checks that both tags are set and differ.
func (d Delimiters) Validate() error {
	if strings.TrimSpace(d.Open) == "" || strings.TrimSpace(d.Close) == "" {
		return fmt.Errorf("delimiters: open and close tags are required")
	}
	if d.Open == d.Close {
		return fmt.Errorf("delimiters: open and close tags must differ")
	}
	if strings.Contains(d.Open, d.Close) || strings.Contains(d.Close, d.Open) {
		return fmt.Errorf("delimiters: one tag must not contain the other")
	}
	return nil
}

// FailureKind classifies a span that did not produce IR.
type FailureKind string

const (
	// FailureParse marks a closed span whose body is not a valid command.
	FailureParse FailureKind = "parse_error"

	// FailureIncomplete marks a span that was opened but never closed.
	FailureIncomplete FailureKind = "incomplete_span"
)

// ParseFailure carries the raw span text and what was wrong with it.
type ParseFailure struct {
	Kind       FailureKind
	Raw        string
	Diagnostic string
}

// Error implements the error interface.
func (f *ParseFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Diagnostic)
}

// Span locates a recognized region of the input by byte offsets.
// Raw is input[Start:End], tags included.
type Span struct {
	Start int
	End   int
	Raw   string
}

// Parsed is one span from a scan: either Value or Failure is set.
type Parsed struct {
	// Index is the span's position in the input, from 0.
	Index   int
	Span    Span
	Value   ir.IRObject
	Failure *ParseFailure
}

// OK reports whether the span produced IR.
func (p Parsed) OK() bool {
	return p.Failure == nil
}

// Parser scans agent text for spans. It is immutable and safe for
// concurrent use.
type Parser struct {
	delims  Delimiters
	schemas []schema.Node
}

// Option configures a Parser.
type Option func(*Parser)

// WithDelimiters sets the span tags. Default is CommandDelimiters.
func WithDelimiters(d Delimiters) Option {
	return func(p *Parser) {
		p.delims = d
	}
}

// WithSchemas sets the active schemas; a span body must validate against
// at least one. Default is schema.Envelope().
func WithSchemas(nodes ...schema.Node) Option {
	return func(p *Parser) {
		p.schemas = append([]schema.Node(nil), nodes...)
	}
}

// New creates a Parser.
func New(opts ...Option) (*Parser, error) {
	p := &Parser{delims: CommandDelimiters}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.delims.Validate(); err != nil {
		return nil, err
	}
	if len(p.schemas) == 0 {
		p.schemas = []schema.Node{schema.Envelope()}
	}
	return p, nil
}

// MustNew is New that panics on error. For tests and package-level defaults.
func MustNew(opts ...Option) *Parser {
	p, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Delimiters returns the parser's span tags.
func (p *Parser) Delimiters() Delimiters {
	return p.delims
}

// Parse scans text left to right and yields one Parsed per span as soon as
// the span ends. Text outside spans is ignored.
//
// An open tag seen before the current span's close tag ends the current span
// as incomplete; scanning resumes at the new open tag.
func (p *Parser) Parse(text string) iter.Seq[Parsed] {
	return func(yield func(Parsed) bool) {
		pos, index := 0, 0
		for pos < len(text) {
			rel := strings.Index(text[pos:], p.delims.Open)
			if rel < 0 {
				return
			}
			start := pos + rel
			bodyStart := start + len(p.delims.Open)

			closeAt := strings.Index(text[bodyStart:], p.delims.Close)
			nextOpen := strings.Index(text[bodyStart:], p.delims.Open)

			var out Parsed
			switch {
			case closeAt >= 0 && (nextOpen < 0 || closeAt < nextOpen):
				bodyEnd := bodyStart + closeAt
				end := bodyEnd + len(p.delims.Close)
				out = p.parseSpan(Span{Start: start, End: end, Raw: text[start:end]}, text[bodyStart:bodyEnd])
				pos = end

			case nextOpen >= 0:
				end := bodyStart + nextOpen
				out = incomplete(Span{Start: start, End: end, Raw: text[start:end]},
					fmt.Sprintf("%s opened but a new %s began before %s", p.delims.Open, p.delims.Open, p.delims.Close))
				pos = end

			default:
				out = incomplete(Span{Start: start, End: len(text), Raw: text[start:]},
					fmt.Sprintf("%s opened but never closed with %s", p.delims.Open, p.delims.Close))
				pos = len(text)
			}

			out.Index = index
			index++
			if !yield(out) {
				return
			}
		}
	}
}

// ParseAll collects Parse into a slice.
func (p *Parser) ParseAll(text string) []Parsed {
	var out []Parsed
	for parsed := range p.Parse(text) {
		out = append(out, parsed)
	}
	return out
}

func (p *Parser) parseSpan(span Span, body string) Parsed {
	obj, err := decodeBody(body)
	if err != nil {
		return Parsed{Span: span, Failure: &ParseFailure{Kind: FailureParse, Raw: span.Raw, Diagnostic: err.Error()}}
	}

	var first error
	for _, s := range p.schemas {
		err := schema.Validate(s, obj)
		if err == nil {
			return Parsed{Span: span, Value: obj}
		}
		if first == nil {
			first = err
		}
	}
	return Parsed{Span: span, Failure: &ParseFailure{
		Kind:       FailureParse,
		Raw:        span.Raw,
		Diagnostic: "body is not a command: " + first.Error(),
	}}
}

func incomplete(span Span, diagnostic string) Parsed {
	return Parsed{Span: span, Failure: &ParseFailure{Kind: FailureIncomplete, Raw: span.Raw, Diagnostic: diagnostic}}
}
