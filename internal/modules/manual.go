package modules

import (
	"context"
	"fmt"
	"text/template"

	"github.com/roach88/modcall/internal/dispatch"
	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/syntax"
)

// Manual renders module manuals for the agent, from the registry of the
// turn it runs in.
type Manual struct {
	parser *syntax.Parser
	tmpl   *template.Template
}

// NewManual creates a Manual module that renders examples with parser and
// the default manual template.
func NewManual(parser *syntax.Parser) *Manual {
	return &Manual{parser: parser}
}

// WithTemplate returns a copy of m rendering with tmpl.
func (m *Manual) WithTemplate(tmpl *template.Template) *Manual {
	return &Manual{parser: m.parser, tmpl: tmpl}
}

// Invoke implements dispatch.Handler.
func (m *Manual) Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	return commands{"Read": m.read}.Invoke(ctx, query)
}

func (m *Manual) read(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	target, _ := query.String("target")

	info, ok := dispatch.SpanFromContext(ctx)
	if !ok || info.Registry == nil {
		return nil, fmt.Errorf("no registry available")
	}
	mod, ok := info.Registry.Resolve(target)
	if !ok {
		return nil, fmt.Errorf("no module named %q", target)
	}

	text, err := m.parser.RenderManual(mod, m.tmpl)
	if err != nil {
		return nil, fmt.Errorf("render manual for %s: %w", mod.ID, err)
	}
	return ir.IRObject{"manual": ir.IRString(text)}, nil
}
