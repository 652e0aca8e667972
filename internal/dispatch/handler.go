package dispatch

import (
	"context"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/registry"
)

// Handler executes the commands of one module. The query has already been
// validated against the command's query schema; the response must validate
// against its response schema.
type Handler interface {
	Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, query ir.IRObject) (ir.IRValue, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	return f(ctx, query)
}

// Handlers maps module ids to handlers.
type Handlers map[string]Handler

// SpanInfo describes the span a handler is running for.
type SpanInfo struct {
	Turn   string
	Index  int
	SpanID string

	// Registry is the registry the turn runs against.
	Registry *registry.Registry
}

type spanInfoKey struct{}

// WithSpanInfo returns a context carrying info.
func WithSpanInfo(ctx context.Context, info SpanInfo) context.Context {
	return context.WithValue(ctx, spanInfoKey{}, info)
}

// SpanFromContext returns the span a handler was invoked for.
func SpanFromContext(ctx context.Context) (SpanInfo, bool) {
	info, ok := ctx.Value(spanInfoKey{}).(SpanInfo)
	return info, ok
}
