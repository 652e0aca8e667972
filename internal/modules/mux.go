package modules

import (
	"context"
	"fmt"

	"github.com/roach88/modcall/internal/dispatch"
	"github.com/roach88/modcall/internal/ir"
)

// commands routes a module's queries to one function per command name.
type commands map[string]dispatch.HandlerFunc

// Invoke implements dispatch.Handler.
func (c commands) Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	name, _ := query.String("command")
	fn, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("no implementation for command %q", name)
	}
	return fn(ctx, query)
}
