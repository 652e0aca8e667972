package modules

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/modcall/internal/ir"
)

// IO delivers content to the user through an outbox writer.
type IO struct {
	mu     sync.Mutex
	outbox io.Writer
	sent   int
}

// NewIO creates an IO module writing to outbox.
func NewIO(outbox io.Writer) *IO {
	return &IO{outbox: outbox}
}

// Invoke implements dispatch.Handler.
func (m *IO) Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	return commands{"AccessModule": m.access}.Invoke(ctx, query)
}

func (m *IO) access(_ context.Context, query ir.IRObject) (ir.IRValue, error) {
	content, _ := query.String("content")

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := fmt.Fprintln(m.outbox, content); err != nil {
		return nil, fmt.Errorf("deliver to user: %w", err)
	}
	if extra, ok := query.String("extra_info"); ok && extra != "" {
		if _, err := fmt.Fprintf(m.outbox, "(%s)\n", extra); err != nil {
			return nil, fmt.Errorf("deliver to user: %w", err)
		}
	}
	m.sent++

	return ir.IRObject{
		"target_module": ir.IRString("IO"),
		"status":        ir.IRString("delivered"),
	}, nil
}

// Sent returns the number of messages delivered.
func (m *IO) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}
