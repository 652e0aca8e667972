package modules

import (
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/modcall/internal/compiler"
	"github.com/roach88/modcall/internal/dispatch"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/store"
	"github.com/roach88/modcall/internal/syntax"
)

//go:embed modules.cue
var declarationsCUE []byte

// Declarations compiles the embedded reference module declarations.
func Declarations() ([]registry.ModuleDecl, error) {
	decls, errs := compiler.CompileSource("modules.cue", declarationsCUE)
	if len(errs) > 0 {
		return nil, fmt.Errorf("builtin modules: %w", errors.Join(errs...))
	}
	return decls, nil
}

// Builtins bundles the reference module handlers.
type Builtins struct {
	IO        *IO
	Subtask   *Subtask
	Knowledge *Knowledge
	Manual    *Manual
}

// New creates the reference handlers. IO writes to outbox; Knowledge reads
// and writes kb; Manual renders with parser.
func New(outbox io.Writer, kb *store.Store, parser *syntax.Parser) *Builtins {
	return &Builtins{
		IO:        NewIO(outbox),
		Subtask:   NewSubtask(),
		Knowledge: NewKnowledge(kb),
		Manual:    NewManual(parser),
	}
}

// Handlers returns the handlers keyed by module id.
func (b *Builtins) Handlers() dispatch.Handlers {
	return dispatch.Handlers{
		"IO":        b.IO,
		"Subtask":   b.Subtask,
		"Knowledge": b.Knowledge,
		"Manual":    b.Manual,
	}
}
