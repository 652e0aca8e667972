package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/schema"
)

// CompileModule parses a CUE value into a ModuleDecl.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the module struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`module: IO: { purpose: "...", command: AccessModule: {...} }`)
//	decl, err := CompileModule(v.LookupPath(cue.ParsePath("module.IO")))
//
// Registry-level rules (discriminators, duplicates, examples) are checked by
// registry.Load, not here.
func CompileModule(v cue.Value) (*registry.ModuleDecl, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	decl := &registry.ModuleDecl{}

	// Module name from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		decl.ID = labels[len(labels)-1].Unquoted()
	}

	purpose, err := requiredString(v, "purpose")
	if err != nil {
		return nil, err
	}
	decl.Purpose = purpose

	if decl.Command, err = optionalString(v, "module_command"); err != nil {
		return nil, err
	}
	if decl.SessionField, err = optionalString(v, "session_field"); err != nil {
		return nil, err
	}

	reentrantVal := v.LookupPath(cue.ParsePath("reentrant"))
	if reentrantVal.Exists() {
		decl.Reentrant, err = reentrantVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}

	decl.Commands, err = parseCommands(v)
	if err != nil {
		return nil, err
	}
	if len(decl.Commands) == 0 {
		return nil, &CompileError{
			Field:   "command",
			Message: "at least one command is required",
			Pos:     v.Pos(),
		}
	}

	return decl, nil
}

// parseCommands extracts command declarations in source order.
func parseCommands(v cue.Value) ([]registry.CommandDecl, error) {
	var commands []registry.CommandDecl

	commandVal := v.LookupPath(cue.ParsePath("command"))
	if !commandVal.Exists() {
		return commands, nil
	}

	iter, err := commandVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		cmdValue := iter.Value()

		cmd := registry.CommandDecl{Name: name}

		if cmd.Purpose, err = requiredString(cmdValue, "purpose"); err != nil {
			return nil, prefixField(err, "command."+name)
		}

		queryVal := cmdValue.LookupPath(cue.ParsePath("query_schema"))
		if !queryVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("command.%s.query_schema", name),
				Message: "query_schema is required",
				Pos:     cmdValue.Pos(),
			}
		}
		if cmd.Query, err = CompileSchema(queryVal); err != nil {
			return nil, prefixField(err, fmt.Sprintf("command.%s.query_schema", name))
		}

		responseVal := cmdValue.LookupPath(cue.ParsePath("response_schema"))
		if !responseVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("command.%s.response_schema", name),
				Message: "response_schema is required",
				Pos:     cmdValue.Pos(),
			}
		}
		if cmd.Response, err = CompileSchema(responseVal); err != nil {
			return nil, prefixField(err, fmt.Sprintf("command.%s.response_schema", name))
		}

		examplesVal := cmdValue.LookupPath(cue.ParsePath("examples"))
		if examplesVal.Exists() {
			exIter, err := examplesVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for exIter.Next() {
				ex, err := CompileValue(exIter.Value())
				if err != nil {
					return nil, prefixField(err, fmt.Sprintf("command.%s.examples", name))
				}
				obj, ok := ex.(ir.IRObject)
				if !ok {
					return nil, &CompileError{
						Field:   fmt.Sprintf("command.%s.examples", name),
						Message: fmt.Sprintf("example must be a struct, got %s", ir.KindName(ex)),
						Pos:     exIter.Value().Pos(),
					}
				}
				cmd.Examples = append(cmd.Examples, obj)
			}
		}

		commands = append(commands, cmd)
	}

	return commands, nil
}

// CompileSchema converts a CUE type expression into a schema tree.
//
//	"IO"             -> literal string leaf
//	string           -> string leaf
//	int & >=1 & <=5  -> int leaf bounded [1, 5]
//	[...string]      -> sequence of string leaves
//	{a: int, b?: x}  -> mapping (b optional)
func CompileSchema(v cue.Value) (schema.Node, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch kind := v.IncompleteKind(); kind {
	case cue.StructKind:
		iter, err := v.Fields(cue.Optional(true))
		if err != nil {
			return nil, formatCUEError(err)
		}
		m := &schema.Mapping{}
		for iter.Next() {
			node, err := CompileSchema(iter.Value())
			if err != nil {
				return nil, prefixField(err, iter.Label())
			}
			m.Fields = append(m.Fields, schema.Field{
				Key:      iter.Label(),
				Node:     node,
				Required: !iter.IsOptional(),
			})
		}
		return m, nil

	case cue.ListKind:
		elemVal := v.LookupPath(cue.MakePath(cue.AnyIndex))
		if !elemVal.Exists() {
			return nil, &CompileError{
				Field:   "type",
				Message: "list schemas must be open lists like [...string]",
				Pos:     v.Pos(),
			}
		}
		elem, err := CompileSchema(elemVal)
		if err != nil {
			return nil, err
		}
		return schema.Seq(elem), nil

	case cue.NumberKind:
		// Rendering erases the int/float distinction a number schema keeps.
		return nil, &CompileError{
			Field:   "type",
			Message: "number admits both int and float; use int or float",
			Pos:     v.Pos(),
		}

	case cue.StringKind, cue.IntKind, cue.BoolKind, cue.FloatKind:
		if v.IsConcrete() {
			lit, err := CompileValue(v)
			if err != nil {
				return nil, err
			}
			return schema.Lit(lit), nil
		}
		leaf := &schema.Leaf{Kind: leafKind(kind)}
		collectBounds(v, leaf)
		return leaf, nil

	default:
		return nil, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", kind),
			Pos:     v.Pos(),
		}
	}
}

func leafKind(k cue.Kind) schema.Kind {
	switch k {
	case cue.StringKind:
		return schema.KindString
	case cue.IntKind:
		return schema.KindInt
	case cue.BoolKind:
		return schema.KindBool
	default:
		return schema.KindFloat
	}
}

// collectBounds reads >=, >, <=, < constraints off a numeric expression.
// Strict bounds are treated as inclusive.
func collectBounds(v cue.Value, leaf *schema.Leaf) {
	op, args := v.Expr()
	switch op {
	case cue.AndOp:
		for _, a := range args {
			collectBounds(a, leaf)
		}
	case cue.GreaterThanEqualOp, cue.GreaterThanOp:
		if len(args) == 1 {
			if f, err := args[0].Float64(); err == nil {
				leaf.Min = &f
			}
		}
	case cue.LessThanEqualOp, cue.LessThanOp:
		if len(args) == 1 {
			if f, err := args[0].Float64(); err == nil {
				leaf.Max = &f
			}
		}
	}
}

// CompileValue converts a concrete CUE value into IR.
func CompileValue(v cue.Value) (ir.IRValue, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   "value",
			Message: "value must be concrete",
			Pos:     v.Pos(),
		}
	}

	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRFloat(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := CompileValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := CompileValue(iter.Value())
			if err != nil {
				return nil, prefixField(err, iter.Label())
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// prefixField qualifies a nested CompileError's field with its parent path.
func prefixField(err error, parent string) error {
	ce, ok := err.(*CompileError)
	if !ok {
		return err
	}
	return &CompileError{
		Field:   parent + "." + ce.Field,
		Message: ce.Message,
		Pos:     ce.Pos,
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
