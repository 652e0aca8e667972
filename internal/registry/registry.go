package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/schema"
)

// CommandDecl is the static description of one invocable operation.
type CommandDecl struct {
	// Module is the owning module's ID. Set by Load.
	Module string

	Name     string
	Purpose  string
	Query    schema.Node
	Response schema.Node

	// Examples are literal, query-valid samples shown to the agent verbatim.
	Examples []ir.IRObject
}

// ModuleDecl is one module and its commands, in declaration order.
type ModuleDecl struct {
	// ID is the module_name.
	ID string

	// Command is the module_command: the value agents put in a span's
	// "module" field. Defaults to ID.
	Command string

	Purpose string

	// SessionField names the query field whose value identifies a session.
	// Empty means the module is one session.
	SessionField string

	// Reentrant modules may run concurrently for the same session.
	Reentrant bool

	Commands []CommandDecl
}

// FindCommand returns the declared command with the given name.
func (m *ModuleDecl) FindCommand(name string) (*CommandDecl, bool) {
	for i := range m.Commands {
		if m.Commands[i].Name == name {
			return &m.Commands[i], true
		}
	}
	return nil, false
}

// Registry is an immutable, validated set of module declarations.
// Safe for concurrent reads; replaced wholesale, never mutated.
type Registry struct {
	modules     []*ModuleDecl
	byID        map[string]*ModuleDecl
	byCommand   map[string]*ModuleDecl
	commands    map[string]map[string]*CommandDecl
	fingerprint string
}

// Load validates decls and builds a registry. All problems found are
// returned together (errors.Join of *ConfigError); any error means no registry.
func Load(decls ...ModuleDecl) (*Registry, error) {
	r := &Registry{
		byID:      make(map[string]*ModuleDecl, len(decls)),
		byCommand: make(map[string]*ModuleDecl, len(decls)),
		commands:  make(map[string]map[string]*CommandDecl, len(decls)),
	}

	var errs []error
	for i := range decls {
		mod := copyModule(decls[i])
		if modErrs := r.add(mod); len(modErrs) > 0 {
			errs = append(errs, modErrs...)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	fp, err := fingerprint(r.modules)
	if err != nil {
		return nil, &ConfigError{Code: ErrCodeInvalidDeclaration, Message: err.Error()}
	}
	r.fingerprint = fp
	return r, nil
}

func (r *Registry) add(mod *ModuleDecl) []error {
	if strings.TrimSpace(mod.ID) == "" {
		return []error{&ConfigError{Code: ErrCodeInvalidDeclaration, Message: "module_name is required"}}
	}
	if mod.Command == "" {
		mod.Command = mod.ID
	}

	var errs []error
	fail := func(code ConfigErrorCode, command, format string, args ...any) {
		errs = append(errs, &ConfigError{
			Code:    code,
			Module:  mod.ID,
			Command: command,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if _, dup := r.byID[mod.ID]; dup {
		fail(ErrCodeDuplicateModule, "", "module_name declared twice")
		return errs
	}
	if other, dup := r.byCommand[mod.Command]; dup {
		fail(ErrCodeDuplicateModule, "", "module_command %q already used by %s", mod.Command, other.ID)
		return errs
	}
	if other, dup := r.byID[mod.Command]; dup && mod.Command != mod.ID {
		fail(ErrCodeDuplicateModule, "", "module_command %q collides with module %s", mod.Command, other.ID)
		return errs
	}
	if other, dup := r.byCommand[mod.ID]; dup {
		fail(ErrCodeDuplicateModule, "", "module_name collides with module_command of %s", other.ID)
		return errs
	}

	if strings.TrimSpace(mod.Purpose) == "" {
		fail(ErrCodeInvalidDeclaration, "", "purpose is required")
	}
	if len(mod.Commands) == 0 {
		fail(ErrCodeInvalidDeclaration, "", "at least one command is required")
	}

	cmds := make(map[string]*CommandDecl, len(mod.Commands))
	sessionDeclared := false
	for i := range mod.Commands {
		cmd := &mod.Commands[i]
		cmd.Module = mod.ID

		if strings.TrimSpace(cmd.Name) == "" {
			fail(ErrCodeInvalidDeclaration, "", "command %d: command_name is required", i)
			continue
		}
		if _, dup := cmds[cmd.Name]; dup {
			fail(ErrCodeDuplicateCommand, cmd.Name, "command declared twice")
			continue
		}
		cmds[cmd.Name] = cmd

		if err := checkCommand(mod, cmd); err != nil {
			fail(ErrCodeInvalidDeclaration, cmd.Name, "%s", err)
			continue
		}
		if mod.SessionField != "" {
			if f, ok := cmd.Query.(*schema.Mapping).Field(mod.SessionField); ok {
				sessionDeclared = true
				if leaf, isLeaf := f.Node.(*schema.Leaf); !isLeaf || leaf.Literal != nil {
					fail(ErrCodeInvalidDeclaration, cmd.Name, "session field %q must be a non-literal leaf", mod.SessionField)
				}
			}
		}
		for j, ex := range cmd.Examples {
			if err := schema.Validate(cmd.Query, ex); err != nil {
				fail(ErrCodeInvalidExample, cmd.Name, "example %d: %s", j, err)
			}
		}
	}
	if mod.SessionField != "" && !sessionDeclared && len(mod.Commands) > 0 {
		fail(ErrCodeInvalidDeclaration, "", "session_field %q is not declared by any command", mod.SessionField)
	}

	if len(errs) > 0 {
		return errs
	}

	r.modules = append(r.modules, mod)
	r.byID[mod.ID] = mod
	r.byCommand[mod.Command] = mod
	r.commands[mod.ID] = cmds
	return nil
}

func checkCommand(mod *ModuleDecl, cmd *CommandDecl) error {
	if strings.TrimSpace(cmd.Purpose) == "" {
		return fmt.Errorf("purpose is required")
	}
	if cmd.Query == nil {
		return fmt.Errorf("query_schema is required")
	}
	if err := schema.Check(cmd.Query); err != nil {
		return fmt.Errorf("query_schema: %w", err)
	}
	name, err := schema.Discriminator(cmd.Query)
	if err != nil {
		return fmt.Errorf("query_schema: %w", err)
	}
	if name != cmd.Name {
		return fmt.Errorf("query_schema.command is %q, want %q", name, cmd.Name)
	}

	if f, ok := cmd.Query.(*schema.Mapping).Field("module"); ok {
		leaf, isLeaf := f.Node.(*schema.Leaf)
		if !isLeaf || leaf.Kind != schema.KindString {
			return fmt.Errorf("query_schema.module must be a string leaf")
		}
		if lit, hasLit := leaf.Literal.(ir.IRString); hasLit && string(lit) != mod.Command {
			return fmt.Errorf("query_schema.module is %q, does not match module_command %q", lit, mod.Command)
		}
	}

	if cmd.Response == nil {
		return fmt.Errorf("response_schema is required")
	}
	if _, ok := cmd.Response.(*schema.Mapping); !ok {
		return fmt.Errorf("response_schema must be a mapping")
	}
	if err := schema.Check(cmd.Response); err != nil {
		return fmt.Errorf("response_schema: %w", err)
	}
	return nil
}

// Lookup returns the module declared with module_name id.
func (r *Registry) Lookup(id string) (*ModuleDecl, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Resolve maps the agent-facing "module" value to a module:
// module_command first, then module_name.
func (r *Registry) Resolve(name string) (*ModuleDecl, bool) {
	if m, ok := r.byCommand[name]; ok {
		return m, true
	}
	return r.Lookup(name)
}

// ResolveCommand finds the command of module id whose discriminator equals
// the value's "command" leaf exactly. Non-string or absent commands never match.
func (r *Registry) ResolveCommand(id string, value ir.IRObject) (*CommandDecl, bool) {
	cmds, ok := r.commands[id]
	if !ok {
		return nil, false
	}
	name, ok := value["command"].(ir.IRString)
	if !ok {
		return nil, false
	}
	cmd, ok := cmds[string(name)]
	return cmd, ok
}

// Modules returns all modules in declaration order.
func (r *Registry) Modules() []*ModuleDecl {
	out := make([]*ModuleDecl, len(r.modules))
	copy(out, r.modules)
	return out
}

// Len returns the number of modules.
func (r *Registry) Len() int {
	return len(r.modules)
}

// Fingerprint is a content hash of the declaration set.
// Loading the same declarations twice yields the same fingerprint.
func (r *Registry) Fingerprint() string {
	return r.fingerprint
}

func copyModule(m ModuleDecl) *ModuleDecl {
	cp := m
	cp.Commands = make([]CommandDecl, len(m.Commands))
	for i, c := range m.Commands {
		cc := c
		cc.Examples = make([]ir.IRObject, len(c.Examples))
		for j, ex := range c.Examples {
			cc.Examples[j] = ex.Clone()
		}
		cp.Commands[i] = cc
	}
	return &cp
}

func fingerprint(mods []*ModuleDecl) (string, error) {
	arr := make(ir.IRArray, len(mods))
	for i, m := range mods {
		cmds := make(ir.IRArray, len(m.Commands))
		for j, c := range m.Commands {
			examples := make(ir.IRArray, len(c.Examples))
			for k, ex := range c.Examples {
				examples[k] = ex
			}
			cmds[j] = ir.IRObject{
				"command_name":    ir.IRString(c.Name),
				"purpose":         ir.IRString(c.Purpose),
				"query_schema":    schema.ToIR(c.Query),
				"response_schema": schema.ToIR(c.Response),
				"examples":        examples,
			}
		}
		arr[i] = ir.IRObject{
			"module_name":    ir.IRString(m.ID),
			"module_command": ir.IRString(m.Command),
			"purpose":        ir.IRString(m.Purpose),
			"session_field":  ir.IRString(m.SessionField),
			"reentrant":      ir.IRBool(m.Reentrant),
			"commands":       cmds,
		}
	}
	return ir.DeclarationHash(arr)
}
