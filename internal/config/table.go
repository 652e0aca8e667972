package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/schema"
)

// Table is the YAML module declaration table.
//
//	modules:
//	  - module_name: IO
//	    module_command: IO
//	    purpose: Deliver text to the user
//	    commands:
//	      - command_name: AccessModule
//	        purpose: Send content
//	        query_schema:
//	          module: IO
//	          command: AccessModule
//	          content: <string>
//	          extra_info?: <string>
//	        response_schema: {target_module: <string>, status: <string>}
//	        examples:
//	          - {module: IO, command: AccessModule, content: hello}
//
// Schema notation: <string>, <int>, <bool>, <float> are kinds, optionally
// bounded as <int 1..10>, <float >=0>, <int <=5>. Any other scalar is a
// literal. A one-element sequence is a Sequence. A key ending in "?" is optional.
type Table struct {
	Modules []TableModule `yaml:"modules"`
}

// TableModule is one module row.
type TableModule struct {
	ModuleName    string         `yaml:"module_name"`
	ModuleCommand string         `yaml:"module_command"`
	Purpose       string         `yaml:"purpose"`
	SessionField  string         `yaml:"session_field"`
	Reentrant     bool           `yaml:"reentrant"`
	Commands      []TableCommand `yaml:"commands"`
}

// TableCommand is one command row. Schemas stay as yaml.Node so key order survives.
type TableCommand struct {
	CommandName    string      `yaml:"command_name"`
	Purpose        string      `yaml:"purpose"`
	QuerySchema    yaml.Node   `yaml:"query_schema"`
	ResponseSchema yaml.Node   `yaml:"response_schema"`
	Examples       []yaml.Node `yaml:"examples"`
}

// TableError locates a problem in a declaration table.
type TableError struct {
	File    string
	Line    int
	Field   string
	Message string
}

func (e *TableError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
}

// LoadTable reads a YAML declaration table file.
func LoadTable(path string) ([]registry.ModuleDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read declaration table: %w", err)
	}
	return ParseTable(path, data)
}

// ParseTable decodes a YAML declaration table. Rows are checked for the
// required keys here; registry.Load applies the cross-row rules.
func ParseTable(file string, data []byte) ([]registry.ModuleDecl, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, &TableError{File: file, Field: "yaml", Message: err.Error()}
	}
	if len(table.Modules) == 0 {
		return nil, &TableError{File: file, Field: "modules", Message: "no modules declared"}
	}

	decls := make([]registry.ModuleDecl, 0, len(table.Modules))
	for i, tm := range table.Modules {
		where := fmt.Sprintf("modules[%d]", i)
		if tm.ModuleName == "" {
			return nil, &TableError{File: file, Field: where + ".module_name", Message: "module_name is required"}
		}
		if tm.ModuleCommand == "" {
			return nil, &TableError{File: file, Field: where + ".module_command", Message: "module_command is required"}
		}

		decl := registry.ModuleDecl{
			ID:           tm.ModuleName,
			Command:      tm.ModuleCommand,
			Purpose:      tm.Purpose,
			SessionField: tm.SessionField,
			Reentrant:    tm.Reentrant,
		}
		for j, tc := range tm.Commands {
			cmdWhere := fmt.Sprintf("%s.commands[%d]", where, j)
			cmd, err := tableCommand(tc)
			if err != nil {
				var te *TableError
				if errors.As(err, &te) {
					te.File = file
					te.Field = cmdWhere + "." + te.Field
					return nil, te
				}
				return nil, &TableError{File: file, Field: cmdWhere, Message: err.Error()}
			}
			decl.Commands = append(decl.Commands, cmd)
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func tableCommand(tc TableCommand) (registry.CommandDecl, error) {
	cmd := registry.CommandDecl{Name: tc.CommandName, Purpose: tc.Purpose}

	if tc.QuerySchema.Kind == 0 {
		return cmd, &TableError{Field: "query_schema", Message: "query_schema is required"}
	}
	if tc.QuerySchema.Kind != yaml.MappingNode {
		return cmd, &TableError{Field: "query_schema", Line: tc.QuerySchema.Line, Message: "query_schema must be a mapping"}
	}
	q, err := SchemaFromYAML(&tc.QuerySchema)
	if err != nil {
		return cmd, prefixTableField(err, "query_schema")
	}
	cmd.Query = q

	if tc.ResponseSchema.Kind == 0 {
		return cmd, &TableError{Field: "response_schema", Message: "response_schema is required"}
	}
	if tc.ResponseSchema.Kind != yaml.MappingNode {
		return cmd, &TableError{Field: "response_schema", Line: tc.ResponseSchema.Line, Message: "response_schema must be a mapping"}
	}
	r, err := SchemaFromYAML(&tc.ResponseSchema)
	if err != nil {
		return cmd, prefixTableField(err, "response_schema")
	}
	cmd.Response = r

	for i := range tc.Examples {
		v, err := ValueFromYAML(&tc.Examples[i])
		if err != nil {
			return cmd, &TableError{Field: fmt.Sprintf("examples[%d]", i), Line: tc.Examples[i].Line, Message: err.Error()}
		}
		obj, ok := v.(ir.IRObject)
		if !ok {
			return cmd, &TableError{Field: fmt.Sprintf("examples[%d]", i), Line: tc.Examples[i].Line, Message: "example must be a mapping"}
		}
		cmd.Examples = append(cmd.Examples, obj)
	}
	return cmd, nil
}

var kindPattern = regexp.MustCompile(`^<(string|int|bool|float)(?:\s+(?:(-?[0-9.eE+-]+)\.\.(-?[0-9.eE+-]+)|>=(-?[0-9.eE+-]+)|<=(-?[0-9.eE+-]+)))?>$`)

// SchemaFromYAML converts a table schema node into a schema tree.
func SchemaFromYAML(n *yaml.Node) (schema.Node, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) != 1 {
			return nil, &TableError{Line: n.Line, Field: "schema", Message: "empty document"}
		}
		return SchemaFromYAML(n.Content[0])

	case yaml.MappingNode:
		m := &schema.Mapping{}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			required := true
			if strings.HasSuffix(key, "?") {
				key = strings.TrimSuffix(key, "?")
				required = false
			}
			child, err := SchemaFromYAML(n.Content[i+1])
			if err != nil {
				return nil, prefixTableField(err, key)
			}
			m.Fields = append(m.Fields, schema.Field{Key: key, Node: child, Required: required})
		}
		return m, nil

	case yaml.SequenceNode:
		if len(n.Content) != 1 {
			return nil, &TableError{Line: n.Line, Field: "schema", Message: "a sequence schema has exactly one element schema"}
		}
		elem, err := SchemaFromYAML(n.Content[0])
		if err != nil {
			return nil, err
		}
		return schema.Seq(elem), nil

	case yaml.ScalarNode:
		if n.Tag == "!!str" {
			if match := kindPattern.FindStringSubmatch(n.Value); match != nil {
				return kindLeaf(match, n.Line)
			}
		}
		v, err := ValueFromYAML(n)
		if err != nil {
			return nil, &TableError{Line: n.Line, Field: "schema", Message: err.Error()}
		}
		return schema.Lit(v), nil

	default:
		return nil, &TableError{Line: n.Line, Field: "schema", Message: "aliases are not supported"}
	}
}

func kindLeaf(match []string, line int) (schema.Node, error) {
	leaf := &schema.Leaf{Kind: schema.Kind(match[1])}
	parse := func(s string) (*float64, error) {
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &TableError{Line: line, Field: "schema", Message: fmt.Sprintf("bad bound %q", s)}
		}
		return &f, nil
	}
	var err error
	if leaf.Min, err = parse(match[2]); err != nil {
		return nil, err
	}
	if leaf.Max, err = parse(match[3]); err != nil {
		return nil, err
	}
	if match[4] != "" {
		if leaf.Min, err = parse(match[4]); err != nil {
			return nil, err
		}
	}
	if match[5] != "" {
		if leaf.Max, err = parse(match[5]); err != nil {
			return nil, err
		}
	}
	return leaf, nil
}

// ValueFromYAML converts a YAML node into IR, keeping int and float distinct.
func ValueFromYAML(n *yaml.Node) (ir.IRValue, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, err
	}
	return ir.FromGo(raw)
}

func prefixTableField(err error, parent string) error {
	var te *TableError
	if errors.As(err, &te) {
		field := parent
		if te.Field != "" && te.Field != "schema" {
			field = parent + "." + te.Field
		}
		return &TableError{File: te.File, Line: te.Line, Field: field, Message: te.Message}
	}
	return err
}
