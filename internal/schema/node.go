package schema

import (
	"fmt"

	"github.com/roach88/modcall/internal/ir"
)

// Kind is the runtime kind a Leaf accepts.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindFloat  Kind = "float"
)

// Valid reports whether k is one of the four leaf kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindInt, KindBool, KindFloat:
		return true
	}
	return false
}

// KindOf returns the leaf kind of an IR scalar, or "" for branches.
func KindOf(v ir.IRValue) Kind {
	switch v.(type) {
	case ir.IRString:
		return KindString
	case ir.IRInt:
		return KindInt
	case ir.IRBool:
		return KindBool
	case ir.IRFloat:
		return KindFloat
	default:
		return ""
	}
}

// Node is a sealed interface: *Leaf, *Sequence, or *Mapping.
// Schemas are trees; nodes are never shared between parents after load.
type Node interface {
	schemaNode()
}

// Leaf accepts a scalar of Kind. A non-nil Literal pins the exact value.
// Min and Max bound int and float leaves inclusively.
type Leaf struct {
	Kind    Kind
	Literal ir.IRValue
	Min     *float64
	Max     *float64
}

func (*Leaf) schemaNode() {}

// Sequence accepts an ordered list whose every element matches Element.
type Sequence struct {
	Element Node
}

func (*Sequence) schemaNode() {}

// Field is one declared key of a Mapping.
type Field struct {
	Key      string
	Node     Node
	Required bool
}

// Mapping accepts a keyed object. Field order is declaration order and
// determines validation order and rendering order.
type Mapping struct {
	Fields []Field
}

func (*Mapping) schemaNode() {}

// Field returns the declared field for key.
func (m *Mapping) Field(key string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Keys returns declared keys in order.
func (m *Mapping) Keys() []string {
	keys := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		keys[i] = f.Key
	}
	return keys
}

// Of returns a leaf accepting any value of kind k.
func Of(k Kind) *Leaf {
	return &Leaf{Kind: k}
}

// Lit returns a leaf accepting exactly v. The kind follows v.
func Lit(v ir.IRValue) *Leaf {
	return &Leaf{Kind: KindOf(v), Literal: v}
}

// Between returns a copy of l bounded to [lo, hi].
func (l *Leaf) Between(lo, hi float64) *Leaf {
	cp := *l
	cp.Min, cp.Max = &lo, &hi
	return &cp
}

// Seq returns a sequence of elem.
func Seq(elem Node) *Sequence {
	return &Sequence{Element: elem}
}

// Map returns a mapping with fields in the given order.
func Map(fields ...Field) *Mapping {
	return &Mapping{Fields: fields}
}

// Required declares a required mapping field.
func Required(key string, n Node) Field {
	return Field{Key: key, Node: n, Required: true}
}

// Optional declares an optional mapping field.
func Optional(key string, n Node) Field {
	return Field{Key: key, Node: n}
}

// Envelope is the generic command shape every span body must have:
// a command name, optionally a module name.
func Envelope() *Mapping {
	return Map(
		Required("command", Of(KindString)),
		Optional("module", Of(KindString)),
	)
}

// Discriminator returns the literal value of the required "command" field,
// the one rule every command query schema must satisfy.
func Discriminator(n Node) (string, error) {
	m, ok := n.(*Mapping)
	if !ok {
		return "", fmt.Errorf("root is %s, want mapping", nodeName(n))
	}
	f, ok := m.Field("command")
	if !ok {
		return "", fmt.Errorf(`missing "command" field`)
	}
	if !f.Required {
		return "", fmt.Errorf(`"command" field must be required`)
	}
	leaf, ok := f.Node.(*Leaf)
	if !ok || leaf.Kind != KindString {
		return "", fmt.Errorf(`"command" field must be a string leaf`)
	}
	lit, ok := leaf.Literal.(ir.IRString)
	if !ok {
		return "", fmt.Errorf(`"command" field must carry a literal command name`)
	}
	return string(lit), nil
}

// Check verifies a schema tree is well formed: known leaf kinds, literals
// matching their kind, bounds only on numeric leaves, unique mapping keys.
func Check(n Node) error {
	return check(n, "")
}

func check(n Node, path string) error {
	switch node := n.(type) {
	case *Leaf:
		if !node.Kind.Valid() {
			return fmt.Errorf("%s: unknown leaf kind %q", displayPath(path), node.Kind)
		}
		if node.Literal != nil && KindOf(node.Literal) != node.Kind {
			return fmt.Errorf("%s: literal %s is not a %s", displayPath(path), ir.KindName(node.Literal), node.Kind)
		}
		if (node.Min != nil || node.Max != nil) && node.Kind != KindInt && node.Kind != KindFloat {
			return fmt.Errorf("%s: bounds on non-numeric %s leaf", displayPath(path), node.Kind)
		}
		if node.Min != nil && node.Max != nil && *node.Min > *node.Max {
			return fmt.Errorf("%s: empty range [%v, %v]", displayPath(path), *node.Min, *node.Max)
		}
	case *Sequence:
		if node.Element == nil {
			return fmt.Errorf("%s: sequence without element schema", displayPath(path))
		}
		return check(node.Element, path+"[]")
	case *Mapping:
		seen := make(map[string]bool, len(node.Fields))
		for _, f := range node.Fields {
			if seen[f.Key] {
				return fmt.Errorf("%s: duplicate key %q", displayPath(path), f.Key)
			}
			seen[f.Key] = true
			if f.Node == nil {
				return fmt.Errorf("%s: no schema", displayPath(joinKey(path, f.Key)))
			}
			if err := check(f.Node, joinKey(path, f.Key)); err != nil {
				return err
			}
		}
	case nil:
		return fmt.Errorf("%s: nil schema", displayPath(path))
	}
	return nil
}

// ToIR encodes a schema tree as IR so it can be hashed canonically.
func ToIR(n Node) ir.IRValue {
	switch node := n.(type) {
	case *Leaf:
		obj := ir.IRObject{"kind": ir.IRString(node.Kind)}
		if node.Literal != nil {
			obj["literal"] = node.Literal
		}
		if node.Min != nil {
			obj["min"] = ir.IRFloat(*node.Min)
		}
		if node.Max != nil {
			obj["max"] = ir.IRFloat(*node.Max)
		}
		return obj
	case *Sequence:
		return ir.IRObject{"sequence": ToIR(node.Element)}
	case *Mapping:
		fields := make(ir.IRArray, len(node.Fields))
		for i, f := range node.Fields {
			fields[i] = ir.IRObject{
				"key":      ir.IRString(f.Key),
				"node":     ToIR(f.Node),
				"required": ir.IRBool(f.Required),
			}
		}
		return ir.IRObject{"mapping": fields}
	default:
		return ir.IRObject{}
	}
}

func nodeName(n Node) string {
	switch node := n.(type) {
	case *Leaf:
		return string(node.Kind)
	case *Sequence:
		return "sequence"
	case *Mapping:
		return "mapping"
	default:
		return "nothing"
	}
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func joinIndex(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
