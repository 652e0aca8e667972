package schema

import (
	"strconv"
	"strings"

	"github.com/roach88/modcall/internal/ir"
)

// Describe renders a schema as a compact, deterministic shape:
//
//	{module: "IO", command: "AccessModule", content: <string>, extra_info?: <string>}
//
// Literals print as canonical JSON, kinds as <kind>, sequences as [elem].
// Bounded numbers print their range: <int 1..10>, <float >=0>.
func Describe(n Node) string {
	var sb strings.Builder
	describe(&sb, n)
	return sb.String()
}

func describe(sb *strings.Builder, n Node) {
	switch node := n.(type) {
	case *Leaf:
		if node.Literal != nil {
			sb.WriteString(describeValue(node.Literal))
			return
		}
		sb.WriteByte('<')
		sb.WriteString(string(node.Kind))
		switch {
		case node.Min != nil && node.Max != nil:
			sb.WriteString(" " + formatBound(*node.Min) + ".." + formatBound(*node.Max))
		case node.Min != nil:
			sb.WriteString(" >=" + formatBound(*node.Min))
		case node.Max != nil:
			sb.WriteString(" <=" + formatBound(*node.Max))
		}
		sb.WriteByte('>')
	case *Sequence:
		sb.WriteByte('[')
		describe(sb, node.Element)
		sb.WriteByte(']')
	case *Mapping:
		sb.WriteByte('{')
		for i, f := range node.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Key)
			if !f.Required {
				sb.WriteByte('?')
			}
			sb.WriteString(": ")
			describe(sb, f.Node)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString("<nothing>")
	}
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func describeValue(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return ir.KindName(v)
	}
	return string(b)
}

// Prune returns a copy of value with every mapping key the schema does not
// declare removed, recursively. Values that do not match the schema's shape
// are copied unchanged.
func Prune(n Node, value ir.IRValue) ir.IRValue {
	switch node := n.(type) {
	case *Sequence:
		arr, ok := value.(ir.IRArray)
		if !ok {
			return ir.Clone(value)
		}
		out := make(ir.IRArray, len(arr))
		for i, elem := range arr {
			out[i] = Prune(node.Element, elem)
		}
		return out
	case *Mapping:
		obj, ok := value.(ir.IRObject)
		if !ok {
			return ir.Clone(value)
		}
		out := make(ir.IRObject, len(node.Fields))
		for _, f := range node.Fields {
			if child, present := obj[f.Key]; present {
				out[f.Key] = Prune(f.Node, child)
			}
		}
		return out
	default:
		return ir.Clone(value)
	}
}

// UnknownKeys lists top-level keys of obj that m does not declare, in canonical order.
func UnknownKeys(m *Mapping, obj ir.IRObject) []string {
	var unknown []string
	for _, k := range obj.SortedKeys() {
		if _, ok := m.Field(k); !ok {
			unknown = append(unknown, k)
		}
	}
	return unknown
}
