package syntax

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/modcall/internal/ir"
)

// decodeBody reads a span body as one YAML document holding a mapping.
func decodeBody(body string) (ir.IRObject, error) {
	dec := yaml.NewDecoder(strings.NewReader(body))

	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty span body")
		}
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty span body")
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return nil, fmt.Errorf("span body holds more than one YAML document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("span body must be a mapping of fields, got %s", nodeKind(root))
	}

	v, err := nodeToIR(root)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}

// nodeToIR rejects anchors and aliases: a body is a tree, and expanding
// shared nodes lets a short span grow without bound or loop forever.
func nodeToIR(n *yaml.Node) (ir.IRValue, error) {
	if n.Anchor != "" {
		return nil, fmt.Errorf("line %d: anchors are not supported", n.Line)
	}
	switch n.Kind {
	case yaml.AliasNode:
		return nil, fmt.Errorf("line %d: aliases are not supported", n.Line)

	case yaml.MappingNode:
		obj := make(ir.IRObject, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be plain text", k.Line)
			}
			if k.ShortTag() == "!!merge" {
				return nil, fmt.Errorf("line %d: merge keys are not supported", k.Line)
			}
			if _, dup := obj[k.Value]; dup {
				return nil, fmt.Errorf("line %d: duplicate key %q", k.Line, k.Value)
			}
			child, err := nodeToIR(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k.Value, err)
			}
			obj[k.Value] = child
		}
		return obj, nil

	case yaml.SequenceNode:
		arr := make(ir.IRArray, len(n.Content))
		for i, elem := range n.Content {
			child, err := nodeToIR(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = child
		}
		return arr, nil

	case yaml.ScalarNode:
		return scalarToIR(n)

	default:
		return nil, fmt.Errorf("line %d: unexpected %s", n.Line, nodeKind(n))
	}
}

func scalarToIR(n *yaml.Node) (ir.IRValue, error) {
	switch tag := n.ShortTag(); tag {
	case "!!str":
		return ir.IRString(n.Value), nil

	// Dates stay text; no IR kind carries them.
	case "!!timestamp":
		return ir.IRString(n.Value), nil

	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, fmt.Errorf("line %d: integer %s: %w", n.Line, n.Value, err)
		}
		return ir.IRInt(i), nil

	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, fmt.Errorf("line %d: float %s: %w", n.Line, n.Value, err)
		}
		v, err := ir.FromGo(f)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil

	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, fmt.Errorf("line %d: bool %s: %w", n.Line, n.Value, err)
		}
		return ir.IRBool(b), nil

	case "!!null":
		return nil, fmt.Errorf("line %d: empty or null value; quote it if you meant text", n.Line)

	default:
		return nil, fmt.Errorf("line %d: unsupported tag %s", n.Line, tag)
	}
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar " + n.ShortTag()
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
