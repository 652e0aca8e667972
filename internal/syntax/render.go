package syntax

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/roach88/modcall/internal/ir"
)

// leadKeys render before all other root keys, in this order.
var leadKeys = []string{"module", "command"}

// Render writes value as a command span. Root keys module and command come
// first, the rest in canonical order. Only mappings render as commands.
func (p *Parser) Render(value ir.IRValue) (string, error) {
	obj, ok := value.(ir.IRObject)
	if !ok {
		return "", fmt.Errorf("render: a command is a mapping, got %s", ir.KindName(value))
	}
	body, err := encodeBody(obj, leadKeys)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return wrap(p.delims, body)
}

// Report is the data of one dispatch outcome as fed back to the agent.
// An empty Kind is a success carrying Response.
type Report struct {
	Kind     string
	Module   string
	Command  string
	Field    string
	Reason   string
	Response ir.IRValue
}

// RenderOutcome writes a report as a [[result]] or [[error]] span.
func (p *Parser) RenderOutcome(r Report) (string, error) {
	if r.Kind == "" {
		obj := ir.IRObject{}
		setString(obj, "module", r.Module)
		setString(obj, "command", r.Command)
		if r.Response != nil {
			obj["response"] = r.Response
		}
		body, err := encodeBody(obj, []string{"module", "command", "response"})
		if err != nil {
			return "", fmt.Errorf("render result: %w", err)
		}
		return wrap(ResultDelimiters, body)
	}

	obj := ir.IRObject{"kind": ir.IRString(r.Kind)}
	setString(obj, "module", r.Module)
	setString(obj, "command", r.Command)
	setString(obj, "field", r.Field)
	setString(obj, "reason", r.Reason)
	body, err := encodeBody(obj, []string{"kind", "module", "command", "field", "reason"})
	if err != nil {
		return "", fmt.Errorf("render error: %w", err)
	}
	return wrap(ErrorDelimiters, body)
}

func setString(obj ir.IRObject, key, value string) {
	if value != "" {
		obj[key] = ir.IRString(value)
	}
}

// wrap puts body between tags. A body containing either tag could not be
// read back as one span, so it is refused.
func wrap(d Delimiters, body string) (string, error) {
	if strings.Contains(body, d.Open) || strings.Contains(body, d.Close) {
		return "", fmt.Errorf("render: value contains a span tag (%s or %s)", d.Open, d.Close)
	}
	return d.Open + "\n" + body + d.Close, nil
}

func encodeBody(obj ir.IRObject, lead []string) (string, error) {
	node, err := toNode(obj, lead)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toNode builds a YAML node with explicit tags so every leaf reads back as
// the same IR kind. lead orders the first keys of this mapping only.
func toNode(v ir.IRValue, lead []string) (*yaml.Node, error) {
	switch val := v.(type) {
	case ir.IRString:
		s := string(val)
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("string is not valid UTF-8")
		}
		n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
		if needsDoubleQuotes(s) {
			n.Style = yaml.DoubleQuotedStyle
		}
		return n, nil

	case ir.IRInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(val), 10)}, nil

	case ir.IRBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(bool(val))}, nil

	case ir.IRFloat:
		s, err := ir.FormatFloat(float64(val))
		if err != nil {
			return nil, err
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}, nil

	case ir.IRArray:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i, elem := range val {
			child, err := toNode(elem, nil)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			n.Content = append(n.Content, child)
		}
		return n, nil

	case ir.IRObject:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range orderedKeys(val, lead) {
			child, err := toNode(val[k], nil)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
			if needsDoubleQuotes(k) {
				key.Style = yaml.DoubleQuotedStyle
			}
			n.Content = append(n.Content, key, child)
		}
		return n, nil

	case nil:
		return nil, fmt.Errorf("null is not an IR value")

	default:
		return nil, fmt.Errorf("unsupported IR value %T", v)
	}
}

func orderedKeys(obj ir.IRObject, lead []string) []string {
	keys := make([]string, 0, len(obj))
	seen := make(map[string]bool, len(lead))
	for _, k := range lead {
		if _, ok := obj[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for _, k := range obj.SortedKeys() {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// needsDoubleQuotes reports whether s must be written with escapes. Block
// scalars normalize line breaks and cannot hold control characters or
// trailing blanks, so only plain multi-line text is left to the encoder.
func needsDoubleQuotes(s string) bool {
	if s == "<<" {
		// Plain << reads back as a merge key.
		return true
	}
	for _, r := range s {
		switch r {
		case '\n', '\t', ' ':
			continue
		case '\r', '\u0085', '\u2028', '\u2029', '\ufeff':
			return true
		}
		if !unicode.IsPrint(r) {
			return true
		}
	}
	if !strings.Contains(s, "\n") {
		return false
	}
	if strings.Contains(s, "\t") || strings.HasPrefix(s, " ") || strings.HasPrefix(s, "\n") {
		return true
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.HasSuffix(line, " ") {
			return true
		}
	}
	return false
}
