package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/modcall/internal/ir"
)

// Reason classifies why a value failed validation.
type Reason string

const (
	ReasonMissingField    Reason = "missing_field"
	ReasonTypeMismatch    Reason = "type_mismatch"
	ReasonLiteralMismatch Reason = "literal_mismatch"
	ReasonOutOfRange      Reason = "out_of_range"
	ReasonUnknownField    Reason = "unknown_field"
)

// Profile selects how unknown mapping keys are treated.
type Profile string

const (
	// Permissive allows keys the schema does not declare.
	Permissive Profile = "permissive"

	// Strict rejects keys the schema does not declare.
	Strict Profile = "strict"
)

// ValidationError names the first offending location in a value.
type ValidationError struct {
	// Path is the dotted location of the failure ("" for the root),
	// with sequence indexes in brackets: "items[2].name".
	Path string `json:"path"`

	// Expected describes the schema at Path.
	Expected string `json:"expected"`

	// Actual describes what was found at Path.
	Actual string `json:"actual"`

	Reason Reason `json:"reason"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("%s: missing required field, expected %s", displayPath(e.Path), e.Expected)
	case ReasonUnknownField:
		return fmt.Sprintf("%s: field is not declared", displayPath(e.Path))
	default:
		return fmt.Sprintf("%s: expected %s, got %s", displayPath(e.Path), e.Expected, e.Actual)
	}
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

type options struct {
	profile Profile
}

// Option configures Validate.
type Option func(*options)

// WithProfile sets the unknown-key policy. Default is Permissive.
func WithProfile(p Profile) Option {
	return func(o *options) {
		o.profile = p
	}
}

// Validate checks value against node and returns the first failure as a
// *ValidationError, or nil. Traversal is depth-first with mapping fields
// in declared order. Validate never modifies value.
func Validate(node Node, value ir.IRValue, opts ...Option) error {
	o := options{profile: Permissive}
	for _, opt := range opts {
		opt(&o)
	}
	if ve := validate(node, value, "", &o); ve != nil {
		return ve
	}
	return nil
}

func validate(node Node, value ir.IRValue, path string, o *options) *ValidationError {
	switch n := node.(type) {
	case *Leaf:
		return validateLeaf(n, value, path)

	case *Sequence:
		arr, ok := value.(ir.IRArray)
		if !ok {
			return mismatch(n, value, path)
		}
		for i, elem := range arr {
			if ve := validate(n.Element, elem, joinIndex(path, i), o); ve != nil {
				return ve
			}
		}
		return nil

	case *Mapping:
		obj, ok := value.(ir.IRObject)
		if !ok {
			return mismatch(n, value, path)
		}
		for _, f := range n.Fields {
			child, present := obj[f.Key]
			if !present {
				if f.Required {
					return &ValidationError{
						Path:     joinKey(path, f.Key),
						Expected: Describe(f.Node),
						Actual:   "nothing",
						Reason:   ReasonMissingField,
					}
				}
				continue
			}
			if ve := validate(f.Node, child, joinKey(path, f.Key), o); ve != nil {
				return ve
			}
		}
		if o.profile == Strict {
			for _, k := range obj.SortedKeys() {
				if _, declared := n.Field(k); !declared {
					return &ValidationError{
						Path:     joinKey(path, k),
						Expected: "nothing",
						Actual:   ir.KindName(obj[k]),
						Reason:   ReasonUnknownField,
					}
				}
			}
		}
		return nil

	default:
		return &ValidationError{
			Path:     path,
			Expected: "a schema",
			Actual:   ir.KindName(value),
			Reason:   ReasonTypeMismatch,
		}
	}
}

func validateLeaf(l *Leaf, value ir.IRValue, path string) *ValidationError {
	if KindOf(value) != l.Kind {
		return mismatch(l, value, path)
	}
	if l.Literal != nil && !ir.Equal(l.Literal, value) {
		return &ValidationError{
			Path:     path,
			Expected: Describe(l),
			Actual:   describeValue(value),
			Reason:   ReasonLiteralMismatch,
		}
	}
	if l.Min == nil && l.Max == nil {
		return nil
	}

	var f float64
	switch v := value.(type) {
	case ir.IRInt:
		f = float64(v)
	case ir.IRFloat:
		f = float64(v)
	default:
		return nil
	}
	if (l.Min != nil && f < *l.Min) || (l.Max != nil && f > *l.Max) {
		return &ValidationError{
			Path:     path,
			Expected: Describe(l),
			Actual:   describeValue(value),
			Reason:   ReasonOutOfRange,
		}
	}
	return nil
}

func mismatch(node Node, value ir.IRValue, path string) *ValidationError {
	return &ValidationError{
		Path:     path,
		Expected: Describe(node),
		Actual:   ir.KindName(value),
		Reason:   ReasonTypeMismatch,
	}
}
