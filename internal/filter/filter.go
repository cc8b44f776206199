// Package filter implements the metadata predicate grammar used to gate
// search results: Exact and Range leaves composed with And, Or and Not.
package filter

import (
	"encoding/json"
	"fmt"

	pkgerrors "surgedb/pkg/errors"
)

// Kind discriminates the predicate variants. The grammar is closed; there
// is no extension point.
type Kind int

const (
	KindExact Kind = iota
	KindRange
	KindAnd
	KindOr
	KindNot
)

// Filter is one node of a predicate tree. Evaluation is a pure function of
// a single record's metadata.
type Filter struct {
	Kind     Kind
	Field    string
	Value    any      // Exact only: string, float64 or bool
	Min, Max *float64 // Range only: nil means unbounded on that side
	Children []*Filter
}

// Exact matches records whose field equals value.
func Exact(field string, value any) *Filter {
	return &Filter{Kind: KindExact, Field: field, Value: value}
}

// Range matches records whose numeric field lies within [min, max].
// A nil bound is unbounded on that side.
func Range(field string, min, max *float64) *Filter {
	return &Filter{Kind: KindRange, Field: field, Min: min, Max: max}
}

// And matches records satisfying every child. And() is vacuously true.
func And(children ...*Filter) *Filter {
	return &Filter{Kind: KindAnd, Children: children}
}

// Or matches records satisfying any child. Or() is false.
func Or(children ...*Filter) *Filter {
	return &Filter{Kind: KindOr, Children: children}
}

// Not inverts its child.
func Not(child *Filter) *Filter {
	return &Filter{Kind: KindNot, Children: []*Filter{child}}
}

// Validate checks the tree against the type rules: Exact values must be
// string, number or bool; Range bounds must be numeric. Violations are
// validation errors, not silent false matches.
func (f *Filter) Validate() error {
	switch f.Kind {
	case KindExact:
		switch f.Value.(type) {
		case string, bool, float64, float32, int, int64:
		default:
			return fmt.Errorf("%w: Exact value for field %q must be string, number or bool", pkgerrors.ErrInvalidFilter, f.Field)
		}
	case KindRange:
		if f.Min == nil && f.Max == nil {
			return fmt.Errorf("%w: Range on field %q has no bounds", pkgerrors.ErrInvalidFilter, f.Field)
		}
	case KindAnd, KindOr:
		for _, c := range f.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	case KindNot:
		if len(f.Children) != 1 {
			return fmt.Errorf("%w: Not requires exactly one operand", pkgerrors.ErrInvalidFilter)
		}
		return f.Children[0].Validate()
	default:
		return fmt.Errorf("%w: unknown predicate kind %d", pkgerrors.ErrInvalidFilter, f.Kind)
	}
	return nil
}

// Matches evaluates the predicate against a record's metadata. A missing
// field fails Exact and Range clauses; it never errors.
func (f *Filter) Matches(meta map[string]any) bool {
	switch f.Kind {
	case KindExact:
		value, ok := meta[f.Field]
		if !ok {
			return false
		}
		return valuesEqual(value, f.Value)
	case KindRange:
		value, ok := meta[f.Field]
		if !ok {
			return false
		}
		num, ok := asFloat(value)
		if !ok {
			return false
		}
		if f.Min != nil && num < *f.Min {
			return false
		}
		if f.Max != nil && num > *f.Max {
			return false
		}
		return true
	case KindAnd:
		for _, c := range f.Children {
			if !c.Matches(meta) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range f.Children {
			if c.Matches(meta) {
				return true
			}
		}
		return false
	case KindNot:
		return !f.Children[0].Matches(meta)
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
