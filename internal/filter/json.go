package filter

import (
	"encoding/json"
	"fmt"

	pkgerrors "surgedb/pkg/errors"
)

// Parse decodes the wire representation of a predicate and validates it.
//
// Wire shapes:
//
//	{"Exact": ["field", value]}
//	{"Range": ["field", min, max]}   null bound = unbounded
//	{"And": [filter, ...]}
//	{"Or": [filter, ...]}
//	{"Not": filter}
func Parse(data []byte) (*Filter, error) {
	var f Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// UnmarshalJSON implements json.Unmarshaler for the wire shape above.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidFilter, err)
	}
	if len(node) != 1 {
		return fmt.Errorf("%w: expected exactly one operator, got %d", pkgerrors.ErrInvalidFilter, len(node))
	}

	for op, raw := range node {
		switch op {
		case "Exact":
			var args []json.RawMessage
			if err := json.Unmarshal(raw, &args); err != nil || len(args) != 2 {
				return fmt.Errorf("%w: Exact expects [field, value]", pkgerrors.ErrInvalidFilter)
			}
			var field string
			if err := json.Unmarshal(args[0], &field); err != nil {
				return fmt.Errorf("%w: Exact field must be a string", pkgerrors.ErrInvalidFilter)
			}
			var value any
			if err := json.Unmarshal(args[1], &value); err != nil {
				return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidFilter, err)
			}
			*f = Filter{Kind: KindExact, Field: field, Value: value}
		case "Range":
			var args []json.RawMessage
			if err := json.Unmarshal(raw, &args); err != nil || len(args) != 3 {
				return fmt.Errorf("%w: Range expects [field, min, max]", pkgerrors.ErrInvalidFilter)
			}
			var field string
			if err := json.Unmarshal(args[0], &field); err != nil {
				return fmt.Errorf("%w: Range field must be a string", pkgerrors.ErrInvalidFilter)
			}
			min, err := parseBound(args[1])
			if err != nil {
				return err
			}
			max, err := parseBound(args[2])
			if err != nil {
				return err
			}
			*f = Filter{Kind: KindRange, Field: field, Min: min, Max: max}
		case "And", "Or":
			var children []*Filter
			if err := json.Unmarshal(raw, &children); err != nil {
				return fmt.Errorf("%w: %s expects a list of filters", pkgerrors.ErrInvalidFilter, op)
			}
			kind := KindAnd
			if op == "Or" {
				kind = KindOr
			}
			*f = Filter{Kind: kind, Children: children}
		case "Not":
			var child Filter
			if err := json.Unmarshal(raw, &child); err != nil {
				return fmt.Errorf("%w: Not expects a filter", pkgerrors.ErrInvalidFilter)
			}
			*f = Filter{Kind: KindNot, Children: []*Filter{&child}}
		default:
			return fmt.Errorf("%w: unknown operator %q", pkgerrors.ErrInvalidFilter, op)
		}
	}
	return nil
}

func parseBound(raw json.RawMessage) (*float64, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: Range bound must be numeric or null", pkgerrors.ErrInvalidFilter)
	}
	return &v, nil
}
