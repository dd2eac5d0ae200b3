package firelite

import (
	"fmt"
	"math"

	"github.com/firelite/firelite.go/pkg/codec"
)

// A Filter is one node of a query's filter tree: either a single field
// condition or an AND/OR composite.
type Filter interface {
	toWire() (*codec.Filter, error)
}

// PropertyFilter compares the field at a dotted path against a value.
type PropertyFilter struct {
	Path     string
	Operator string
	Value    any
}

// PropertyPathFilter is PropertyFilter for a pre-parsed field path.
type PropertyPathFilter struct {
	Path     FieldPath
	Operator string
	Value    any
}

// AndFilter matches when all children match.
type AndFilter struct {
	Filters []Filter
}

// OrFilter matches when any child matches.
type OrFilter struct {
	Filters []Filter
}

// And combines filters conjunctively, flattening nested ANDs so repeated
// combination never produces doubly-nested composites.
func And(filters ...Filter) Filter {
	var children []Filter
	for _, f := range filters {
		if af, ok := f.(AndFilter); ok {
			children = append(children, af.Filters...)
			continue
		}
		children = append(children, f)
	}
	return AndFilter{Filters: children}
}

// Or combines filters disjunctively, flattening nested ORs.
func Or(filters ...Filter) Filter {
	var children []Filter
	for _, f := range filters {
		if of, ok := f.(OrFilter); ok {
			children = append(children, of.Filters...)
			continue
		}
		children = append(children, f)
	}
	return OrFilter{Filters: children}
}

var operatorNames = map[string]string{
	"==":                 "EQUAL",
	"!=":                 "NOT_EQUAL",
	"<":                  "LESS_THAN",
	"<=":                 "LESS_THAN_OR_EQUAL",
	">":                  "GREATER_THAN",
	">=":                 "GREATER_THAN_OR_EQUAL",
	"in":                 "IN",
	"not-in":             "NOT_IN",
	"array-contains":     "ARRAY_CONTAINS",
	"array-contains-any": "ARRAY_CONTAINS_ANY",
}

func (f PropertyFilter) toWire() (*codec.Filter, error) {
	fp, err := parseFieldPath(f.Path)
	if err != nil {
		return nil, err
	}
	return PropertyPathFilter{Path: fp, Operator: f.Operator, Value: f.Value}.toWire()
}

func (f PropertyPathFilter) toWire() (*codec.Filter, error) {
	if err := f.Path.validate(); err != nil {
		return nil, err
	}
	op, ok := operatorNames[f.Operator]
	if !ok {
		return nil, fmt.Errorf("invalid operator %q", f.Operator)
	}

	// Null and NaN cannot be compared for equality on the wire; they
	// compile to unary filters instead.
	if f.Operator == "==" || f.Operator == "!=" {
		if unary := unaryOp(f.Operator, f.Value); unary != "" {
			return &codec.Filter{UnaryFilter: &codec.UnaryFilter{
				Field: codec.FieldReference{FieldPath: f.Path.serverPath()},
				Op:    unary,
			}}, nil
		}
	}

	wv, err := codec.Encode(f.Value, codec.EncodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("filter on %q: %w", f.Path, err)
	}
	return &codec.Filter{FieldFilter: &codec.FieldFilter{
		Field: codec.FieldReference{FieldPath: f.Path.serverPath()},
		Op:    op,
		Value: wv,
	}}, nil
}

func unaryOp(operator string, v any) string {
	isNaN := false
	if f, ok := v.(float64); ok {
		isNaN = math.IsNaN(f)
	}
	switch {
	case v == nil && operator == "==":
		return "IS_NULL"
	case v == nil && operator == "!=":
		return "IS_NOT_NULL"
	case isNaN && operator == "==":
		return "IS_NAN"
	case isNaN && operator == "!=":
		return "IS_NOT_NAN"
	}
	return ""
}

func (f AndFilter) toWire() (*codec.Filter, error) {
	return compositeToWire("AND", f.Filters)
}

func (f OrFilter) toWire() (*codec.Filter, error) {
	return compositeToWire("OR", f.Filters)
}

func compositeToWire(op string, filters []Filter) (*codec.Filter, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("composite filter requires at least one child")
	}
	if len(filters) == 1 {
		return filters[0].toWire()
	}
	cf := &codec.CompositeFilter{Op: op}
	for _, child := range filters {
		wf, err := child.toWire()
		if err != nil {
			return nil, err
		}
		cf.Filters = append(cf.Filters, *wf)
	}
	return &codec.Filter{CompositeFilter: cf}, nil
}
