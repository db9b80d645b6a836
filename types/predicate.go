package types

import (
	"fmt"
	"strings"
)

// Op is a predicate operator
type Op string

const (
	OpEq       Op = "eq"
	OpIn       Op = "in"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpBetween  Op = "between"
	OpContains Op = "contains"
)

// Predicate constrains one field. Between uses Value as the inclusive
// lower bound and Upper as the inclusive upper bound. In uses Values.
type Predicate struct {
	Field  string
	Op     Op
	Value  any
	Upper  any
	Values []any
}

// String renders the predicate for logs and plans
func (p Predicate) String() string {
	switch p.Op {
	case OpBetween:
		return fmt.Sprintf("%s between %v and %v", p.Field, p.Value, p.Upper)
	case OpIn:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = fmt.Sprintf("%v", v)
		}
		return fmt.Sprintf("%s in [%s]", p.Field, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
	}
}

// Validate checks the predicate shape
func (p Predicate) Validate() error {
	if p.Field == "" {
		return fmt.Errorf("%w: predicate field cannot be empty", ErrInvalidQuery)
	}
	switch p.Op {
	case OpEq, OpLt, OpLte, OpGt, OpGte:
		if !IsScalar(p.Value) {
			return fmt.Errorf("%w: %s requires a scalar value, got %T", ErrInvalidQuery, p.Op, p.Value)
		}
	case OpBetween:
		if !IsScalar(p.Value) || !IsScalar(p.Upper) {
			return fmt.Errorf("%w: between requires scalar bounds", ErrInvalidQuery)
		}
	case OpIn:
		for _, v := range p.Values {
			if !IsScalar(v) {
				return fmt.Errorf("%w: in requires scalar values, got %T", ErrInvalidQuery, v)
			}
		}
	case OpContains:
		if _, ok := p.Value.(string); !ok {
			return fmt.Errorf("%w: contains requires a string value", ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, p.Op)
	}
	if !ValidText(p.Value) || !ValidText(p.Upper) || !ValidText(p.Values) {
		return fmt.Errorf("%w: %s value is not valid UTF-8", ErrInvalidQuery, p.Field)
	}
	return nil
}

// Normalized returns the predicate with numeric values converted to float64
func (p Predicate) Normalized() Predicate {
	out := p
	out.Value = NormalizeValue(p.Value)
	out.Upper = NormalizeValue(p.Upper)
	if p.Values != nil {
		out.Values = make([]any, len(p.Values))
		for i, v := range p.Values {
			out.Values[i] = NormalizeValue(v)
		}
	}
	return out
}
