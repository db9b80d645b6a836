package query

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/arthur-debert/lifestore/types"
)

// kindRank orders scalar kinds the same way the key encoding does
func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return -1
	}
}

// Compare orders two scalar values of the same kind. It reports false for
// values of different kinds or non-scalar values.
func Compare(a, b any) (int, bool) {
	a, b = types.NormalizeValue(a), types.NormalizeValue(b)
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	}
	return 0, false
}

// Match reports whether rec satisfies one predicate. A missing field or a
// non-scalar value never matches.
func Match(rec types.Record, p types.Predicate) bool {
	v, ok := rec.Lookup(p.Field)
	if !ok || !types.IsScalar(v) {
		return false
	}

	switch p.Op {
	case types.OpEq:
		c, ok := Compare(v, p.Value)
		return ok && c == 0
	case types.OpIn:
		for _, want := range p.Values {
			if c, ok := Compare(v, want); ok && c == 0 {
				return true
			}
		}
		return false
	case types.OpLt:
		c, ok := Compare(v, p.Value)
		return ok && c < 0
	case types.OpLte:
		c, ok := Compare(v, p.Value)
		return ok && c <= 0
	case types.OpGt:
		c, ok := Compare(v, p.Value)
		return ok && c > 0
	case types.OpGte:
		c, ok := Compare(v, p.Value)
		return ok && c >= 0
	case types.OpBetween:
		lo, okLo := Compare(v, p.Value)
		hi, okHi := Compare(v, p.Upper)
		return okLo && okHi && lo >= 0 && hi <= 0
	case types.OpContains:
		s, ok := v.(string)
		needle, okNeedle := p.Value.(string)
		return ok && okNeedle && strings.Contains(cases.Fold().String(s), cases.Fold().String(needle))
	default:
		return false
	}
}

// MatchAll reports whether rec satisfies every predicate
func MatchAll(rec types.Record, preds []types.Predicate) bool {
	for _, p := range preds {
		if !Match(rec, p) {
			return false
		}
	}
	return true
}
