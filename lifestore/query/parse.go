package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/arthur-debert/lifestore/types"
)

// operators in match order; two-character operators come first
var operators = []struct {
	token string
	op    types.Op
}{
	{">=", types.OpGte},
	{"<=", types.OpLte},
	{">", types.OpGt},
	{"<", types.OpLt},
	{"~", types.OpContains},
	{"=", types.OpEq},
}

// ParsePredicate parses the compact predicate syntax used by the CLI:
//
//	status=pending           equality
//	status=pending|failed    membership
//	amount=10..20            inclusive range
//	amount>=10               comparison (>, >=, <, <=)
//	name~pasta               case-insensitive substring
//
// Values parse as null, true, false or a number when they look like one;
// wrap a value in double quotes to force a string.
func ParsePredicate(s string) (types.Predicate, error) {
	for _, o := range operators {
		i := strings.Index(s, o.token)
		if i <= 0 {
			continue
		}
		field := strings.TrimSpace(s[:i])
		raw := strings.TrimSpace(s[i+len(o.token):])
		if strings.ContainsAny(field, "<>=~") {
			continue
		}

		p := types.Predicate{Field: field, Op: o.op}
		switch {
		case o.op == types.OpContains:
			p.Value = unquote(raw)
		case o.op == types.OpEq && strings.Contains(raw, "|"):
			p.Op = types.OpIn
			for _, part := range strings.Split(raw, "|") {
				p.Values = append(p.Values, ParseValue(part))
			}
		case o.op == types.OpEq && strings.Contains(raw, ".."):
			lo, hi, _ := strings.Cut(raw, "..")
			p.Op = types.OpBetween
			p.Value = ParseValue(lo)
			p.Upper = ParseValue(hi)
		default:
			p.Value = ParseValue(raw)
		}
		if err := p.Validate(); err != nil {
			return types.Predicate{}, err
		}
		return p, nil
	}
	return types.Predicate{}, fmt.Errorf("%w: cannot parse predicate %q", types.ErrInvalidQuery, s)
}

// ParseValue converts a CLI token into a scalar
func ParseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return raw[1 : len(raw)-1]
	}
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return raw
}

func unquote(raw string) string {
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// ParseSort parses "field", "+field" or "-field" (descending)
func ParseSort(s string) (types.SortClause, error) {
	s = strings.TrimSpace(s)
	clause := types.SortClause{Field: s}
	switch {
	case strings.HasPrefix(s, "-"):
		clause = types.SortClause{Field: s[1:], Descending: true}
	case strings.HasPrefix(s, "+"):
		clause.Field = s[1:]
	}
	if clause.Field == "" {
		return types.SortClause{}, fmt.Errorf("%w: empty sort field", types.ErrInvalidQuery)
	}
	return clause, nil
}
