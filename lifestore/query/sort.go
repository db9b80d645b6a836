package query

import (
	"sort"

	"github.com/arthur-debert/lifestore/types"
)

// Sort orders records by the clauses, stably. Records missing a sort
// field (or holding a non-scalar there) go last for that clause in both
// directions. Values of different kinds order as null, bool, number,
// string.
func Sort(records []types.Record, clauses []types.SortClause) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, clause := range clauses {
			c := compareForSort(records[i], records[j], clause.Field)
			if c == 0 {
				continue
			}
			if c == missingFirst || c == missingSecond {
				return c == missingSecond
			}
			if clause.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

const (
	missingFirst  = 2  // only the first record lacks the field
	missingSecond = -2 // only the second record lacks the field
)

func sortValue(rec types.Record, field string) (any, bool) {
	v, ok := rec.Lookup(field)
	if !ok || !types.IsScalar(v) {
		return nil, false
	}
	return types.NormalizeValue(v), true
}

func compareForSort(a, b types.Record, field string) int {
	av, aok := sortValue(a, field)
	bv, bok := sortValue(b, field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return missingFirst
	case !bok:
		return missingSecond
	}
	if c, ok := Compare(av, bv); ok {
		return c
	}
	if kindRank(av) < kindRank(bv) {
		return -1
	}
	return 1
}
