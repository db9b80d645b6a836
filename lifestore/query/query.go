// Package query executes filtered, sorted reads over one collection.
//
// Execution has three steps: the planner picks at most one predicate that
// an index (or the primary key) can serve and narrows the candidates with
// it; every predicate is then applied to the candidates in memory; finally
// the result is sorted and paged.
package query

import (
	"fmt"

	"github.com/arthur-debert/lifestore/lifestore/keys"
	"github.com/arthur-debert/lifestore/types"
)

// Source reads the records of a collection. Both scans return records in
// primary key order.
type Source interface {
	// Schema returns the declaration of a collection
	Schema(collection string) (types.CollectionSchema, error)

	// ScanAll returns every record of the collection
	ScanAll(collection string) ([]types.Record, error)

	// ScanIndex returns the records whose field value lies in any of the
	// ranges. Field is the primary key or an indexed field.
	ScanIndex(collection, field string, ranges []keys.Range) ([]types.Record, error)
}

// Run executes q against collection
func Run(src Source, collection string, q types.Query) ([]types.Record, error) {
	schema, err := src.Schema(collection)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(schema, q.Predicates)
	if err != nil {
		return nil, err
	}
	for _, clause := range q.Sort {
		if clause.Field == "" {
			return nil, fmt.Errorf("%w: sort field cannot be empty", types.ErrInvalidQuery)
		}
	}

	candidates, err := plan.Candidates(src)
	if err != nil {
		return nil, err
	}

	result := Filter(candidates, plan.Predicates)
	if len(q.Sort) > 0 {
		Sort(result, q.Sort)
	}
	return Page(result, q.Offset, q.Limit), nil
}

// Filter returns the records matching every predicate, keeping order
func Filter(records []types.Record, preds []types.Predicate) []types.Record {
	out := make([]types.Record, 0, len(records))
	for _, rec := range records {
		if MatchAll(rec, preds) {
			out = append(out, rec)
		}
	}
	return out
}

// Page applies offset and limit
func Page(records []types.Record, offset, limit int) []types.Record {
	if offset > 0 {
		if offset >= len(records) {
			return []types.Record{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
