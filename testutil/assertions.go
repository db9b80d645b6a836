package testutil

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/arthur-debert/lifestore/lifestore/query"
	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// AssertRecordCount checks the number of records in a collection
func AssertRecordCount(t testing.TB, h *store.Handle, collection string, want int) {
	t.Helper()
	err := h.WithTransaction(context.Background(), []string{collection}, types.ReadOnly, func(txn *store.Txn) error {
		got, err := txn.Count(collection)
		if err != nil {
			return err
		}
		if got != want {
			t.Errorf("expected %d records in %s, got %d", want, collection, got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("counting %s: %v", collection, err)
	}
}

// AssertIndexesConsistent checks that, for every index of the collection
// and every value present in it, an index-driven equality query returns
// exactly the records a full scan finds.
func AssertIndexesConsistent(t testing.TB, h *store.Handle, collection string) {
	t.Helper()
	c, err := h.Collection(collection)
	if err != nil {
		t.Fatal(err)
	}
	err = h.WithTransaction(context.Background(), []string{collection}, types.ReadOnly, func(txn *store.Txn) error {
		all, err := txn.GetAll(collection)
		if err != nil {
			return err
		}
		for _, idx := range c.Indexes {
			for _, v := range distinctValues(all, idx.Field) {
				pred := types.Predicate{Field: idx.Field, Op: types.OpEq, Value: v}
				got, err := txn.Query(collection, types.Query{Predicates: []types.Predicate{pred}})
				if err != nil {
					return err
				}
				want := query.Filter(all, []types.Predicate{pred.Normalized()})
				if !sameKeys(c, got, want) {
					t.Errorf("%s.%s = %v: index returned %d records, scan found %d",
						collection, idx.Field, v, len(got), len(want))
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("checking indexes of %s: %v", collection, err)
	}
}

func distinctValues(recs []types.Record, field string) []any {
	seen := make(map[any]bool)
	var out []any
	for _, rec := range recs {
		v, ok := rec.Lookup(field)
		if !ok || !types.IsScalar(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func sameKeys(c types.CollectionSchema, a, b []types.Record) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(recs []types.Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = toString(r[c.PrimaryKey])
		}
		sort.Strings(out)
		return out
	}
	ka, kb := key(a), key(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return "s:" + val
	case float64:
		return "n:" + strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return "?"
	}
}
