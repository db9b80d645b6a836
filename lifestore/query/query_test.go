package query

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/lifestore/lifestore/keys"
	"github.com/arthur-debert/lifestore/types"
)

// memSource serves records held in primary key order
type memSource struct {
	schema  types.CollectionSchema
	records []types.Record
	scanned string // "all" or the index field of the last scan
}

func (m *memSource) Schema(collection string) (types.CollectionSchema, error) {
	if collection != m.schema.Name {
		return types.CollectionSchema{}, fmt.Errorf("%w: %s", types.ErrUnknownCollection, collection)
	}
	return m.schema, nil
}

func (m *memSource) ScanAll(string) ([]types.Record, error) {
	m.scanned = "all"
	return append([]types.Record(nil), m.records...), nil
}

func (m *memSource) ScanIndex(_, field string, ranges []keys.Range) ([]types.Record, error) {
	m.scanned = field
	var out []types.Record
	for _, rec := range m.records {
		v, ok := rec.Lookup(field)
		if !ok || !types.IsScalar(v) {
			continue
		}
		enc, err := keys.Encode(v)
		if err != nil {
			return nil, err
		}
		pk, err := keys.Encode(rec[m.schema.PrimaryKey])
		if err != nil {
			return nil, err
		}
		entry := append(enc, pk...)
		for _, r := range ranges {
			start, end, empty, err := r.Bytes(nil)
			if err != nil {
				return nil, err
			}
			if !empty && bytes.Compare(entry, start) >= 0 && bytes.Compare(entry, end) < 0 {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func payments() *memSource {
	return &memSource{
		schema: types.CollectionSchema{
			Name:       "transactions",
			PrimaryKey: "id",
			Indexes: []types.IndexSchema{
				{Field: "status", Cardinality: 4},
				{Field: "platform", Cardinality: 3},
				{Field: "ref", Unique: true},
				{Field: "amount"},
			},
		},
		records: []types.Record{
			{"id": "a", "amount": 100.0, "status": "completed", "platform": "venmo", "note": "Dinner at Luigi's"},
			{"id": "b", "amount": 50.0, "status": "pending", "platform": "paypal"},
			{"id": "c", "amount": 75.0, "status": "completed", "platform": "cashapp", "ref": "X1"},
			{"id": "d", "amount": "n/a", "status": "failed", "platform": "venmo", "note": "refund"},
			{"id": "e", "status": "completed", "platform": "venmo"},
		},
	}
}

func ids(recs []types.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r["id"].(string)
	}
	return out
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		query   types.Query
		want    []string
		scanned string
	}{
		{
			name:    "empty predicates return everything in key order",
			query:   types.Query{},
			want:    []string{"a", "b", "c", "d", "e"},
			scanned: "all",
		},
		{
			name:    "equality on an index",
			query:   types.Query{Predicates: []types.Predicate{{Field: "status", Op: types.OpEq, Value: "completed"}}},
			want:    []string{"a", "c", "e"},
			scanned: "status",
		},
		{
			name: "residual predicates filter index candidates",
			query: types.Query{Predicates: []types.Predicate{
				{Field: "status", Op: types.OpEq, Value: "completed"},
				{Field: "amount", Op: types.OpGte, Value: 80},
			}},
			want:    []string{"a"},
			scanned: "status",
		},
		{
			name:    "range never crosses kinds",
			query:   types.Query{Predicates: []types.Predicate{{Field: "amount", Op: types.OpGt, Value: 0}}},
			want:    []string{"a", "b", "c"},
			scanned: "amount",
		},
		{
			name:    "membership",
			query:   types.Query{Predicates: []types.Predicate{{Field: "platform", Op: types.OpIn, Values: []any{"paypal", "cashapp"}}}},
			want:    []string{"b", "c"},
			scanned: "platform",
		},
		{
			name:    "between is inclusive",
			query:   types.Query{Predicates: []types.Predicate{{Field: "amount", Op: types.OpBetween, Value: 50, Upper: 75}}},
			want:    []string{"b", "c"},
			scanned: "amount",
		},
		{
			name:    "primary key range",
			query:   types.Query{Predicates: []types.Predicate{{Field: "id", Op: types.OpLt, Value: "c"}}},
			want:    []string{"a", "b"},
			scanned: "id",
		},
		{
			name:    "contains scans and folds case",
			query:   types.Query{Predicates: []types.Predicate{{Field: "note", Op: types.OpContains, Value: "LUIGI"}}},
			want:    []string{"a"},
			scanned: "all",
		},
		{
			name:    "unknown field filters everything out",
			query:   types.Query{Predicates: []types.Predicate{{Field: "nope", Op: types.OpEq, Value: 1}}},
			want:    []string{},
			scanned: "all",
		},
		{
			name:    "cross-kind equality never matches",
			query:   types.Query{Predicates: []types.Predicate{{Field: "amount", Op: types.OpEq, Value: "100"}}},
			want:    []string{},
			scanned: "amount",
		},
		{
			name: "sort descending with missing values last",
			query: types.Query{
				Predicates: []types.Predicate{{Field: "status", Op: types.OpEq, Value: "completed"}},
				Sort:       []types.SortClause{{Field: "amount", Descending: true}},
			},
			want:    []string{"a", "c", "e"},
			scanned: "status",
		},
		{
			name: "multi-clause sort with paging",
			query: types.Query{
				Sort:   []types.SortClause{{Field: "platform"}, {Field: "id", Descending: true}},
				Offset: 1,
				Limit:  3,
			},
			want:    []string{"b", "e", "d"},
			scanned: "all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := payments()
			got, err := Run(src, "transactions", tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
			assert.Equal(t, tt.scanned, src.scanned)
		})
	}

	t.Run("invalid predicate", func(t *testing.T) {
		_, err := Run(payments(), "transactions", types.Query{Predicates: []types.Predicate{{Field: "x", Op: "like"}}})
		assert.ErrorIs(t, err, types.ErrInvalidQuery)
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := Run(payments(), "nope", types.Query{})
		assert.ErrorIs(t, err, types.ErrUnknownCollection)
	})
}

func TestNewPlan(t *testing.T) {
	schema := payments().schema

	plan := func(preds ...types.Predicate) Plan {
		p, err := NewPlan(schema, preds)
		require.NoError(t, err)
		return p
	}
	eq := func(field string, v any) types.Predicate {
		return types.Predicate{Field: field, Op: types.OpEq, Value: v}
	}

	t.Run("unique index wins over equality", func(t *testing.T) {
		p := plan(eq("status", "completed"), types.Predicate{Field: "ref", Op: types.OpGt, Value: "A"})
		assert.Equal(t, "ref", p.Field)
		assert.True(t, p.Unique)
	})

	t.Run("primary key counts as unique", func(t *testing.T) {
		assert.Equal(t, "id", plan(eq("status", "completed"), eq("id", "a")).Field)
	})

	t.Run("equality beats membership beats range", func(t *testing.T) {
		p := plan(
			types.Predicate{Field: "amount", Op: types.OpGt, Value: 1},
			types.Predicate{Field: "status", Op: types.OpIn, Values: []any{"pending"}},
			eq("platform", "venmo"),
		)
		assert.Equal(t, "platform", p.Field)
	})

	t.Run("higher cardinality hint wins", func(t *testing.T) {
		assert.Equal(t, "status", plan(eq("platform", "venmo"), eq("status", "failed")).Field)
	})

	t.Run("declaration order breaks remaining ties", func(t *testing.T) {
		s := types.CollectionSchema{Name: "c", PrimaryKey: "id", Indexes: []types.IndexSchema{{Field: "x"}, {Field: "y"}}}
		p, err := NewPlan(s, []types.Predicate{eq("y", 1), eq("x", 1)})
		require.NoError(t, err)
		assert.Equal(t, "x", p.Field)
	})

	t.Run("explain", func(t *testing.T) {
		assert.Equal(t, "full scan transactions", plan().Explain())
		assert.Equal(t,
			"index scan transactions.status (status eq completed) filter [status eq completed AND note contains x]",
			plan(eq("status", "completed"), types.Predicate{Field: "note", Op: types.OpContains, Value: "x"}).Explain())
	})
}

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		in   string
		want types.Predicate
	}{
		{"status=pending", types.Predicate{Field: "status", Op: types.OpEq, Value: "pending"}},
		{"amount>=10", types.Predicate{Field: "amount", Op: types.OpGte, Value: 10.0}},
		{"amount > 10", types.Predicate{Field: "amount", Op: types.OpGt, Value: 10.0}},
		{"amount<5.5", types.Predicate{Field: "amount", Op: types.OpLt, Value: 5.5}},
		{"amount<=0", types.Predicate{Field: "amount", Op: types.OpLte, Value: 0.0}},
		{"checked=true", types.Predicate{Field: "checked", Op: types.OpEq, Value: true}},
		{`code="10"`, types.Predicate{Field: "code", Op: types.OpEq, Value: "10"}},
		{"status=pending|failed", types.Predicate{Field: "status", Op: types.OpIn, Values: []any{"pending", "failed"}}},
		{"amount=10..20", types.Predicate{Field: "amount", Op: types.OpBetween, Value: 10.0, Upper: 20.0}},
		{"name~pasta", types.Predicate{Field: "name", Op: types.OpContains, Value: "pasta"}},
		{"note=a>b", types.Predicate{Field: "note", Op: types.OpEq, Value: "a>b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePredicate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "status", "=x", ">=3"} {
		_, err := ParsePredicate(bad)
		assert.ErrorIs(t, err, types.ErrInvalidQuery, bad)
	}
}

func TestParseSort(t *testing.T) {
	c, err := ParseSort("-amount")
	require.NoError(t, err)
	assert.Equal(t, types.SortClause{Field: "amount", Descending: true}, c)

	c, err = ParseSort("+date")
	require.NoError(t, err)
	assert.Equal(t, types.SortClause{Field: "date"}, c)

	_, err = ParseSort("-")
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}
