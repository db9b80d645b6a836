package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/lifestore/lifestore/query"
	"github.com/arthur-debert/lifestore/testutil"
	"github.com/arthur-debert/lifestore/types"
)

// mockProvider serves fixed records, filtered like a collection would be
type mockProvider struct {
	records []types.Record
	err     error
	calls   int
}

func (m *mockProvider) Records(_ context.Context, predicates []types.Predicate) ([]types.Record, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	norm := make([]types.Predicate, len(predicates))
	for i, p := range predicates {
		norm[i] = p.Normalized()
	}
	return query.Filter(m.records, norm), nil
}

func sampleRecipes() []types.Record {
	return []types.Record{
		{"id": "r-1", "name": "Pasta Carbonara", "cuisine": "italian",
			"tags":        []any{"pasta", "quick"},
			"ingredients": []any{map[string]any{"name": "pasta"}, map[string]any{"name": "eggs"}}},
		{"id": "r-2", "name": "Green Curry", "cuisine": "thai", "description": "Spicy coconut curry",
			"ingredients": []any{map[string]any{"name": "basil"}, map[string]any{"name": "coconut milk"}}},
		{"id": "r-3", "name": "Baked pasta", "cuisine": "italian", "tags": []any{"oven"}},
		{"id": "r-4", "name": "PASTA salad", "cuisine": "italian"},
		{"id": "r-5", "name": "Rice bowl", "cuisine": "japanese", "description": "goes well with curry"},
	}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i], _ = r.Record["id"].(string)
	}
	return out
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(&mockProvider{records: sampleRecipes()})

	t.Run("primary field ranks first", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "curry", Fields: []string{"name", "description"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"r-2", "r-5"}, ids(results))
		assert.InDelta(t, 0.8, results[0].Score, 1e-9)
		assert.Equal(t, MatchPartialPrimary, results[0].MatchType)
		assert.Equal(t, []string{"name", "description"}, results[0].MatchedFields)
		assert.InDelta(t, 0.7, results[1].Score, 1e-9)
		assert.Equal(t, MatchPartial, results[1].MatchType)
	})

	t.Run("exact match", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "green curry", ExactMatch: true, Fields: []string{"name"}}, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 1.0, results[0].Score)
		assert.Equal(t, MatchExactPrimary, results[0].MatchType)
	})

	t.Run("case sensitive", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "Pasta", CaseSensitive: true, Fields: []string{"name"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"r-1"}, ids(results))

		results, err = engine.Search(ctx, Options{Query: "Pasta", Fields: []string{"name"}}, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"r-1", "r-3", "r-4"}, ids(results))
	})

	t.Run("paths fan out over arrays", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "basil", Fields: []string{"ingredients.name"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"r-2"}, ids(results))
		assert.Equal(t, []string{"ingredients.name"}, results[0].MatchedFields)
	})

	t.Run("every string field by default", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "coconut"}, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, []string{"description", "ingredients.name"}, results[0].MatchedFields)
	})

	t.Run("highlights", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "pasta", Fields: []string{"name"}, Highlight: true}, nil)
		require.NoError(t, err)
		got := map[string]string{}
		for _, r := range results {
			got[r.Record["id"].(string)] = r.Highlights["name"]
		}
		assert.Equal(t, "**Pasta** Carbonara", got["r-1"])
		assert.Equal(t, "Baked **pasta**", got["r-3"])
		assert.Equal(t, "**PASTA** salad", got["r-4"])

		results, err = engine.Search(ctx, Options{Query: "eggs", Fields: []string{"ingredients.name"},
			Highlight: true, StartMarker: "<", EndMarker: ">"}, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "pasta, <eggs>", results[0].Highlights["ingredients.name"])
	})

	t.Run("predicates narrow candidates", func(t *testing.T) {
		pred := types.Predicate{Field: "cuisine", Op: types.OpEq, Value: "italian"}
		results, err := engine.Search(ctx, Options{Query: "a", Fields: []string{"name"}}, []types.Predicate{pred})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"r-1", "r-3", "r-4"}, ids(results))
	})

	t.Run("max results", func(t *testing.T) {
		results, err := engine.Search(ctx, Options{Query: "a", MaxResults: 2}, nil)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestSearchEdgeCases(t *testing.T) {
	ctx := context.Background()

	t.Run("empty query reads nothing", func(t *testing.T) {
		provider := &mockProvider{records: sampleRecipes()}
		results, err := NewEngine(provider).Search(ctx, Options{}, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Zero(t, provider.calls)
	})

	t.Run("provider error", func(t *testing.T) {
		boom := errors.New("disk gone")
		_, err := NewEngine(&mockProvider{err: boom}).Search(ctx, Options{Query: "pasta"}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to get records")
	})

	t.Run("no match", func(t *testing.T) {
		results, err := NewEngine(&mockProvider{records: sampleRecipes()}).Search(ctx, Options{Query: "sushi"}, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestCollectionSearch(t *testing.T) {
	h := testutil.OpenDomain(t, "food")
	testutil.LoadUniverse(t, h)
	ctx := context.Background()

	results, err := Collection(ctx, h, "recipes", Options{Query: "oats", Fields: []string{"name"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-3"}, ids(results))

	thai := types.Predicate{Field: "cuisine", Op: types.OpEq, Value: "thai"}
	results, err = Collection(ctx, h, "recipes", Options{Query: "r"}, []types.Predicate{thai})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-2"}, ids(results))

	_, err = Collection(ctx, h, "cellar", Options{Query: "wine"}, nil)
	assert.ErrorIs(t, err, types.ErrUnknownCollection)
}
