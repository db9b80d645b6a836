package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/lifestore/types"
)

func records() []types.Record {
	return []types.Record{
		{"id": "r1", "name": " Pasta ", "servings": "4", "nutrition": map[string]any{"kcal": 500.0}},
		{"id": "r2", "name": "SALAD", "servings": 2.0},
		{"id": "r3", "cuisine": "thai"},
	}
}

func TestAddField(t *testing.T) {
	t.Run("adds default only where missing", func(t *testing.T) {
		recs := records()
		recs[1]["isFavorite"] = true
		cmd, err := New(types.FieldMigration{Op: types.MigrationAdd, Field: "isFavorite", Default: false})
		require.NoError(t, err)

		stats, err := Run(cmd, recs)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalDocs)
		assert.Equal(t, 2, stats.ModifiedDocs)
		assert.Equal(t, 1, stats.SkippedDocs)
		assert.Equal(t, false, recs[0]["isFavorite"])
		assert.Equal(t, true, recs[1]["isFavorite"])
	})

	t.Run("normalizes numeric defaults", func(t *testing.T) {
		recs := records()
		cmd, err := New(types.FieldMigration{Op: types.MigrationAdd, Field: "nutrition.protein", Default: 0})
		require.NoError(t, err)
		_, err = Run(cmd, recs)
		require.NoError(t, err)

		v, ok := recs[0].Lookup("nutrition.protein")
		require.True(t, ok)
		assert.Equal(t, 0.0, v)
		assert.Equal(t, 500.0, recs[0]["nutrition"].(map[string]any)["kcal"])
	})
}

func TestRenameField(t *testing.T) {
	t.Run("moves value to the new name", func(t *testing.T) {
		recs := records()
		cmd, err := New(types.FieldMigration{Op: types.MigrationRename, Field: "name", NewName: "title"})
		require.NoError(t, err)

		stats, err := Run(cmd, recs)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.ModifiedDocs)
		assert.Equal(t, " Pasta ", recs[0]["title"])
		assert.NotContains(t, recs[0], "name")
		assert.NotContains(t, recs[2], "title")
	})

	t.Run("refuses to overwrite an existing field", func(t *testing.T) {
		recs := records()
		recs[0]["title"] = "taken"
		cmd, err := New(types.FieldMigration{Op: types.MigrationRename, Field: "name", NewName: "title"})
		require.NoError(t, err)
		_, err = Run(cmd, recs)
		assert.Error(t, err)
	})
}

func TestRemoveField(t *testing.T) {
	recs := records()
	cmd, err := New(types.FieldMigration{Op: types.MigrationRemove, Field: "nutrition.kcal"})
	require.NoError(t, err)
	stats, err := Run(cmd, recs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ModifiedDocs)
	assert.Empty(t, recs[0]["nutrition"])
}

func TestTransformField(t *testing.T) {
	t.Run("transform string to number", func(t *testing.T) {
		recs := records()
		cmd, err := New(types.FieldMigration{Op: types.MigrationTransform, Field: "servings", Transformer: "toInt"})
		require.NoError(t, err)
		stats, err := Run(cmd, recs)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.ModifiedDocs)
		assert.Equal(t, 4.0, recs[0]["servings"])
		assert.Equal(t, 2.0, recs[1]["servings"])
	})

	t.Run("failing value aborts the run", func(t *testing.T) {
		recs := records()
		cmd, err := New(types.FieldMigration{Op: types.MigrationTransform, Field: "name", Transformer: "toFloat"})
		require.NoError(t, err)
		_, err = Run(cmd, recs)
		assert.Error(t, err)
	})

	t.Run("unknown transformer", func(t *testing.T) {
		_, err := New(types.FieldMigration{Op: types.MigrationTransform, Field: "name", Transformer: "reverse"})
		assert.ErrorIs(t, err, types.ErrInvalidSchema)
	})
}

func TestTransformers(t *testing.T) {
	tests := []struct {
		name    string
		fn      Transformer
		in      any
		want    any
		wantErr bool
	}{
		{"toString number", ToString, 2.5, "2.5", false},
		{"toString whole number", ToString, 3.0, "3", false},
		{"toString nil", ToString, nil, "", false},
		{"toInt truncates", ToInt, 3.9, 3.0, false},
		{"toInt string", ToInt, " 12 ", 12.0, false},
		{"toFloat bool", ToFloat, true, 1.0, false},
		{"toFloat garbage", ToFloat, "abc", nil, true},
		{"toBool yes", ToBool, "Yes", true, false},
		{"toBool number", ToBool, 0.0, false, false},
		{"toBool garbage", ToBool, "maybe", nil, true},
		{"toLowerCase", ToLowerCase, "MiXed", "mixed", false},
		{"toUpperCase", ToUpperCase, "mixed", "MIXED", false},
		{"toUpperCase full case mapping", ToUpperCase, "straße", "STRASSE", false},
		{"trim", Trim, "  x ", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, HasTransformer("trim"))
	assert.False(t, HasTransformer("reverse"))
	assert.Equal(t, "toBool", TransformerNames()[0])
}
