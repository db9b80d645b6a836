package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/lifestore/types"
)

func pantry() types.CollectionSchema {
	return types.CollectionSchema{
		Name:       "pantry",
		PrimaryKey: "id",
		Indexes: []types.IndexSchema{
			{Field: "category"},
			{Field: "expirationDate", Type: types.FieldString},
		},
	}
}

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *types.CollectionSchema)
		wantErr bool
	}{
		{name: "valid collection", mutate: func(c *types.CollectionSchema) {}},
		{name: "empty name", mutate: func(c *types.CollectionSchema) { c.Name = "" }, wantErr: true},
		{name: "NUL in name", mutate: func(c *types.CollectionSchema) { c.Name = "pan\x00try" }, wantErr: true},
		{name: "missing primary key", mutate: func(c *types.CollectionSchema) { c.PrimaryKey = " " }, wantErr: true},
		{name: "bool key type", mutate: func(c *types.CollectionSchema) { c.KeyType = types.FieldBool }, wantErr: true},
		{
			name: "numeric generated keys",
			mutate: func(c *types.CollectionSchema) {
				c.AutoKey = true
				c.KeyType = types.FieldNumber
			},
			wantErr: true,
		},
		{
			name:    "duplicate index",
			mutate:  func(c *types.CollectionSchema) { c.Indexes = append(c.Indexes, types.IndexSchema{Field: "category"}) },
			wantErr: true,
		},
		{
			name:    "index on primary key",
			mutate:  func(c *types.CollectionSchema) { c.Indexes = append(c.Indexes, types.IndexSchema{Field: "id"}) },
			wantErr: true,
		},
		{
			name:    "negative cardinality",
			mutate:  func(c *types.CollectionSchema) { c.Indexes[0].Cardinality = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := pantry()
			tt.mutate(&c)
			err := ValidateCollection(c)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidSchema)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateDelta(t *testing.T) {
	current := map[string]types.CollectionSchema{"pantry": pantry()}

	t.Run("adds index to existing collection", func(t *testing.T) {
		err := ValidateDelta(current, types.Version{
			Number:  2,
			Indexes: []types.IndexDelta{{Collection: "pantry", Index: types.IndexSchema{Field: "location"}}},
		})
		require.NoError(t, err)
		_, ok := current["pantry"].Index("location")
		assert.False(t, ok, "current must not be modified")
	})

	t.Run("index on collection created in the same version", func(t *testing.T) {
		err := ValidateDelta(current, types.Version{
			Number:      2,
			Collections: []types.CollectionSchema{{Name: "recipes", PrimaryKey: "id"}},
			Indexes:     []types.IndexDelta{{Collection: "recipes", Index: types.IndexSchema{Field: "cuisine"}}},
		})
		assert.NoError(t, err)
	})

	tests := []struct {
		name string
		v    types.Version
	}{
		{"existing collection", types.Version{Collections: []types.CollectionSchema{pantry()}}},
		{"index on unknown collection", types.Version{Indexes: []types.IndexDelta{{Collection: "x", Index: types.IndexSchema{Field: "a"}}}}},
		{"index already present", types.Version{Indexes: []types.IndexDelta{{Collection: "pantry", Index: types.IndexSchema{Field: "category"}}}}},
		{"drop missing index", types.Version{DropIndexes: []types.IndexDelta{{Collection: "pantry", Index: types.IndexSchema{Field: "location"}}}}},
		{"drop unknown collection", types.Version{DropCollections: []string{"recipes"}}},
		{"migrate primary key", types.Version{Migrations: []types.FieldMigration{{Collection: "pantry", Op: types.MigrationRemove, Field: "id"}}}},
		{"rename without target", types.Version{Migrations: []types.FieldMigration{{Collection: "pantry", Op: types.MigrationRename, Field: "qty"}}}},
		{"transform without transformer", types.Version{Migrations: []types.FieldMigration{{Collection: "pantry", Op: types.MigrationTransform, Field: "qty"}}}},
		{"unknown op", types.Version{Migrations: []types.FieldMigration{{Collection: "pantry", Op: "merge", Field: "qty"}}}},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateDelta(current, tt.v), types.ErrInvalidSchema)
		})
	}
}

func TestValidateKeyValue(t *testing.T) {
	c := pantry()
	assert.NoError(t, ValidateKeyValue(c, "a"))
	assert.NoError(t, ValidateKeyValue(c, 42))
	assert.ErrorIs(t, ValidateKeyValue(c, ""), types.ErrInvalidRecord)
	assert.ErrorIs(t, ValidateKeyValue(c, nil), types.ErrInvalidRecord)
	assert.ErrorIs(t, ValidateKeyValue(c, true), types.ErrInvalidRecord)
	assert.ErrorIs(t, ValidateKeyValue(c, map[string]any{}), types.ErrInvalidRecord)
	assert.ErrorIs(t, ValidateKeyValue(c, "a\xff"), types.ErrInvalidRecord)

	c.KeyType = types.FieldString
	assert.ErrorIs(t, ValidateKeyValue(c, 42), types.ErrInvalidRecord)
}

func TestValidateIndexedValues(t *testing.T) {
	c := pantry()
	assert.NoError(t, ValidateIndexedValues(c, types.Record{"id": "a", "expirationDate": "2026-01-01"}))
	assert.NoError(t, ValidateIndexedValues(c, types.Record{"id": "a"}))
	assert.NoError(t, ValidateIndexedValues(c, types.Record{"id": "a", "expirationDate": nil}))
	assert.NoError(t, ValidateIndexedValues(c, types.Record{"id": "a", "category": 12.0}), "untyped index takes any kind")

	err := ValidateIndexedValues(c, types.Record{"id": "a", "expirationDate": 20260101.0})
	assert.ErrorIs(t, err, types.ErrInvalidRecord)
	err = ValidateIndexedValues(c, types.Record{"id": "a", "expirationDate": []any{"x"}})
	assert.ErrorIs(t, err, types.ErrInvalidRecord)
	err = ValidateIndexedValues(c, types.Record{"id": "a", "category": "d\xfe"})
	assert.ErrorIs(t, err, types.ErrInvalidRecord)
}
