package types

// FieldType optionally constrains the kind of a primary key or indexed field
type FieldType string

const (
	// FieldAny accepts any scalar kind
	FieldAny FieldType = ""
	// FieldString requires string values
	FieldString FieldType = "string"
	// FieldNumber requires numeric values
	FieldNumber FieldType = "number"
	// FieldBool requires boolean values
	FieldBool FieldType = "bool"
)

// Accepts reports whether the (normalized) value matches the field type.
func (ft FieldType) Accepts(v any) bool {
	switch ft {
	case FieldAny:
		return true
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldNumber:
		_, ok := NormalizeValue(v).(float64)
		return ok
	case FieldBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// IndexSchema declares a secondary index over one record field
type IndexSchema struct {
	// Field is the indexed field name or dotted path
	Field string `json:"field" yaml:"field"`

	// Unique rejects two records sharing the same indexed value
	Unique bool `json:"unique,omitempty" yaml:"unique,omitempty"`

	// Type optionally constrains the indexed values
	Type FieldType `json:"type,omitempty" yaml:"type,omitempty"`

	// Cardinality is a planner hint: the expected number of distinct
	// values. Zero means unknown.
	Cardinality int `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
}

// CollectionSchema declares a collection: its primary key and indexes
type CollectionSchema struct {
	Name       string        `json:"name" yaml:"name"`
	PrimaryKey string        `json:"primaryKey" yaml:"primaryKey"`
	KeyType    FieldType     `json:"keyType,omitempty" yaml:"keyType,omitempty"`
	AutoKey    bool          `json:"autoKey,omitempty" yaml:"autoKey,omitempty"`
	Indexes    []IndexSchema `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Index returns the index declared on field, if any
func (c CollectionSchema) Index(field string) (IndexSchema, bool) {
	for _, idx := range c.Indexes {
		if idx.Field == field {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

// Clone returns a copy that does not share the index slice
func (c CollectionSchema) Clone() CollectionSchema {
	out := c
	out.Indexes = append([]IndexSchema(nil), c.Indexes...)
	return out
}

// Equal reports whether two declarations are identical, index order included
func (c CollectionSchema) Equal(other CollectionSchema) bool {
	if c.Name != other.Name || c.PrimaryKey != other.PrimaryKey ||
		c.KeyType != other.KeyType || c.AutoKey != other.AutoKey ||
		len(c.Indexes) != len(other.Indexes) {
		return false
	}
	for i := range c.Indexes {
		if c.Indexes[i] != other.Indexes[i] {
			return false
		}
	}
	return true
}

// IndexDelta adds or drops one index on an existing collection
type IndexDelta struct {
	Collection string      `json:"collection" yaml:"collection"`
	Index      IndexSchema `json:"index" yaml:"index"`
}

// MigrationOp names a field-level record migration
type MigrationOp string

const (
	MigrationAdd       MigrationOp = "add"
	MigrationRename    MigrationOp = "rename"
	MigrationRemove    MigrationOp = "remove"
	MigrationTransform MigrationOp = "transform"
)

// FieldMigration rewrites one field across every record of a collection
type FieldMigration struct {
	Collection  string      `json:"collection" yaml:"collection"`
	Op          MigrationOp `json:"op" yaml:"op"`
	Field       string      `json:"field" yaml:"field"`
	NewName     string      `json:"newName,omitempty" yaml:"newName,omitempty"`
	Default     any         `json:"default,omitempty" yaml:"default,omitempty"`
	Transformer string      `json:"transformer,omitempty" yaml:"transformer,omitempty"`
}

// Version is one schema version of a domain and the delta it applies
// over the previous version. Deltas run in declaration order:
// collections, indexes, dropped indexes, migrations, dropped collections.
type Version struct {
	Number          int                `json:"version" yaml:"version"`
	Collections     []CollectionSchema `json:"collections,omitempty" yaml:"collections,omitempty"`
	Indexes         []IndexDelta       `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	DropIndexes     []IndexDelta       `json:"dropIndexes,omitempty" yaml:"dropIndexes,omitempty"`
	Migrations      []FieldMigration   `json:"migrations,omitempty" yaml:"migrations,omitempty"`
	DropCollections []string           `json:"dropCollections,omitempty" yaml:"dropCollections,omitempty"`
}
