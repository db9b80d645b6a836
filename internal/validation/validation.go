package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/arthur-debert/lifestore/types"
)

// ValidateName checks a domain, collection or field name. Names become part
// of engine keys, where NUL separates components.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name cannot be empty", types.ErrInvalidSchema, kind)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %s name %q contains NUL", types.ErrInvalidSchema, kind, name)
	}
	return nil
}

// ValidateCollection checks one collection declaration
func ValidateCollection(c types.CollectionSchema) error {
	if err := ValidateName("collection", c.Name); err != nil {
		return err
	}
	if err := ValidateName("primary key", c.PrimaryKey); err != nil {
		return fmt.Errorf("collection %s: %w", c.Name, err)
	}
	switch c.KeyType {
	case types.FieldAny, types.FieldString, types.FieldNumber:
	default:
		return fmt.Errorf("%w: collection %s: invalid key type %q", types.ErrInvalidSchema, c.Name, c.KeyType)
	}
	if c.AutoKey && c.KeyType == types.FieldNumber {
		return fmt.Errorf("%w: collection %s: generated keys are strings", types.ErrInvalidSchema, c.Name)
	}

	seen := make(map[string]bool)
	for _, idx := range c.Indexes {
		if err := ValidateIndex(c, idx); err != nil {
			return err
		}
		if seen[idx.Field] {
			return fmt.Errorf("%w: collection %s: duplicate index on %s", types.ErrInvalidSchema, c.Name, idx.Field)
		}
		seen[idx.Field] = true
	}
	return nil
}

// ValidateIndex checks an index declaration against its collection
func ValidateIndex(c types.CollectionSchema, idx types.IndexSchema) error {
	if err := ValidateName("index field", idx.Field); err != nil {
		return fmt.Errorf("collection %s: %w", c.Name, err)
	}
	if idx.Field == c.PrimaryKey {
		return fmt.Errorf("%w: collection %s: primary key %s is always indexed", types.ErrInvalidSchema, c.Name, idx.Field)
	}
	switch idx.Type {
	case types.FieldAny, types.FieldString, types.FieldNumber, types.FieldBool:
	default:
		return fmt.Errorf("%w: collection %s: index %s has invalid type %q", types.ErrInvalidSchema, c.Name, idx.Field, idx.Type)
	}
	if idx.Cardinality < 0 {
		return fmt.Errorf("%w: collection %s: index %s has negative cardinality", types.ErrInvalidSchema, c.Name, idx.Field)
	}
	return nil
}

// ValidateDelta checks that version v applies cleanly on top of the
// collections declared so far. It does not modify current.
func ValidateDelta(current map[string]types.CollectionSchema, v types.Version) error {
	next := make(map[string]types.CollectionSchema, len(current))
	for name, c := range current {
		next[name] = c.Clone()
	}

	for _, c := range v.Collections {
		if err := ValidateCollection(c); err != nil {
			return fmt.Errorf("version %d: %w", v.Number, err)
		}
		if _, exists := next[c.Name]; exists {
			return fmt.Errorf("%w: version %d: collection %s already exists", types.ErrInvalidSchema, v.Number, c.Name)
		}
		next[c.Name] = c.Clone()
	}

	for _, d := range v.Indexes {
		c, ok := next[d.Collection]
		if !ok {
			return fmt.Errorf("%w: version %d: index on unknown collection %s", types.ErrInvalidSchema, v.Number, d.Collection)
		}
		if err := ValidateIndex(c, d.Index); err != nil {
			return fmt.Errorf("version %d: %w", v.Number, err)
		}
		if _, exists := c.Index(d.Index.Field); exists {
			return fmt.Errorf("%w: version %d: %s.%s is already indexed", types.ErrInvalidSchema, v.Number, d.Collection, d.Index.Field)
		}
		c.Indexes = append(c.Indexes, d.Index)
		next[d.Collection] = c
	}

	for _, d := range v.DropIndexes {
		c, ok := next[d.Collection]
		if !ok {
			return fmt.Errorf("%w: version %d: dropping index on unknown collection %s", types.ErrInvalidSchema, v.Number, d.Collection)
		}
		if _, exists := c.Index(d.Index.Field); !exists {
			return fmt.Errorf("%w: version %d: %s.%s is not indexed", types.ErrInvalidSchema, v.Number, d.Collection, d.Index.Field)
		}
	}

	for _, m := range v.Migrations {
		c, ok := next[m.Collection]
		if !ok {
			return fmt.Errorf("%w: version %d: migration on unknown collection %s", types.ErrInvalidSchema, v.Number, m.Collection)
		}
		if err := ValidateMigration(c, m); err != nil {
			return fmt.Errorf("version %d: %w", v.Number, err)
		}
	}

	for _, name := range v.DropCollections {
		if _, ok := next[name]; !ok {
			return fmt.Errorf("%w: version %d: dropping unknown collection %s", types.ErrInvalidSchema, v.Number, name)
		}
	}
	return nil
}

// ValidateMigration checks a field migration against its collection
func ValidateMigration(c types.CollectionSchema, m types.FieldMigration) error {
	if err := ValidateName("migration field", m.Field); err != nil {
		return fmt.Errorf("collection %s: %w", c.Name, err)
	}
	if m.Field == c.PrimaryKey {
		return fmt.Errorf("%w: collection %s: cannot migrate primary key %s", types.ErrInvalidSchema, c.Name, m.Field)
	}
	switch m.Op {
	case types.MigrationAdd, types.MigrationRemove:
	case types.MigrationRename:
		if err := ValidateName("new field", m.NewName); err != nil {
			return fmt.Errorf("collection %s: rename %s: %w", c.Name, m.Field, err)
		}
		if m.NewName == c.PrimaryKey {
			return fmt.Errorf("%w: collection %s: cannot rename onto primary key %s", types.ErrInvalidSchema, c.Name, m.NewName)
		}
	case types.MigrationTransform:
		if m.Transformer == "" {
			return fmt.Errorf("%w: collection %s: transform %s needs a transformer", types.ErrInvalidSchema, c.Name, m.Field)
		}
	default:
		return fmt.Errorf("%w: collection %s: unknown migration op %q", types.ErrInvalidSchema, c.Name, m.Op)
	}
	return nil
}

// ValidateKeyValue checks a primary key value taken from a record
func ValidateKeyValue(c types.CollectionSchema, v any) error {
	switch val := types.NormalizeValue(v).(type) {
	case string:
		if val == "" {
			return fmt.Errorf("%w: %s.%s cannot be empty", types.ErrInvalidRecord, c.Name, c.PrimaryKey)
		}
		if !utf8.ValidString(val) {
			return fmt.Errorf("%w: %s.%s is not valid UTF-8", types.ErrInvalidRecord, c.Name, c.PrimaryKey)
		}
	case float64:
	case nil:
		return fmt.Errorf("%w: %s.%s is required", types.ErrInvalidRecord, c.Name, c.PrimaryKey)
	default:
		return fmt.Errorf("%w: %s.%s must be a string or number, got %T", types.ErrInvalidRecord, c.Name, c.PrimaryKey, v)
	}
	if !c.KeyType.Accepts(v) {
		return fmt.Errorf("%w: %s.%s must be a %s", types.ErrInvalidRecord, c.Name, c.PrimaryKey, c.KeyType)
	}
	return nil
}

// ValidateIndexedValues checks the values of typed indexes. Missing and
// null values are accepted; they simply stay out of the index.
func ValidateIndexedValues(c types.CollectionSchema, rec types.Record) error {
	for _, idx := range c.Indexes {
		v, ok := rec.Lookup(idx.Field)
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && !utf8.ValidString(s) {
			return fmt.Errorf("%w: %s.%s is not valid UTF-8", types.ErrInvalidRecord, c.Name, idx.Field)
		}
		if idx.Type == types.FieldAny {
			continue
		}
		if !idx.Type.Accepts(v) {
			return fmt.Errorf("%w: %s.%s must be a %s, got %T", types.ErrInvalidRecord, c.Name, idx.Field, idx.Type, v)
		}
	}
	return nil
}
