// Package migration rewrites record fields while a domain is upgraded to a
// new schema version. Each FieldMigration of a version becomes a Command
// applied to every record of its collection inside the upgrade transaction.
package migration

import (
	"fmt"
	"time"

	"github.com/arthur-debert/lifestore/types"
)

// Command applies one field-level migration to a record
type Command interface {
	// Description returns a human-readable description of the command
	Description() string

	// Apply rewrites rec in place and reports whether it changed
	Apply(rec types.Record) (bool, error)
}

// Stats counts the records a command visited
type Stats struct {
	TotalDocs    int
	ModifiedDocs int
	SkippedDocs  int
	Duration     time.Duration
}

// New builds the command for a declared migration
func New(m types.FieldMigration) (Command, error) {
	switch m.Op {
	case types.MigrationAdd:
		return &AddField{FieldName: m.Field, DefaultValue: m.Default}, nil
	case types.MigrationRename:
		return &RenameField{OldName: m.Field, NewName: m.NewName}, nil
	case types.MigrationRemove:
		return &RemoveField{FieldName: m.Field}, nil
	case types.MigrationTransform:
		fn, ok := TransformerRegistry[m.Transformer]
		if !ok {
			return nil, fmt.Errorf("%w: unknown transformer %q", types.ErrInvalidSchema, m.Transformer)
		}
		return &TransformField{FieldName: m.Field, TransformerName: m.Transformer, transformer: fn}, nil
	default:
		return nil, fmt.Errorf("%w: unknown migration op %q", types.ErrInvalidSchema, m.Op)
	}
}

// Run applies cmd to every record and returns the statistics. Records are
// modified in place; the first failing record stops the run.
func Run(cmd Command, records []types.Record) (Stats, error) {
	start := time.Now()
	stats := Stats{TotalDocs: len(records)}
	for _, rec := range records {
		changed, err := cmd.Apply(rec)
		if err != nil {
			return stats, fmt.Errorf("%s: %w", cmd.Description(), err)
		}
		if changed {
			stats.ModifiedDocs++
		} else {
			stats.SkippedDocs++
		}
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// AddField sets a field to a default value on records that lack it
type AddField struct {
	FieldName    string
	DefaultValue any
}

func (a *AddField) Description() string {
	return fmt.Sprintf("Add field '%s' with default value", a.FieldName)
}

func (a *AddField) Apply(rec types.Record) (bool, error) {
	if _, exists := rec.Lookup(a.FieldName); exists {
		return false, nil
	}
	rec.Set(a.FieldName, types.NormalizeValue(a.DefaultValue))
	return true, nil
}

// RenameField moves a field to a new name
type RenameField struct {
	OldName string
	NewName string
}

func (r *RenameField) Description() string {
	return fmt.Sprintf("Rename field '%s' to '%s'", r.OldName, r.NewName)
}

func (r *RenameField) Apply(rec types.Record) (bool, error) {
	val, exists := rec.Lookup(r.OldName)
	if !exists {
		return false, nil
	}
	if _, taken := rec.Lookup(r.NewName); taken {
		return false, fmt.Errorf("field '%s' already exists", r.NewName)
	}
	rec.Remove(r.OldName)
	rec.Set(r.NewName, val)
	return true, nil
}

// RemoveField deletes a field
type RemoveField struct {
	FieldName string
}

func (r *RemoveField) Description() string {
	return fmt.Sprintf("Remove field '%s'", r.FieldName)
}

func (r *RemoveField) Apply(rec types.Record) (bool, error) {
	return rec.Remove(r.FieldName), nil
}

// TransformField replaces a field value with the output of a transformer
type TransformField struct {
	FieldName       string
	TransformerName string
	transformer     Transformer
}

func (t *TransformField) Description() string {
	return fmt.Sprintf("Transform field '%s' using '%s' transformer", t.FieldName, t.TransformerName)
}

func (t *TransformField) Apply(rec types.Record) (bool, error) {
	val, exists := rec.Lookup(t.FieldName)
	if !exists {
		return false, nil
	}
	out, err := t.transformer(val)
	if err != nil {
		return false, err
	}
	rec.Set(t.FieldName, out)
	return true, nil
}
