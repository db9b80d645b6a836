package store

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/arthur-debert/lifestore/internal/validation"
	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/keys"
	"github.com/arthur-debert/lifestore/lifestore/migration"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/types"
)

// MigrationReport describes the schema versions applied by Open
type MigrationReport struct {
	From    int
	To      int
	Applied []int
}

// upgrader brings one domain store to the registry's latest version
type upgrader struct {
	domain string
	reg    *registry.Registry
	logger *slog.Logger
}

// run reads the persisted version and applies every missing delta inside
// one write transaction. Nothing is committed unless all deltas succeed.
func (u *upgrader) run(ctx context.Context, eng engine.Engine) (registry.Schema, MigrationReport, error) {
	versions, err := u.reg.Versions(u.domain)
	if err != nil {
		return registry.Schema{}, MigrationReport{}, err
	}
	latest := versions[len(versions)-1].Number

	tx, err := eng.Begin(ctx, true)
	if err != nil {
		return registry.Schema{}, MigrationReport{}, u.storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	persisted, err := readVersion(tx)
	if err != nil {
		return registry.Schema{}, MigrationReport{}, u.storageErr(err)
	}
	report := MigrationReport{From: persisted, To: persisted}
	if persisted > latest {
		return registry.Schema{}, report, fmt.Errorf("%w: %s is at version %d, latest known is %d",
			types.ErrUnsupportedSchemaVersion, u.domain, persisted, latest)
	}

	current := registry.Schema{Domain: u.domain}
	if persisted > 0 {
		if current, err = u.reg.Schema(u.domain, persisted); err != nil {
			return registry.Schema{}, report, err
		}
	}
	if err := u.checkDrift(tx, current); err != nil {
		return registry.Schema{}, report, err
	}
	if persisted == latest {
		return current, report, nil
	}

	for _, v := range versions[persisted:] {
		u.logger.Debug("applying schema version", "domain", u.domain, "version", v.Number)
		if err := u.apply(tx, current, v); err != nil {
			return registry.Schema{}, report, fmt.Errorf("upgrading %s to version %d: %w", u.domain, v.Number, err)
		}
		current = current.Apply(v)
		report.Applied = append(report.Applied, v.Number)
	}

	if _, err := deletePrefix(tx, keys.CollectionMetaPrefix()); err != nil {
		return registry.Schema{}, report, u.storageErr(err)
	}
	for _, c := range current.Collections {
		if err := writeDeclaration(tx, c); err != nil {
			return registry.Schema{}, report, u.storageErr(err)
		}
	}
	if err := tx.Set(keys.Version(), keys.EncodeVersion(latest)); err != nil {
		return registry.Schema{}, report, u.storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return registry.Schema{}, report, u.storageErr(err)
	}
	report.To = latest
	return current, report, nil
}

// checkDrift compares the persisted declarations with the registry's
// declarations for the same version.
func (u *upgrader) checkDrift(tx engine.Tx, expected registry.Schema) error {
	persisted, err := readDeclarations(tx)
	if err != nil {
		return u.storageErr(err)
	}
	if len(persisted) != len(expected.Collections) {
		return fmt.Errorf("%w: %s version %d has %d collections on disk, %d declared",
			types.ErrSchemaMismatch, u.domain, expected.Version, len(persisted), len(expected.Collections))
	}
	for _, c := range expected.Collections {
		got, ok := persisted[c.Name]
		if !ok {
			return fmt.Errorf("%w: %s: collection %s missing on disk", types.ErrSchemaMismatch, u.domain, c.Name)
		}
		if !got.Equal(c) {
			return fmt.Errorf("%w: %s: collection %s differs from its declaration", types.ErrSchemaMismatch, u.domain, c.Name)
		}
	}
	return nil
}

// apply runs one version delta: create collections, build new indexes,
// drop indexes, migrate records, drop collections.
func (u *upgrader) apply(tx engine.Tx, before registry.Schema, v types.Version) error {
	for _, c := range v.Collections {
		u.logger.Debug("creating collection", "domain", u.domain, "collection", c.Name)
	}

	// state after index changes, before collections are dropped
	mid := before.Apply(types.Version{
		Number:      v.Number,
		Collections: v.Collections,
		Indexes:     v.Indexes,
		DropIndexes: v.DropIndexes,
	})

	for _, d := range v.Indexes {
		n, err := u.buildIndex(tx, d)
		if err != nil {
			return err
		}
		u.logger.Debug("built index", "domain", u.domain, "collection", d.Collection, "field", d.Index.Field, "entries", n)
	}

	for _, d := range v.DropIndexes {
		n, err := deletePrefix(tx, keys.IndexPrefix(d.Collection, d.Index.Field))
		if err != nil {
			return u.storageErr(err)
		}
		u.logger.Debug("dropped index", "domain", u.domain, "collection", d.Collection, "field", d.Index.Field, "entries", n)
	}

	for _, m := range v.Migrations {
		c, _ := mid.Collection(m.Collection)
		stats, err := u.migrate(tx, c, m)
		if err != nil {
			return err
		}
		u.logger.Debug("migrated records", "domain", u.domain, "collection", m.Collection,
			"op", m.Op, "field", m.Field, "modified", stats.ModifiedDocs, "total", stats.TotalDocs)
	}

	for _, name := range v.DropCollections {
		if _, err := deletePrefix(tx, keys.RecordPrefix(name)); err != nil {
			return u.storageErr(err)
		}
		if _, err := deletePrefix(tx, keys.IndexCollectionPrefix(name)); err != nil {
			return u.storageErr(err)
		}
		u.logger.Debug("dropped collection", "domain", u.domain, "collection", name)
	}
	return nil
}

// buildIndex writes the entries of a new index for the existing records
func (u *upgrader) buildIndex(tx engine.Tx, d types.IndexDelta) (int, error) {
	records, err := scanRecords(tx, d.Collection)
	if err != nil {
		return 0, u.storageErr(err)
	}
	typed := types.CollectionSchema{Name: d.Collection, Indexes: []types.IndexSchema{d.Index}}
	seen := make(map[string]bool)
	n := 0
	for _, sr := range records {
		if err := validation.ValidateIndexedValues(typed, sr.rec); err != nil {
			return 0, err
		}
		entry, ok, err := indexEntry(d.Collection, d.Index.Field, sr.rec, sr.pk)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if d.Index.Unique {
			value := string(entry[:len(entry)-len(sr.pk)])
			if seen[value] {
				return 0, fmt.Errorf("%w: %s.%s is not unique in existing records", types.ErrDuplicateKey, d.Collection, d.Index.Field)
			}
			seen[value] = true
		}
		if err := tx.Set(entry, sr.pk); err != nil {
			return 0, u.storageErr(err)
		}
		n++
	}
	return n, nil
}

// migrate applies one field migration to every record of c and rewrites
// the records (and their index entries) that changed.
func (u *upgrader) migrate(tx engine.Tx, c types.CollectionSchema, m types.FieldMigration) (migration.Stats, error) {
	cmd, err := migration.New(m)
	if err != nil {
		return migration.Stats{}, err
	}
	stored, err := scanRecords(tx, c.Name)
	if err != nil {
		return migration.Stats{}, u.storageErr(err)
	}
	records := make([]types.Record, len(stored))
	for i, sr := range stored {
		records[i] = sr.rec.Clone()
	}
	stats, err := migration.Run(cmd, records)
	if err != nil {
		return stats, fmt.Errorf("%w: %s: %v", types.ErrInvalidRecord, c.Name, err)
	}

	changed := make([]bool, len(records))
	for i, rec := range records {
		if reflect.DeepEqual(stored[i].rec, rec) {
			continue
		}
		if err := validation.ValidateIndexedValues(c, rec); err != nil {
			return stats, err
		}
		changed[i] = true
	}
	// records holds the whole collection, so uniqueness is checked on the
	// migrated state and values may move between records
	if err := uniqueAfterMigration(c, stored, records); err != nil {
		return stats, err
	}

	for i, rec := range records {
		if !changed[i] {
			continue
		}
		if err := writeRecord(tx, c, stored[i].pk, stored[i].rec, rec); err != nil {
			return stats, u.storageErr(err)
		}
	}
	return stats, nil
}

func uniqueAfterMigration(c types.CollectionSchema, stored []storedRecord, records []types.Record) error {
	for _, idx := range c.Indexes {
		if !idx.Unique {
			continue
		}
		seen := make(map[string]bool)
		for i, rec := range records {
			entry, ok, err := indexEntry(c.Name, idx.Field, rec, stored[i].pk)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			value := string(entry[:len(entry)-len(stored[i].pk)])
			if seen[value] {
				return fmt.Errorf("%w: %s.%s after migration", types.ErrDuplicateKey, c.Name, idx.Field)
			}
			seen[value] = true
		}
	}
	return nil
}

func (u *upgrader) storageErr(err error) error {
	if types.IsLogical(err) {
		return err
	}
	return types.NewStorageError(u.domain, "open", err)
}
