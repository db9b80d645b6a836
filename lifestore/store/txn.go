package store

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arthur-debert/lifestore/internal/validation"
	"github.com/arthur-debert/lifestore/lifestore/analytics"
	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/keys"
	"github.com/arthur-debert/lifestore/lifestore/query"
	"github.com/arthur-debert/lifestore/types"
)

// Txn is a transaction over a fixed set of collections of one domain.
// A Txn is not safe for concurrent use.
//
// An engine failure aborts the transaction on the spot: the engine
// transaction is rolled back, and every later call, Commit included,
// returns the same *types.StorageError.
type Txn struct {
	h       *Handle
	tx      engine.Tx
	mode    types.Mode
	scope   map[string]types.CollectionSchema
	names   []string
	release func()
	started time.Time

	done   bool
	failed error
}

// Mode returns the transaction mode
func (t *Txn) Mode() types.Mode {
	return t.mode
}

// Collections returns the transaction scope, sorted
func (t *Txn) Collections() []string {
	return append([]string(nil), t.names...)
}

// Insert stores a new record and returns it as stored. A collection with
// generated keys assigns a UUID when the primary key is missing.
func (t *Txn) Insert(collection string, rec types.Record) (out types.Record, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "insert", err) }()

	c, err := t.check(collection, true)
	if err != nil {
		return nil, err
	}
	stored, err := t.prepare(c, rec)
	if err != nil {
		return nil, err
	}
	pk, err := primaryKey(c, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRecord, err)
	}

	_, exists, err := readRecord(t.tx, c.Name, pk)
	if err != nil {
		return nil, t.fail("insert", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s %v", types.ErrDuplicateKey, c.Name, stored[c.PrimaryKey])
	}
	if err := t.checkUnique(c, stored, pk); err != nil {
		return nil, err
	}
	if err := writeRecord(t.tx, c, pk, nil, stored); err != nil {
		return nil, t.fail("insert", err)
	}
	return stored.Clone(), nil
}

// Put inserts rec or replaces the record with the same primary key
func (t *Txn) Put(collection string, rec types.Record) (out types.Record, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "put", err) }()

	c, err := t.check(collection, true)
	if err != nil {
		return nil, err
	}
	stored, err := t.prepare(c, rec)
	if err != nil {
		return nil, err
	}
	pk, err := primaryKey(c, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRecord, err)
	}
	old, _, err := readRecord(t.tx, c.Name, pk)
	if err != nil {
		return nil, t.fail("put", err)
	}
	if err := t.checkUnique(c, stored, pk); err != nil {
		return nil, err
	}
	if err := writeRecord(t.tx, c, pk, old, stored); err != nil {
		return nil, t.fail("put", err)
	}
	return stored.Clone(), nil
}

// Get returns the record stored under key
func (t *Txn) Get(collection string, key any) (rec types.Record, found bool, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "get", err) }()

	c, err := t.check(collection, false)
	if err != nil {
		return nil, false, err
	}
	pk, err := t.encodeKey(c, key)
	if err != nil {
		return nil, false, err
	}
	rec, found, err = readRecord(t.tx, c.Name, pk)
	if err != nil {
		return nil, false, t.fail("get", err)
	}
	return rec, found, nil
}

// GetAll returns every record of the collection in primary key order
func (t *Txn) GetAll(collection string) (out []types.Record, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "getAll", err) }()
	return t.ScanAll(collection)
}

// Count returns the number of records in the collection
func (t *Txn) Count(collection string) (n int, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "count", err) }()

	c, err := t.check(collection, false)
	if err != nil {
		return 0, err
	}
	err = engine.ScanPrefix(t.tx, keys.RecordPrefix(c.Name), func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, t.fail("count", err)
	}
	return n, nil
}

// Update replaces the record stored under key. The replacement's primary
// key field is set to key; a different value is rejected.
func (t *Txn) Update(collection string, key any, rec types.Record) (out types.Record, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "update", err) }()

	c, err := t.check(collection, true)
	if err != nil {
		return nil, err
	}
	pk, err := t.encodeKey(c, key)
	if err != nil {
		return nil, err
	}
	stored, err := types.Normalize(rec)
	if err != nil {
		return nil, err
	}
	if v, ok := stored[c.PrimaryKey]; ok {
		enc, err := keys.Encode(v)
		if err != nil || !bytes.Equal(enc, pk) {
			return nil, fmt.Errorf("%w: %s.%s cannot change from %v to %v", types.ErrInvalidRecord, c.Name, c.PrimaryKey, key, v)
		}
	}
	stored[c.PrimaryKey] = types.NormalizeValue(key)
	if err := validation.ValidateIndexedValues(c, stored); err != nil {
		return nil, err
	}

	old, found, err := readRecord(t.tx, c.Name, pk)
	if err != nil {
		return nil, t.fail("update", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %v", types.ErrNotFound, c.Name, key)
	}
	if err := t.checkUnique(c, stored, pk); err != nil {
		return nil, err
	}
	if err := writeRecord(t.tx, c, pk, old, stored); err != nil {
		return nil, t.fail("update", err)
	}
	return stored.Clone(), nil
}

// Delete removes the record stored under key. Deleting a missing key is
// not an error.
func (t *Txn) Delete(collection string, key any) (err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "delete", err) }()

	c, err := t.check(collection, true)
	if err != nil {
		return err
	}
	pk, err := t.encodeKey(c, key)
	if err != nil {
		return err
	}
	old, found, err := readRecord(t.tx, c.Name, pk)
	if err != nil {
		return t.fail("delete", err)
	}
	if !found {
		return nil
	}
	if err := removeRecord(t.tx, c, pk, old); err != nil {
		return t.fail("delete", err)
	}
	return nil
}

// Query returns the records of collection matching q
func (t *Txn) Query(collection string, q types.Query) (out []types.Record, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "query", err) }()
	out, err = query.Run(t, collection, q)
	return out, t.fail("query", err)
}

// Explain returns the access plan Query would use
func (t *Txn) Explain(collection string, q types.Query) (string, error) {
	c, err := t.Schema(collection)
	if err != nil {
		return "", err
	}
	plan, err := query.NewPlan(c, q.Predicates)
	if err != nil {
		return "", err
	}
	return plan.Explain(), nil
}

// Aggregate folds the records of collection matching spec's predicates
func (t *Txn) Aggregate(collection string, spec types.AggregateSpec) (out *types.AggregateResult, err error) {
	defer func() { t.h.metrics.Operation(t.h.domain, "aggregate", err) }()
	out, err = analytics.Run(t, collection, spec)
	return out, t.fail("aggregate", err)
}

// Schema returns the declaration of a collection in scope
func (t *Txn) Schema(collection string) (types.CollectionSchema, error) {
	return t.check(collection, false)
}

// ScanAll returns every record of a collection in primary key order
func (t *Txn) ScanAll(collection string) ([]types.Record, error) {
	c, err := t.check(collection, false)
	if err != nil {
		return nil, err
	}
	stored, err := scanRecords(t.tx, c.Name)
	if err != nil {
		return nil, t.fail("scan", err)
	}
	out := make([]types.Record, len(stored))
	for i, sr := range stored {
		out[i] = sr.rec
	}
	return out, nil
}

// ScanIndex returns the records whose field lies in any of the ranges, in
// primary key order. Field is the primary key or an indexed field.
func (t *Txn) ScanIndex(collection, field string, ranges []keys.Range) ([]types.Record, error) {
	c, err := t.check(collection, false)
	if err != nil {
		return nil, err
	}

	var prefix []byte
	switch {
	case field == c.PrimaryKey:
		prefix = keys.RecordPrefix(c.Name)
	default:
		if _, ok := c.Index(field); !ok {
			return nil, fmt.Errorf("%w: %s.%s is not indexed", types.ErrInvalidQuery, c.Name, field)
		}
		prefix = keys.IndexPrefix(c.Name, field)
	}

	seen := make(map[string]bool)
	var pks [][]byte
	for _, r := range ranges {
		start, end, empty, err := r.Bytes(prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
		}
		if empty {
			continue
		}
		err = t.tx.Scan(start, end, func(key, value []byte) error {
			pk := value
			if field == c.PrimaryKey {
				pk = key[len(prefix):]
			}
			if !seen[string(pk)] {
				seen[string(pk)] = true
				pks = append(pks, pk)
			}
			return nil
		})
		if err != nil {
			return nil, t.fail("scan", err)
		}
	}
	sort.Slice(pks, func(i, j int) bool { return bytes.Compare(pks[i], pks[j]) < 0 })

	out := make([]types.Record, 0, len(pks))
	for _, pk := range pks {
		rec, found, err := readRecord(t.tx, c.Name, pk)
		if err != nil {
			return nil, t.fail("scan", err)
		}
		if !found {
			return nil, t.fail("scan", fmt.Errorf("%w: %s.%s entry without record", errCorrupt, c.Name, field))
		}
		out = append(out, rec)
	}
	return out, nil
}

// Commit makes the writes visible. A read-only transaction just ends.
func (t *Txn) Commit() error {
	if t.done {
		return types.ErrTransactionDone
	}
	t.done = true
	if t.failed != nil {
		return t.failed
	}
	err := t.tx.Commit()
	t.release()
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
		err = types.NewStorageError(t.h.domain, "commit", err)
		t.h.metrics.StorageFailure(t.h.domain)
		t.h.logger.Error("commit failed", "collections", t.names, "error", err)
	}
	t.h.metrics.Transaction(t.h.domain, t.mode, outcome, time.Since(t.started))
	return err
}

// Rollback discards the writes. Rolling back a finished transaction is a
// no-op.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.failed != nil {
		return nil
	}
	err := t.tx.Rollback()
	t.release()
	t.h.metrics.Transaction(t.h.domain, t.mode, "rollback", time.Since(t.started))
	if err != nil {
		return types.NewStorageError(t.h.domain, "rollback", err)
	}
	return nil
}

// check validates that the transaction can still run an operation on
// collection.
func (t *Txn) check(collection string, write bool) (types.CollectionSchema, error) {
	if t.done {
		return types.CollectionSchema{}, types.ErrTransactionDone
	}
	if t.failed != nil {
		return types.CollectionSchema{}, t.failed
	}
	c, ok := t.scope[collection]
	if !ok {
		if _, err := t.h.Collection(collection); err != nil {
			return types.CollectionSchema{}, err
		}
		return types.CollectionSchema{}, fmt.Errorf("%w: %s", types.ErrCollectionNotInScope, collection)
	}
	if write && t.mode != types.ReadWrite {
		return types.CollectionSchema{}, fmt.Errorf("%w: %s", types.ErrReadOnlyTransaction, collection)
	}
	return c, nil
}

// prepare normalizes rec and fills in a generated key
func (t *Txn) prepare(c types.CollectionSchema, rec types.Record) (types.Record, error) {
	stored, err := types.Normalize(rec)
	if err != nil {
		return nil, err
	}
	if _, ok := stored[c.PrimaryKey]; !ok && c.AutoKey {
		stored[c.PrimaryKey] = uuid.NewString()
	}
	if err := validation.ValidateKeyValue(c, stored[c.PrimaryKey]); err != nil {
		return nil, err
	}
	if err := validation.ValidateIndexedValues(c, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (t *Txn) encodeKey(c types.CollectionSchema, key any) ([]byte, error) {
	if err := validation.ValidateKeyValue(c, key); err != nil {
		return nil, err
	}
	return keys.Encode(key)
}

func (t *Txn) checkUnique(c types.CollectionSchema, rec types.Record, pk []byte) error {
	field, err := uniqueConflict(t.tx, c, rec, pk)
	if err != nil {
		return t.fail("unique check", err)
	}
	if field != "" {
		v, _ := rec.Lookup(field)
		return fmt.Errorf("%w: %s.%s %v", types.ErrDuplicateKey, c.Name, field, v)
	}
	return nil
}

// fail classifies err. Logical errors pass through; anything else is an
// engine failure that aborts the transaction.
func (t *Txn) fail(op string, err error) error {
	if err == nil || types.IsLogical(err) {
		return err
	}
	if t.failed != nil {
		return t.failed
	}
	se := types.NewStorageError(t.h.domain, op, err)
	t.failed = se
	_ = t.tx.Rollback()
	t.release()
	t.h.metrics.StorageFailure(t.h.domain)
	t.h.metrics.Transaction(t.h.domain, t.mode, "rollback", time.Since(t.started))
	t.h.logger.Warn("transaction aborted", "op", op, "collections", t.names, "error", err)
	return se
}
