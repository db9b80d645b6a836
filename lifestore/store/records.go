package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/keys"
	"github.com/arthur-debert/lifestore/types"
)

// errCorrupt marks stored bytes that no longer decode
var errCorrupt = errors.New("corrupt stored data")

// primaryKey returns the encoded primary key of rec
func primaryKey(c types.CollectionSchema, rec types.Record) ([]byte, error) {
	return keys.Encode(rec[c.PrimaryKey])
}

// indexEntries returns the index keys rec contributes to c. Fields that are
// missing or not scalar contribute nothing.
func indexEntries(c types.CollectionSchema, rec types.Record, pk []byte) ([][]byte, error) {
	var out [][]byte
	for _, idx := range c.Indexes {
		entry, ok, err := indexEntry(c.Name, idx.Field, rec, pk)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func indexEntry(collection, field string, rec types.Record, pk []byte) ([]byte, bool, error) {
	v, ok := rec.Lookup(field)
	if !ok || !types.IsScalar(v) {
		return nil, false, nil
	}
	enc, err := keys.Encode(v)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s.%s: %v", types.ErrInvalidRecord, collection, field, err)
	}
	return keys.IndexEntry(collection, field, enc, pk), true, nil
}

func readRecord(tx engine.Tx, collection string, pk []byte) (types.Record, bool, error) {
	data, err := tx.Get(keys.Record(collection, pk))
	if errors.Is(err, engine.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := types.DecodeRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s record: %v", errCorrupt, collection, err)
	}
	return rec, true, nil
}

// writeRecord stores rec under pk and moves its index entries from old
// (nil for a new record) to rec.
func writeRecord(tx engine.Tx, c types.CollectionSchema, pk []byte, old, rec types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidRecord, err)
	}
	newEntries, err := indexEntries(c, rec, pk)
	if err != nil {
		return err
	}
	if old != nil {
		oldEntries, err := indexEntries(c, old, pk)
		if err != nil {
			return err
		}
		for _, key := range oldEntries {
			if containsKey(newEntries, key) {
				continue
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
	}
	if err := tx.Set(keys.Record(c.Name, pk), data); err != nil {
		return err
	}
	for _, key := range newEntries {
		if err := tx.Set(key, pk); err != nil {
			return err
		}
	}
	return nil
}

// removeRecord deletes rec and its index entries
func removeRecord(tx engine.Tx, c types.CollectionSchema, pk []byte, rec types.Record) error {
	entries, err := indexEntries(c, rec, pk)
	if err != nil {
		return err
	}
	for _, key := range entries {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return tx.Delete(keys.Record(c.Name, pk))
}

func containsKey(list [][]byte, key []byte) bool {
	for _, k := range list {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

// storedRecord is one record with its encoded primary key
type storedRecord struct {
	pk  []byte
	rec types.Record
}

// scanRecords returns every record of a collection in primary key order
func scanRecords(tx engine.Tx, collection string) ([]storedRecord, error) {
	prefix := keys.RecordPrefix(collection)
	var out []storedRecord
	err := engine.ScanPrefix(tx, prefix, func(key, value []byte) error {
		rec, err := types.DecodeRecord(value)
		if err != nil {
			return fmt.Errorf("%w: %s record: %v", errCorrupt, collection, err)
		}
		out = append(out, storedRecord{pk: key[len(prefix):], rec: rec})
		return nil
	})
	return out, err
}

// scanKeys returns every key with the given prefix
func scanKeys(tx engine.Tx, prefix []byte) ([][]byte, error) {
	var out [][]byte
	err := engine.ScanPrefix(tx, prefix, func(key, _ []byte) error {
		out = append(out, key)
		return nil
	})
	return out, err
}

// deletePrefix removes every key with the given prefix. Keys are collected
// before deleting since engines do not allow writes during a scan.
func deletePrefix(tx engine.Tx, prefix []byte) (int, error) {
	list, err := scanKeys(tx, prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range list {
		if err := tx.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(list), nil
}

// uniqueConflict reports whether another record already holds rec's value
// of a unique index.
func uniqueConflict(tx engine.Tx, c types.CollectionSchema, rec types.Record, pk []byte) (string, error) {
	for _, idx := range c.Indexes {
		if !idx.Unique {
			continue
		}
		v, ok := rec.Lookup(idx.Field)
		if !ok || !types.IsScalar(v) {
			continue
		}
		enc, err := keys.Encode(v)
		if err != nil {
			return "", fmt.Errorf("%w: %s.%s: %v", types.ErrInvalidRecord, c.Name, idx.Field, err)
		}
		conflict := false
		err = engine.ScanPrefix(tx, keys.IndexValuePrefix(c.Name, idx.Field, enc), func(_, value []byte) error {
			if !bytes.Equal(value, pk) {
				conflict = true
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if conflict {
			return idx.Field, nil
		}
	}
	return "", nil
}

func readVersion(tx engine.Tx) (int, error) {
	data, err := tx.Get(keys.Version())
	if errors.Is(err, engine.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := keys.DecodeVersion(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return v, nil
}

// readDeclarations returns the persisted collection declarations by name
func readDeclarations(tx engine.Tx) (map[string]types.CollectionSchema, error) {
	prefix := keys.CollectionMetaPrefix()
	out := make(map[string]types.CollectionSchema)
	err := engine.ScanPrefix(tx, prefix, func(key, value []byte) error {
		var c types.CollectionSchema
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("%w: declaration %s: %v", errCorrupt, key[len(prefix):], err)
		}
		out[string(key[len(prefix):])] = c
		return nil
	})
	return out, err
}

func writeDeclaration(tx engine.Tx, c types.CollectionSchema) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return tx.Set(keys.CollectionMeta(c.Name), data)
}
