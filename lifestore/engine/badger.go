package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// badgerEngine implements Engine using BadgerDB. Badger transactions are
// MVCC snapshots, which gives read-only transactions snapshot isolation.
type badgerEngine struct {
	db *badger.DB
	o  Options
}

func openBadger(path string, inMemory bool, o Options) (*badgerEngine, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable BadgerDB logs, failures are surfaced as errors
	if inMemory {
		opts = opts.WithInMemory(true)
	}

	// Personal data sets are small; keep the footprint modest
	opts.MemTableSize = 16 << 20
	opts.BlockCacheSize = 16 << 20
	opts.IndexCacheSize = 8 << 20
	opts.NumCompactors = 2
	opts.ValueThreshold = 1 << 10 // 1KB - store small values in LSM tree

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	o.Logger.Debug("engine opened", "kind", KindBadger, "path", path, "in_memory", inMemory)
	return &badgerEngine{db: db, o: o}, nil
}

func (e *badgerEngine) Kind() string {
	return KindBadger
}

func (e *badgerEngine) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &badgerTx{txn: e.db.NewTransaction(writable), writable: writable}, nil
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}

type badgerTx struct {
	txn      *badger.Txn
	writable bool
	done     bool
}

func (t *badgerTx) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger value: %w", err)
	}
	return val, nil
}

func (t *badgerTx) Set(key, value []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.txn.Set(append([]byte(nil), key...), append([]byte(nil), value...)); err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (t *badgerTx) Delete(key []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.txn.Delete(append([]byte(nil), key...)); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (t *badgerTx) Scan(start, end []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxClosed
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		if end != nil && bytes.Compare(item.Key(), end) >= 0 {
			break
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger value: %w", err)
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	if !t.writable {
		t.txn.Discard()
		return nil
	}
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (t *badgerTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}
