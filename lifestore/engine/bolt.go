package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// rootBucket holds the whole key space of a domain
var rootBucket = []byte("lifestore")

// boltEngine implements Engine using bbolt. bbolt allows one writer and
// many readers; read transactions see the state as of their start.
type boltEngine struct {
	db *bolt.DB
	o  Options
}

func openBolt(path string, o Options) (*boltEngine, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: lockTimeout,
		// Large enough that remapping (which waits for open readers)
		// is rare for personal data sets.
		InitialMmapSize: 32 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create root bucket: %w", err)
	}
	o.Logger.Debug("engine opened", "kind", KindBolt, "path", path)
	return &boltEngine{db: db, o: o}, nil
}

func (e *boltEngine) Kind() string {
	return KindBolt
}

func (e *boltEngine) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("bolt begin: %w", err)
	}
	return &boltTx{tx: tx, bucket: tx.Bucket(rootBucket), writable: writable}, nil
}

func (e *boltEngine) Close() error {
	return e.db.Close()
}

type boltTx struct {
	tx       *bolt.Tx
	bucket   *bolt.Bucket
	writable bool
	done     bool
}

func (t *boltTx) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	v := t.bucket.Get(key)
	if v == nil {
		return nil, ErrKeyNotFound
	}
	// bbolt values are only valid for the life of the transaction
	return append([]byte{}, v...), nil
}

func (t *boltTx) Set(key, value []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.bucket.Put(append([]byte(nil), key...), append([]byte{}, value...)); err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

func (t *boltTx) Delete(key []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.bucket.Delete(key); err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

func (t *boltTx) Scan(start, end []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxClosed
	}
	c := t.bucket.Cursor()
	for k, v := c.Seek(start); k != nil; k, v = c.Next() {
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		if err := fn(append([]byte(nil), k...), append([]byte{}, v...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	if !t.writable {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("bolt commit: %w", err)
	}
	return nil
}

func (t *boltTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// lockTimeout bounds how long opening waits for another process holding
// the engine's file lock.
const lockTimeout = 3 * time.Second
