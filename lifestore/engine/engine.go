// Package engine provides the persistence layer for lifestore.
// It defines a small transactional key/value interface and implementations
// for different storage backends. Everything above this package (records,
// indexes, schema metadata) is expressed as ordered keys.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// ErrKeyNotFound is returned by Tx.Get for a missing key
var ErrKeyNotFound = errors.New("engine: key not found")

// ErrTxClosed is returned when a finished transaction is used again
var ErrTxClosed = errors.New("engine: transaction closed")

// ErrReadOnly is returned when a read-only transaction is asked to write
var ErrReadOnly = errors.New("engine: read-only transaction")

// Engine is a transactional ordered key/value store.
type Engine interface {
	// Kind names the backend (e.g. "badger")
	Kind() string

	// Begin starts a transaction. Read-only transactions observe a
	// consistent snapshot taken when they begin.
	Begin(ctx context.Context, writable bool) (Tx, error)

	// Close releases any resources held by the engine
	Close() error
}

// Tx is a single engine transaction. Writes become visible to other
// transactions only after Commit returns nil.
type Tx interface {
	// Get returns a copy of the value stored under key, or ErrKeyNotFound
	Get(key []byte) ([]byte, error)

	// Set stores value under key
	Set(key, value []byte) error

	// Delete removes key; deleting a missing key is not an error
	Delete(key []byte) error

	// Scan calls fn for every key in [start, end) in ascending byte order.
	// A nil end means no upper bound. The slices passed to fn are copies
	// owned by the caller. Returning an error from fn stops the scan.
	Scan(start, end []byte, fn func(key, value []byte) error) error

	// Commit makes all writes visible atomically
	Commit() error

	// Rollback discards all writes. Rolling back a finished
	// transaction is a no-op.
	Rollback() error
}

// Kinds supported by Open
const (
	KindBadger = "badger"
	KindBolt   = "bolt"
	KindSQLite = "sqlite"
	KindJSON   = "json"
	KindMemory = "memory"
)

// Kinds lists every backend kind accepted by Open
func Kinds() []string {
	return []string{KindBadger, KindBolt, KindSQLite, KindJSON, KindMemory}
}

// Options configures engine construction
type Options struct {
	Logger *slog.Logger

	// FileSystem and LockFactory are used by the JSON engine only
	FileSystem  FileSystem
	LockFactory FileLockFactory

	// TimeFunc stamps JSON engine metadata, defaults to time.Now
	TimeFunc func() time.Time
}

// Option modifies engine Options
type Option func(*Options)

// WithLogger sets the logger engines report to
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithFileSystem sets a custom FileSystem implementation
func WithFileSystem(fs FileSystem) Option {
	return func(o *Options) {
		o.FileSystem = fs
	}
}

// WithFileLockFactory sets a custom FileLockFactory implementation
func WithFileLockFactory(factory FileLockFactory) Option {
	return func(o *Options) {
		o.LockFactory = factory
	}
}

// WithTimeFunc sets a custom time function for testing
func WithTimeFunc(fn func() time.Time) Option {
	return func(o *Options) {
		o.TimeFunc = fn
	}
}

func buildOptions(opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.FileSystem == nil {
		o.FileSystem = &OSFileSystem{}
	}
	if o.LockFactory == nil {
		o.LockFactory = &FlockFactory{}
	}
	if o.TimeFunc == nil {
		o.TimeFunc = time.Now
	}
	return o
}

// Open opens (creating if needed) an engine of the given kind at path.
// Path is the engine's own file or directory; see PathFor.
func Open(kind, path string, opts ...Option) (Engine, error) {
	o := buildOptions(opts)
	switch kind {
	case KindBadger, "":
		return openBadger(path, false, o)
	case KindMemory:
		return openBadger("", true, o)
	case KindBolt:
		return openBolt(path, o)
	case KindSQLite:
		return openSQLite(path, o)
	case KindJSON:
		return openJSON(path, o)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", kind)
	}
}

// PathFor returns the conventional location of a domain's engine files
// inside dataDir.
func PathFor(kind, dataDir, domain string) string {
	switch kind {
	case KindBolt:
		return filepath.Join(dataDir, domain+".bolt")
	case KindSQLite:
		return filepath.Join(dataDir, domain+".sqlite")
	case KindJSON:
		return filepath.Join(dataDir, domain+".json")
	case KindMemory:
		return ""
	default:
		return filepath.Join(dataDir, domain+".badger")
	}
}

// ScanPrefix scans every key starting with prefix
func ScanPrefix(tx Tx, prefix []byte, fn func(key, value []byte) error) error {
	return tx.Scan(prefix, prefixEnd(prefix), fn)
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// errStopScan ends a scan early without reporting an error
var errStopScan = errors.New("stop scan")

// Exists reports whether any key lies in [start, end)
func Exists(tx Tx, start, end []byte) (bool, error) {
	found := false
	err := tx.Scan(start, end, func(_, _ []byte) error {
		found = true
		return errStopScan
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return false, err
	}
	return found, nil
}
