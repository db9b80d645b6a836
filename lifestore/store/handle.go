package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/metrics"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/lifestore/storage"
	"github.com/arthur-debert/lifestore/types"
)

// Handle is an open domain store
type Handle struct {
	domain  string
	schema  registry.Schema
	report  MigrationReport
	eng     engine.Engine
	locks   *storage.LockManager
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	onClose func()
}

func newHandle(domain string, schema registry.Schema, report MigrationReport, eng engine.Engine, o Options) *Handle {
	return &Handle{
		domain:  domain,
		schema:  schema,
		report:  report,
		eng:     eng,
		locks:   storage.NewLockManager(),
		logger:  o.Logger.With("domain", domain),
		metrics: o.Metrics,
	}
}

// Domain returns the domain name
func (h *Handle) Domain() string {
	return h.domain
}

// Version returns the schema version the store is at
func (h *Handle) Version() int {
	return h.schema.Version
}

// Collections returns the collection names in creation order
func (h *Handle) Collections() []string {
	return h.schema.Names()
}

// Collection returns the declaration of a collection
func (h *Handle) Collection(name string) (types.CollectionSchema, error) {
	c, ok := h.schema.Collection(name)
	if !ok {
		return types.CollectionSchema{}, fmt.Errorf("%w: %s.%s", types.ErrUnknownCollection, h.domain, name)
	}
	return c.Clone(), nil
}

// LastMigration reports what Open applied to reach the current version
func (h *Handle) LastMigration() MigrationReport {
	r := h.report
	r.Applied = append([]int(nil), h.report.Applied...)
	return r
}

// Engine returns the engine kind backing the store
func (h *Handle) Engine() string {
	return h.eng.Kind()
}

// Begin starts a transaction over collections. Read-write transactions
// wait for earlier read-write transactions on overlapping collections;
// ctx bounds only that wait.
func (h *Handle) Begin(ctx context.Context, collections []string, mode types.Mode) (*Txn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}

	scope := make(map[string]types.CollectionSchema, len(collections))
	for _, name := range collections {
		c, err := h.Collection(name)
		if err != nil {
			return nil, err
		}
		scope[name] = c
	}
	names := make([]string, 0, len(scope))
	for name := range scope {
		names = append(names, name)
	}
	sort.Strings(names)

	op := storage.ReadOperation
	if mode == types.ReadWrite {
		op = storage.WriteOperation
	}
	release, err := h.locks.Acquire(ctx, op, names)
	if err != nil {
		return nil, err
	}

	tx, err := h.eng.Begin(ctx, mode == types.ReadWrite)
	if err != nil {
		release()
		h.metrics.StorageFailure(h.domain)
		return nil, types.NewStorageError(h.domain, "begin", err)
	}
	h.logger.Debug("transaction started", "mode", mode, "collections", names)
	return &Txn{
		h:       h,
		tx:      tx,
		mode:    mode,
		scope:   scope,
		names:   names,
		release: release,
		started: time.Now(),
	}, nil
}

// WithTransaction runs body in a transaction. The transaction commits when
// body returns nil and rolls back otherwise; body's error is returned.
func (h *Handle) WithTransaction(ctx context.Context, collections []string, mode types.Mode, body func(*Txn) error) error {
	txn, err := h.Begin(ctx, collections, mode)
	if err != nil {
		return err
	}
	defer func() { _ = txn.Rollback() }()

	if err := body(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// Close closes the engine. Transactions must not be in flight.
func (h *Handle) Close() error {
	err := h.close()
	if h.onClose != nil {
		h.onClose()
	}
	return err
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.logger.Info("closing domain")
	return h.eng.Close()
}
