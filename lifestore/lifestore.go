// Package lifestore provides a local, persistent object store for
// personal-life tracking domains such as payments and food.
//
// Each domain is a versioned set of collections held in its own storage
// engine. Opening a domain brings its store up to the newest registered
// schema version; records are then read and written inside transactions
// that keep every secondary index consistent with the records.
package lifestore

import (
	"context"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// Handle is an open domain store
type Handle = store.Handle

// Txn is a transaction over a declared set of collections
type Txn = store.Txn

// Option configures a Store
type Option = store.Option

// Record is a structured document stored in a collection
type Record = types.Record

// Query describes a filtered, ordered read
type Query = types.Query

// Predicate constrains one field of a query
type Predicate = types.Predicate

// AggregateSpec describes an aggregate over a filtered record set
type AggregateSpec = types.AggregateSpec

// AggregateResult is the result of an aggregate
type AggregateResult = types.AggregateResult

// Transaction modes
const (
	ReadOnly  = types.ReadOnly
	ReadWrite = types.ReadWrite
)

// Options re-exported from the store package
var (
	WithDataDir  = store.WithDataDir
	WithEngine   = store.WithEngine
	WithRegistry = store.WithRegistry
	WithLogger   = store.WithLogger
	WithMetrics  = store.WithMetrics
)

// Store opens and owns domain handles
type Store struct {
	manager *store.Manager
}

// Open creates a store. Domains are opened lazily by OpenDomain.
func Open(opts ...Option) *Store {
	return &Store{manager: store.NewManager(opts...)}
}

// OpenDomain returns the handle of a registered domain, creating or
// upgrading its persistent store on first use.
func (s *Store) OpenDomain(ctx context.Context, name string) (*Handle, error) {
	return s.manager.Open(ctx, name)
}

// Domains returns every registered domain name, sorted
func (s *Store) Domains() []string {
	return s.manager.Registry().Domains()
}

// OpenDomains returns the names of the domains currently open
func (s *Store) OpenDomains() []string {
	return s.manager.Domains()
}

// Registry returns the schema registry the store opens domains against
func (s *Store) Registry() *registry.Registry {
	return s.manager.Registry()
}

// Close closes every open domain
func (s *Store) Close() error {
	return s.manager.Close()
}

// WithTransaction runs body in a transaction over collections of h,
// committing when body returns nil and rolling back otherwise.
func WithTransaction(ctx context.Context, h *Handle, collections []string, mode types.Mode, body func(*Txn) error) error {
	return h.WithTransaction(ctx, collections, mode, body)
}

// Query runs q against one collection in its own read-only transaction
func Query(ctx context.Context, h *Handle, collection string, q types.Query) ([]Record, error) {
	var out []Record
	err := h.WithTransaction(ctx, []string{collection}, types.ReadOnly, func(txn *Txn) error {
		var err error
		out, err = txn.Query(collection, q)
		return err
	})
	return out, err
}

// Aggregate computes spec over one collection in its own read-only
// transaction
func Aggregate(ctx context.Context, h *Handle, collection string, spec types.AggregateSpec) (*AggregateResult, error) {
	var out *AggregateResult
	err := h.WithTransaction(ctx, []string{collection}, types.ReadOnly, func(txn *Txn) error {
		var err error
		out, err = txn.Aggregate(collection, spec)
		return err
	})
	return out, err
}

// Get reads one record by primary key in its own read-only transaction.
// A missing record is reported as types.ErrNotFound.
func Get(ctx context.Context, h *Handle, collection string, key any) (Record, error) {
	var out Record
	err := h.WithTransaction(ctx, []string{collection}, types.ReadOnly, func(txn *Txn) error {
		rec, found, err := txn.Get(collection, key)
		if err != nil {
			return err
		}
		if !found {
			return notFound(collection, key)
		}
		out = rec
		return nil
	})
	return out, err
}

// EngineKinds lists the storage engines a store can use
func EngineKinds() []string {
	return engine.Kinds()
}
