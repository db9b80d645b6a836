package search

import (
	"context"

	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// CollectionProvider reads candidates from one collection of an open
// domain, in a read-only transaction per search
type CollectionProvider struct {
	h          *store.Handle
	collection string
}

// NewCollectionProvider creates a provider over h's collection
func NewCollectionProvider(h *store.Handle, collection string) *CollectionProvider {
	return &CollectionProvider{h: h, collection: collection}
}

// Records implements RecordProvider
func (p *CollectionProvider) Records(ctx context.Context, predicates []types.Predicate) ([]types.Record, error) {
	var out []types.Record
	err := p.h.WithTransaction(ctx, []string{p.collection}, types.ReadOnly, func(txn *store.Txn) error {
		var err error
		out, err = txn.Query(p.collection, types.Query{Predicates: predicates})
		return err
	})
	return out, err
}

// Collection is a convenience that searches one collection directly
func Collection(ctx context.Context, h *store.Handle, collection string, options Options, predicates []types.Predicate) ([]Result, error) {
	return NewEngine(NewCollectionProvider(h, collection)).Search(ctx, options, predicates)
}
