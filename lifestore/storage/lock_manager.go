// Package storage schedules transactions over the collections of one domain.
package storage

import (
	"context"
	"sort"
	"sync"
)

// OperationType defines whether an operation is read or write.
type OperationType int

const (
	// ReadOperation never waits. Isolation for readers comes from the
	// engine snapshot taken when the transaction begins.
	ReadOperation OperationType = iota

	// WriteOperation is exclusive over its collections. Writers whose
	// collection sets overlap are granted in the order they asked.
	WriteOperation
)

func (o OperationType) String() string {
	if o == WriteOperation {
		return "write"
	}
	return "read"
}

type request struct {
	collections map[string]struct{}
	ready       chan struct{}
	granted     bool
}

func (r *request) overlaps(set map[string]struct{}) bool {
	for c := range r.collections {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// LockManager grants write access to sets of collections.
//
// A queued writer is granted once no active writer holds any of its
// collections and no earlier queued writer wants any of them. Writers over
// disjoint collections do not wait for each other.
type LockManager struct {
	mu     sync.Mutex
	active map[string]struct{}
	queue  []*request
}

// NewLockManager creates a new lock manager instance.
func NewLockManager() *LockManager {
	return &LockManager{active: make(map[string]struct{})}
}

// Acquire waits until the operation may proceed and returns the function
// that releases it. Release is idempotent. If ctx is done before the lock
// is granted, Acquire gives up its place in the queue and returns ctx.Err().
func (lm *LockManager) Acquire(ctx context.Context, opType OperationType, collections []string) (func(), error) {
	if opType == ReadOperation {
		return func() {}, nil
	}

	req := &request{
		collections: make(map[string]struct{}, len(collections)),
		ready:       make(chan struct{}),
	}
	for _, c := range collections {
		req.collections[c] = struct{}{}
	}

	lm.mu.Lock()
	lm.queue = append(lm.queue, req)
	lm.dispatch()
	lm.mu.Unlock()

	select {
	case <-req.ready:
	case <-ctx.Done():
		lm.mu.Lock()
		if !req.granted {
			lm.remove(req)
			lm.dispatch()
			lm.mu.Unlock()
			return nil, ctx.Err()
		}
		lm.mu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() { lm.release(req) })
	}, nil
}

// Execute runs fn while holding the lock for collections.
//
// Example:
//
//	err := lockManager.Execute(ctx, WriteOperation, []string{"pantry"}, func() error {
//	    // no other writer touches pantry here
//	    return nil
//	})
func (lm *LockManager) Execute(ctx context.Context, opType OperationType, collections []string, fn func() error) error {
	release, err := lm.Acquire(ctx, opType, collections)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Pending returns the number of writers waiting for their turn
func (lm *LockManager) Pending() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.queue)
}

// Held returns the collections currently held by writers, sorted
func (lm *LockManager) Held() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make([]string, 0, len(lm.active))
	for c := range lm.active {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// dispatch grants every queued request that may run. Callers hold mu.
func (lm *LockManager) dispatch() {
	blocked := make(map[string]struct{})
	waiting := lm.queue[:0]
	for _, req := range lm.queue {
		if req.overlaps(lm.active) || req.overlaps(blocked) {
			for c := range req.collections {
				blocked[c] = struct{}{}
			}
			waiting = append(waiting, req)
			continue
		}
		for c := range req.collections {
			lm.active[c] = struct{}{}
		}
		req.granted = true
		close(req.ready)
	}
	for i := len(waiting); i < len(lm.queue); i++ {
		lm.queue[i] = nil
	}
	lm.queue = waiting
}

func (lm *LockManager) remove(req *request) {
	for i, r := range lm.queue {
		if r == req {
			lm.queue = append(lm.queue[:i], lm.queue[i+1:]...)
			return
		}
	}
}

func (lm *LockManager) release(req *request) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for c := range req.collections {
		delete(lm.active, c)
	}
	lm.dispatch()
}
