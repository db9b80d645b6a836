package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/arthur-debert/lifestore/lifestore/engine"
)

// ErrInjected is the failure raised by a FaultyEngine
var ErrInjected = errors.New("injected storage fault")

// FaultyEngine wraps a real engine and fails operations on demand. Use its
// Open method as a store.OpenEngineFunc:
//
//	fe := testutil.NewFaultyEngine()
//	m := store.NewManager(store.WithEngine("memory"), store.WithEngineOpener(fe.Open))
type FaultyEngine struct {
	engine.Engine

	mu          sync.Mutex
	writesLeft  int // -1 disables write faults
	failCommits bool
	failReads   bool
	failBegin   bool
	writes      int
}

// NewFaultyEngine creates an engine that behaves normally until a fault is
// armed.
func NewFaultyEngine() *FaultyEngine {
	return &FaultyEngine{writesLeft: -1}
}

// Open opens the wrapped engine with engine.Open and returns f
func (f *FaultyEngine) Open(kind, path string, opts ...engine.Option) (engine.Engine, error) {
	inner, err := engine.Open(kind, path, opts...)
	if err != nil {
		return nil, err
	}
	f.Engine = inner
	return f, nil
}

// FailWritesAfter lets n more writes (sets and deletes) succeed, then fails
// every following write.
func (f *FaultyEngine) FailWritesAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writesLeft = n
}

// FailCommits makes every write commit fail
func (f *FaultyEngine) FailCommits() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCommits = true
}

// FailReads makes every get and scan fail
func (f *FaultyEngine) FailReads() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = true
}

// FailBegin makes every new transaction fail to start
func (f *FaultyEngine) FailBegin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failBegin = true
}

// Heal disarms every fault
func (f *FaultyEngine) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writesLeft = -1
	f.failCommits = false
	f.failReads = false
	f.failBegin = false
}

// Writes returns the number of writes that reached the wrapped engine
func (f *FaultyEngine) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Begin starts a wrapped transaction
func (f *FaultyEngine) Begin(ctx context.Context, writable bool) (engine.Tx, error) {
	f.mu.Lock()
	failBegin := f.failBegin
	f.mu.Unlock()
	if failBegin {
		return nil, ErrInjected
	}
	tx, err := f.Engine.Begin(ctx, writable)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, f: f, writable: writable}, nil
}

func (f *FaultyEngine) write() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writesLeft == 0 {
		return ErrInjected
	}
	if f.writesLeft > 0 {
		f.writesLeft--
	}
	f.writes++
	return nil
}

func (f *FaultyEngine) read() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return ErrInjected
	}
	return nil
}

type faultyTx struct {
	engine.Tx
	f        *FaultyEngine
	writable bool
}

func (t *faultyTx) Get(key []byte) ([]byte, error) {
	if err := t.f.read(); err != nil {
		return nil, err
	}
	return t.Tx.Get(key)
}

func (t *faultyTx) Scan(start, end []byte, fn func(key, value []byte) error) error {
	if err := t.f.read(); err != nil {
		return err
	}
	return t.Tx.Scan(start, end, fn)
}

func (t *faultyTx) Set(key, value []byte) error {
	if err := t.f.write(); err != nil {
		return err
	}
	return t.Tx.Set(key, value)
}

func (t *faultyTx) Delete(key []byte) error {
	if err := t.f.write(); err != nil {
		return err
	}
	return t.Tx.Delete(key)
}

func (t *faultyTx) Commit() error {
	t.f.mu.Lock()
	fail := t.f.failCommits && t.writable
	t.f.mu.Unlock()
	if fail {
		_ = t.Tx.Rollback()
		return ErrInjected
	}
	return t.Tx.Commit()
}
