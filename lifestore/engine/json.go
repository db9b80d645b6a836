package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"
)

const (
	lockMaxRetries = 3
	lockRetryDelay = 100 * time.Millisecond
)

// jsonFile is the on-disk document of the JSON engine
type jsonFile struct {
	Metadata jsonMetadata `json:"metadata"`
	Entries  []jsonEntry  `json:"entries"`
}

type jsonMetadata struct {
	Format    int       `json:"format"`
	UpdatedAt time.Time `json:"updated_at"`
}

type jsonEntry struct {
	Key   []byte `json:"k"`
	Value []byte `json:"v"`
}

// jsonSnapshot is an immutable view of the whole key space
type jsonSnapshot struct {
	data map[string][]byte
	keys []string // sorted
}

func newSnapshot(data map[string][]byte) *jsonSnapshot {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &jsonSnapshot{data: data, keys: keys}
}

// jsonEngine keeps the key space in memory and rewrites one JSON file on
// every commit, atomically (temp file + rename) and under a file lock.
// Readers share the current snapshot; a single writer at a time builds the
// next one.
type jsonEngine struct {
	path    string
	fs      FileSystem
	lock    FileLock
	o       Options
	current atomic.Pointer[jsonSnapshot]
	writer  chan struct{}
}

func openJSON(path string, o Options) (*jsonEngine, error) {
	if path == "" {
		return nil, fmt.Errorf("json engine needs a file path")
	}
	if err := o.FileSystem.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	e := &jsonEngine{
		path:   path,
		fs:     o.FileSystem,
		lock:   o.LockFactory.New(path + ".lock"),
		o:      o,
		writer: make(chan struct{}, 1),
	}

	data, err := e.loadWithLock()
	if err != nil {
		return nil, err
	}
	e.current.Store(newSnapshot(data))
	o.Logger.Debug("engine opened", "kind", KindJSON, "path", path, "keys", len(data))
	return e, nil
}

func (e *jsonEngine) Kind() string {
	return KindJSON
}

func (e *jsonEngine) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !writable {
		return &jsonTx{e: e, snap: e.current.Load()}, nil
	}
	select {
	case e.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &jsonTx{
		e:        e,
		snap:     e.current.Load(),
		writable: true,
		overlay:  make(map[string][]byte),
	}, nil
}

func (e *jsonEngine) Close() error {
	return nil
}

func (e *jsonEngine) acquireLock(ctx context.Context) error {
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := e.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return fmt.Errorf("failed to acquire lock after %d attempts", lockMaxRetries)
}

func (e *jsonEngine) loadWithLock() (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := e.acquireLock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = e.lock.Unlock() }()

	data := make(map[string][]byte)
	if _, err := e.fs.Stat(e.path); errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	raw, err := e.fs.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(raw) == 0 {
		return data, nil
	}
	var doc jsonFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	for _, entry := range doc.Entries {
		data[string(entry.Key)] = entry.Value
	}
	return data, nil
}

func (e *jsonEngine) saveWithLock(snap *jsonSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := e.acquireLock(ctx); err != nil {
		return err
	}
	defer func() { _ = e.lock.Unlock() }()

	doc := jsonFile{
		Metadata: jsonMetadata{Format: 1, UpdatedAt: e.o.TimeFunc()},
		Entries:  make([]jsonEntry, 0, len(snap.keys)),
	}
	for _, k := range snap.keys {
		doc.Entries = append(doc.Entries, jsonEntry{Key: []byte(k), Value: snap.data[k]})
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpFile := e.path + ".tmp"
	if err := e.fs.WriteFile(tmpFile, raw, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := e.fs.Rename(tmpFile, e.path); err != nil {
		_ = e.fs.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

type jsonTx struct {
	e        *jsonEngine
	snap     *jsonSnapshot
	writable bool
	overlay  map[string][]byte // nil value marks a delete
	done     bool
}

func (t *jsonTx) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	if v, ok := t.overlay[string(key)]; ok {
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return append([]byte{}, v...), nil
	}
	v, ok := t.snap.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte{}, v...), nil
}

func (t *jsonTx) Set(key, value []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	t.overlay[string(key)] = append([]byte{}, value...)
	return nil
}

func (t *jsonTx) Delete(key []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	t.overlay[string(key)] = nil
	return nil
}

func (t *jsonTx) Scan(start, end []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxClosed
	}
	inRange := func(k string) bool {
		return bytes.Compare([]byte(k), start) >= 0 &&
			(end == nil || bytes.Compare([]byte(k), end) < 0)
	}

	// Merge the sorted snapshot keys with the sorted overlay keys
	lo := sort.SearchStrings(t.snap.keys, string(start))
	hi := len(t.snap.keys)
	if end != nil {
		hi = sort.SearchStrings(t.snap.keys, string(end))
	}
	var base []string
	if lo < hi {
		base = t.snap.keys[lo:hi]
	}
	var pending []string
	for k := range t.overlay {
		if inRange(k) {
			pending = append(pending, k)
		}
	}
	sort.Strings(pending)

	i, j := 0, 0
	for i < len(base) || j < len(pending) {
		var k string
		switch {
		case j >= len(pending) || (i < len(base) && base[i] < pending[j]):
			k = base[i]
			i++
		case i >= len(base) || pending[j] < base[i]:
			k = pending[j]
			j++
		default:
			k = pending[j]
			i++
			j++
		}
		v, ok := t.overlay[k]
		if !ok {
			v = t.snap.data[k]
		} else if v == nil {
			continue
		}
		if err := fn([]byte(k), append([]byte{}, v...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *jsonTx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	if !t.writable {
		return nil
	}
	defer func() { <-t.e.writer }()
	if len(t.overlay) == 0 {
		return nil
	}

	next := make(map[string][]byte, len(t.snap.data)+len(t.overlay))
	for k, v := range t.snap.data {
		next[k] = v
	}
	for k, v := range t.overlay {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	snap := newSnapshot(next)
	if err := t.e.saveWithLock(snap); err != nil {
		return fmt.Errorf("json commit: %w", err)
	}
	t.e.current.Store(snap)
	return nil
}

func (t *jsonTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		<-t.e.writer
	}
	return nil
}
