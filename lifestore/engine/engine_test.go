package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll(t *testing.T) map[string]Engine {
	t.Helper()
	dir := t.TempDir()
	out := make(map[string]Engine)
	for _, kind := range Kinds() {
		e, err := Open(kind, PathFor(kind, dir, "test"))
		require.NoError(t, err, kind)
		t.Cleanup(func() { _ = e.Close() })
		out[kind] = e
	}
	return out
}

func put(t *testing.T, e Engine, kv ...string) {
	t.Helper()
	tx, err := e.Begin(context.Background(), true)
	require.NoError(t, err)
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, tx.Set([]byte(kv[i]), []byte(kv[i+1])))
	}
	require.NoError(t, tx.Commit())
}

func scanKeys(t *testing.T, tx Tx, start, end []byte) []string {
	t.Helper()
	var keys []string
	require.NoError(t, tx.Scan(start, end, func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	return keys
}

func TestEngineConformance(t *testing.T) {
	ctx := context.Background()
	for kind, e := range openAll(t) {
		t.Run(kind, func(t *testing.T) {
			put(t, e, "a/1", "one", "a/2", "two", "b/1", "three", "a/3", "3")

			t.Run("get returns committed values", func(t *testing.T) {
				tx, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = tx.Rollback() }()

				v, err := tx.Get([]byte("a/2"))
				require.NoError(t, err)
				assert.Equal(t, []byte("two"), v)

				_, err = tx.Get([]byte("zzz"))
				assert.ErrorIs(t, err, ErrKeyNotFound)
			})

			t.Run("scan is ordered and bounded", func(t *testing.T) {
				tx, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = tx.Rollback() }()

				assert.Equal(t, []string{"a/1", "a/2", "a/3"}, scanKeys(t, tx, []byte("a/"), []byte("a0")))
				assert.Equal(t, []string{"a/2", "a/3", "b/1"}, scanKeys(t, tx, []byte("a/2"), nil))
			})

			t.Run("scan stops on callback error", func(t *testing.T) {
				tx, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = tx.Rollback() }()

				stop := errors.New("stop")
				n := 0
				err = tx.Scan([]byte("a/"), nil, func(_, _ []byte) error {
					n++
					return stop
				})
				assert.ErrorIs(t, err, stop)
				assert.Equal(t, 1, n)

				found, err := Exists(tx, []byte("b/"), []byte("b0"))
				require.NoError(t, err)
				assert.True(t, found)
				found, err = Exists(tx, []byte("c/"), []byte("c0"))
				require.NoError(t, err)
				assert.False(t, found)
			})

			t.Run("write transaction sees its own writes", func(t *testing.T) {
				tx, err := e.Begin(ctx, true)
				require.NoError(t, err)
				require.NoError(t, tx.Set([]byte("a/0"), []byte("zero")))
				require.NoError(t, tx.Delete([]byte("a/2")))
				require.NoError(t, tx.Delete([]byte("missing")))

				assert.Equal(t, []string{"a/0", "a/1", "a/3"}, scanKeys(t, tx, []byte("a/"), []byte("a0")))
				_, err = tx.Get([]byte("a/2"))
				assert.ErrorIs(t, err, ErrKeyNotFound)
				require.NoError(t, tx.Rollback())
			})

			t.Run("rollback discards writes", func(t *testing.T) {
				tx, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = tx.Rollback() }()
				assert.Equal(t, []string{"a/1", "a/2", "a/3"}, scanKeys(t, tx, []byte("a/"), []byte("a0")))
			})

			t.Run("read transaction rejects writes", func(t *testing.T) {
				tx, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = tx.Rollback() }()
				assert.ErrorIs(t, tx.Set([]byte("x"), []byte("y")), ErrReadOnly)
				assert.ErrorIs(t, tx.Delete([]byte("x")), ErrReadOnly)
			})

			t.Run("finished transaction is closed", func(t *testing.T) {
				tx, err := e.Begin(ctx, true)
				require.NoError(t, err)
				require.NoError(t, tx.Commit())
				_, err = tx.Get([]byte("a/1"))
				assert.ErrorIs(t, err, ErrTxClosed)
				assert.ErrorIs(t, tx.Commit(), ErrTxClosed)
				assert.NoError(t, tx.Rollback())
			})

			t.Run("readers keep their snapshot", func(t *testing.T) {
				reader, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = reader.Rollback() }()

				put(t, e, "b/2", "four")

				assert.Equal(t, []string{"b/1"}, scanKeys(t, reader, []byte("b/"), []byte("b0")))

				fresh, err := e.Begin(ctx, false)
				require.NoError(t, err)
				defer func() { _ = fresh.Rollback() }()
				assert.Equal(t, []string{"b/1", "b/2"}, scanKeys(t, fresh, []byte("b/"), []byte("b0")))
			})
		})
	}
}

func TestEngineScanLargeRange(t *testing.T) {
	for kind, e := range openAll(t) {
		t.Run(kind, func(t *testing.T) {
			tx, err := e.Begin(context.Background(), true)
			require.NoError(t, err)
			for i := 0; i < 3*scanPageSize+7; i++ {
				require.NoError(t, tx.Set([]byte(fmt.Sprintf("k/%05d", i)), []byte("v")))
			}
			require.NoError(t, tx.Commit())

			tx, err = e.Begin(context.Background(), false)
			require.NoError(t, err)
			defer func() { _ = tx.Rollback() }()
			keys := scanKeys(t, tx, []byte("k/"), []byte("k0"))
			require.Len(t, keys, 3*scanPageSize+7)
			assert.Equal(t, "k/00000", keys[0])
			assert.Equal(t, fmt.Sprintf("k/%05d", 3*scanPageSize+6), keys[len(keys)-1])
		})
	}
}

func TestEnginePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{KindBadger, KindBolt, KindSQLite, KindJSON} {
		t.Run(kind, func(t *testing.T) {
			path := PathFor(kind, dir, "reopen")
			e, err := Open(kind, path)
			require.NoError(t, err)
			put(t, e, "k", "v")
			require.NoError(t, e.Close())

			e, err = Open(kind, path)
			require.NoError(t, err)
			defer func() { _ = e.Close() }()
			tx, err := e.Begin(context.Background(), false)
			require.NoError(t, err)
			defer func() { _ = tx.Rollback() }()
			v, err := tx.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)
		})
	}
}

func TestJSONEngineFailedCommitKeepsState(t *testing.T) {
	fs := NewMockFileSystem()
	locks := NewMockFileLockFactory()
	path := filepath.Join("data", "food.json")

	e, err := Open(KindJSON, path, WithFileSystem(fs), WithFileLockFactory(locks))
	require.NoError(t, err)
	put(t, e, "r/1", "first")

	fs.WriteFileError = errors.New("disk full")
	tx, err := e.Begin(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, tx.Set([]byte("r/2"), []byte("second")))
	require.NoError(t, tx.Delete([]byte("r/1")))
	err = tx.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, locks.Lock(path+".lock").Locked())

	fs.WriteFileError = nil
	rtx, err := e.Begin(context.Background(), false)
	require.NoError(t, err)
	defer func() { _ = rtx.Rollback() }()
	assert.Equal(t, []string{"r/1"}, scanKeys(t, rtx, []byte("r/"), nil))

	content, ok := fs.Content(path)
	require.True(t, ok)
	assert.Contains(t, string(content), `"entries"`)
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "food.badger"), PathFor(KindBadger, "d", "food"))
	assert.Equal(t, filepath.Join("d", "food.bolt"), PathFor(KindBolt, "d", "food"))
	assert.Equal(t, filepath.Join("d", "food.sqlite"), PathFor(KindSQLite, "d", "food"))
	assert.Equal(t, filepath.Join("d", "food.json"), PathFor(KindJSON, "d", "food"))
	assert.Empty(t, PathFor(KindMemory, "d", "food"))

	_, err := Open("leveldb", "x")
	assert.Error(t, err)
}
