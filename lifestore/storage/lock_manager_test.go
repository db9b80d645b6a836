package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acquireAsync(lm *LockManager, cols []string, granted chan<- string, name string) <-chan func() {
	out := make(chan func(), 1)
	go func() {
		release, err := lm.Acquire(context.Background(), WriteOperation, cols)
		if err != nil {
			close(out)
			return
		}
		granted <- name
		out <- release
	}()
	return out
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()

	t.Run("readers never wait", func(t *testing.T) {
		lm := NewLockManager()
		release, err := lm.Acquire(ctx, WriteOperation, []string{"pantry"})
		require.NoError(t, err)
		defer release()

		readRelease, err := lm.Acquire(ctx, ReadOperation, []string{"pantry"})
		require.NoError(t, err)
		readRelease()
	})

	t.Run("disjoint writers run together", func(t *testing.T) {
		lm := NewLockManager()
		r1, err := lm.Acquire(ctx, WriteOperation, []string{"pantry"})
		require.NoError(t, err)
		r2, err := lm.Acquire(ctx, WriteOperation, []string{"recipes"})
		require.NoError(t, err)
		assert.Equal(t, []string{"pantry", "recipes"}, lm.Held())
		r1()
		r2()
		assert.Empty(t, lm.Held())
	})

	t.Run("overlapping writers are granted in request order", func(t *testing.T) {
		lm := NewLockManager()
		granted := make(chan string, 3)

		first, err := lm.Acquire(ctx, WriteOperation, []string{"pantry"})
		require.NoError(t, err)

		second := acquireAsync(lm, []string{"pantry", "groceryList"}, granted, "second")
		require.Eventually(t, func() bool { return lm.Pending() == 1 }, time.Second, time.Millisecond)

		// groceryList is free, but an earlier writer is queued for it
		third := acquireAsync(lm, []string{"groceryList"}, granted, "third")
		require.Eventually(t, func() bool { return lm.Pending() == 2 }, time.Second, time.Millisecond)

		first()
		assert.Equal(t, "second", <-granted)
		releaseSecond := <-second
		assert.Equal(t, 1, lm.Pending())

		releaseSecond()
		assert.Equal(t, "third", <-granted)
		(<-third)()
		assert.Equal(t, 0, lm.Pending())
	})

	t.Run("later disjoint writer is not held back", func(t *testing.T) {
		lm := NewLockManager()
		granted := make(chan string, 2)

		first, err := lm.Acquire(ctx, WriteOperation, []string{"pantry"})
		require.NoError(t, err)
		defer first()

		waiting := acquireAsync(lm, []string{"pantry"}, granted, "waiting")
		require.Eventually(t, func() bool { return lm.Pending() == 1 }, time.Second, time.Millisecond)

		release, err := lm.Acquire(ctx, WriteOperation, []string{"mealLogs"})
		require.NoError(t, err)
		release()

		first()
		assert.Equal(t, "waiting", <-granted)
		(<-waiting)()
	})

	t.Run("cancelled waiter leaves the queue", func(t *testing.T) {
		lm := NewLockManager()
		first, err := lm.Acquire(ctx, WriteOperation, []string{"pantry"})
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = lm.Acquire(cctx, WriteOperation, []string{"pantry"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, lm.Pending())

		first()
		first() // release is idempotent
		assert.Empty(t, lm.Held())
	})

	t.Run("execute releases after fn", func(t *testing.T) {
		lm := NewLockManager()
		err := lm.Execute(ctx, WriteOperation, []string{"waterLogs"}, func() error {
			assert.Equal(t, []string{"waterLogs"}, lm.Held())
			return nil
		})
		require.NoError(t, err)
		assert.Empty(t, lm.Held())
	})
}
