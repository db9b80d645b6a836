package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/lifestore/lifestore/analytics"
	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/testutil"
	"github.com/arthur-debert/lifestore/types"
)

// ledger is a small domain exercising unique indexes and numeric keys
func ledgerRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.Builtin()
	require.NoError(t, r.Register("ledger", types.Version{
		Number: 1,
		Collections: []types.CollectionSchema{
			{
				Name:       "entries",
				PrimaryKey: "id",
				Indexes: []types.IndexSchema{
					{Field: "category", Cardinality: 10},
					{Field: "ref", Unique: true},
					{Field: "meta.source"},
				},
			},
			{Name: "days", PrimaryKey: "n", KeyType: types.FieldNumber},
		},
	}))
	return r
}

func forEachEngine(t *testing.T, fn func(t *testing.T, h *store.Handle)) {
	for _, kind := range engine.Kinds() {
		t.Run(kind, func(t *testing.T) {
			m := testutil.NewManager(t, kind, store.WithRegistry(ledgerRegistry(t)))
			h, err := m.Open(context.Background(), "ledger")
			require.NoError(t, err)
			fn(t, h)
		})
	}
}

func write(t *testing.T, h *store.Handle, body func(txn *store.Txn) error) error {
	t.Helper()
	return h.WithTransaction(context.Background(), []string{"entries", "days"}, types.ReadWrite, body)
}

func read(t *testing.T, h *store.Handle, body func(txn *store.Txn) error) {
	t.Helper()
	require.NoError(t, h.WithTransaction(context.Background(), []string{"entries", "days"}, types.ReadOnly, body))
}

func getEntry(t *testing.T, h *store.Handle, key any) (types.Record, bool) {
	t.Helper()
	var rec types.Record
	var found bool
	read(t, h, func(txn *store.Txn) error {
		var err error
		rec, found, err = txn.Get("entries", key)
		return err
	})
	return rec, found
}

func TestCRUD(t *testing.T) {
	forEachEngine(t, func(t *testing.T, h *store.Handle) {
		t.Run("round trip", func(t *testing.T) {
			in := types.Record{"id": "a", "amount": 100, "category": "food", "meta": map[string]any{"source": "card"}}
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				stored, err := txn.Insert("entries", in)
				require.NoError(t, err)
				assert.Equal(t, 100.0, stored["amount"])
				return nil
			}))

			got, found := getEntry(t, h, "a")
			require.True(t, found)
			assert.Equal(t, types.Record{"id": "a", "amount": 100.0, "category": "food", "meta": map[string]any{"source": "card"}}, got)

			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				_, err := txn.Update("entries", "a", types.Record{"amount": 80, "category": "travel"})
				return err
			}))
			got, _ = getEntry(t, h, "a")
			assert.Equal(t, types.Record{"id": "a", "amount": 80.0, "category": "travel"}, got)
			testutil.AssertIndexesConsistent(t, h, "entries")

			require.NoError(t, write(t, h, func(txn *store.Txn) error { return txn.Delete("entries", "a") }))
			_, found = getEntry(t, h, "a")
			assert.False(t, found)
			testutil.AssertIndexesConsistent(t, h, "entries")
		})

		t.Run("duplicate primary key leaves the store unchanged", func(t *testing.T) {
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "dup", "category": "x"})
				return err
			}))
			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "dup", "category": "y"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrDuplicateKey)
			got, _ := getEntry(t, h, "dup")
			assert.Equal(t, "x", got["category"])
		})

		t.Run("duplicate inside one transaction", func(t *testing.T) {
			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "same"})
				require.NoError(t, err)
				_, err = txn.Insert("entries", types.Record{"id": "same"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrDuplicateKey)
			_, found := getEntry(t, h, "same")
			assert.False(t, found, "the failed transaction rolled back")
		})

		t.Run("unique index", func(t *testing.T) {
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "u1", "ref": "R-1"})
				return err
			}))
			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "u2", "ref": "R-1"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrDuplicateKey)

			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				// a record may keep its own value
				_, err := txn.Update("entries", "u1", types.Record{"ref": "R-1", "note": "same ref"})
				return err
			}))
			err = write(t, h, func(txn *store.Txn) error {
				_, err := txn.Put("entries", types.Record{"id": "u3", "ref": "R-1"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrDuplicateKey)
		})

		t.Run("update and delete of missing keys", func(t *testing.T) {
			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Update("entries", "ghost", types.Record{"x": 1})
				return err
			})
			assert.ErrorIs(t, err, types.ErrNotFound)

			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				require.NoError(t, txn.Delete("entries", "ghost"))
				return txn.Delete("entries", "ghost")
			}))
		})

		t.Run("update cannot change the key", func(t *testing.T) {
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "k1"})
				return err
			}))
			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Update("entries", "k1", types.Record{"id": "k2"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrInvalidRecord)
		})

		t.Run("put inserts then replaces", func(t *testing.T) {
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				if _, err := txn.Put("entries", types.Record{"id": "p", "category": "one"}); err != nil {
					return err
				}
				_, err := txn.Put("entries", types.Record{"id": "p", "category": "two"})
				return err
			}))
			got, _ := getEntry(t, h, "p")
			assert.Equal(t, "two", got["category"])
			testutil.AssertIndexesConsistent(t, h, "entries")
		})

		t.Run("numeric keys keep numeric order", func(t *testing.T) {
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				for _, n := range []int{10, 2, 33, -1} {
					if _, err := txn.Insert("days", types.Record{"n": n}); err != nil {
						return err
					}
				}
				return nil
			}))
			read(t, h, func(txn *store.Txn) error {
				all, err := txn.GetAll("days")
				require.NoError(t, err)
				var keys []float64
				for _, r := range all {
					keys = append(keys, r["n"].(float64))
				}
				assert.Equal(t, []float64{-1, 2, 10, 33}, keys)

				rec, found, err := txn.Get("days", 2)
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, 2.0, rec["n"])
				return nil
			})

			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("days", types.Record{"n": "ten"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrInvalidRecord)
		})

		t.Run("invalid records", func(t *testing.T) {
			for _, rec := range []types.Record{
				{"category": "no key"},
				{"id": ""},
				{"id": true},
				{"id": map[string]any{"a": 1}},
			} {
				err := write(t, h, func(txn *store.Txn) error {
					_, err := txn.Insert("entries", rec)
					return err
				})
				assert.ErrorIs(t, err, types.ErrInvalidRecord, "%v", rec)
			}
		})

		t.Run("invalid utf-8 is rejected everywhere", func(t *testing.T) {
			err := write(t, h, func(txn *store.Txn) error {
				_, err := txn.Insert("entries", types.Record{"id": "a\xff", "category": "d\xfe"})
				return err
			})
			assert.ErrorIs(t, err, types.ErrInvalidRecord)
			read(t, h, func(txn *store.Txn) error {
				all, err := txn.GetAll("entries")
				require.NoError(t, err)
				for _, rec := range all {
					assert.NotContains(t, rec["id"], "\uFFFD")
				}
				_, _, err = txn.Get("entries", "a\xff")
				assert.ErrorIs(t, err, types.ErrInvalidRecord)
				_, err = txn.Query("entries", types.Query{Predicates: []types.Predicate{
					{Field: "category", Op: types.OpEq, Value: "d\xfe"},
				}})
				assert.ErrorIs(t, err, types.ErrInvalidQuery)
				return nil
			})

			err = write(t, h, func(txn *store.Txn) error {
				_, err := txn.Update("entries", "a\xff", types.Record{"x": 1})
				return err
			})
			assert.ErrorIs(t, err, types.ErrInvalidRecord)
			err = write(t, h, func(txn *store.Txn) error { return txn.Delete("entries", "a\xff") })
			assert.ErrorIs(t, err, types.ErrInvalidRecord)
		})

		t.Run("concrete scenario", func(t *testing.T) {
			require.NoError(t, write(t, h, func(txn *store.Txn) error {
				for _, rec := range []types.Record{
					{"id": "s-a", "amount": 100, "category": "groceries"},
					{"id": "s-b", "amount": 50, "category": "groceries"},
				} {
					if _, err := txn.Insert("entries", rec); err != nil {
						return err
					}
				}
				return nil
			}))

			groceries := []types.Predicate{{Field: "category", Op: types.OpEq, Value: "groceries"}}
			sum := func() float64 {
				var total float64
				read(t, h, func(txn *store.Txn) error {
					res, err := txn.Aggregate("entries", types.AggregateSpec{Predicates: groceries, Metric: analytics.Sum("amount")})
					require.NoError(t, err)
					total = res.Value
					return nil
				})
				return total
			}

			read(t, h, func(txn *store.Txn) error {
				got, err := txn.Query("entries", types.Query{Predicates: groceries})
				require.NoError(t, err)
				assert.Equal(t, []string{"s-a", "s-b"}, testutil.IDs(got))
				return nil
			})
			assert.Equal(t, 150.0, sum())

			require.NoError(t, write(t, h, func(txn *store.Txn) error { return txn.Delete("entries", "s-a") }))
			assert.Equal(t, 50.0, sum())
		})
	})
}

func TestTxnScope(t *testing.T) {
	h := testutil.OpenDomain(t, "food")
	ctx := context.Background()

	t.Run("unknown collection", func(t *testing.T) {
		_, err := h.Begin(ctx, []string{"garage"}, types.ReadOnly)
		assert.ErrorIs(t, err, types.ErrUnknownCollection)
	})

	t.Run("collection outside the scope", func(t *testing.T) {
		txn, err := h.Begin(ctx, []string{"pantry"}, types.ReadWrite)
		require.NoError(t, err)
		defer func() { _ = txn.Rollback() }()
		_, err = txn.Insert("recipes", types.Record{"name": "Soup"})
		assert.ErrorIs(t, err, types.ErrCollectionNotInScope)
		_, err = txn.GetAll("garage")
		assert.ErrorIs(t, err, types.ErrUnknownCollection)
	})

	t.Run("writes in a read-only transaction", func(t *testing.T) {
		txn, err := h.Begin(ctx, []string{"pantry"}, types.ReadOnly)
		require.NoError(t, err)
		defer func() { _ = txn.Rollback() }()
		_, err = txn.Insert("pantry", types.Record{"name": "Milk"})
		assert.ErrorIs(t, err, types.ErrReadOnlyTransaction)
		assert.ErrorIs(t, txn.Delete("pantry", "x"), types.ErrReadOnlyTransaction)
	})

	t.Run("finished transaction", func(t *testing.T) {
		txn, err := h.Begin(ctx, []string{"pantry"}, types.ReadWrite)
		require.NoError(t, err)
		require.NoError(t, txn.Commit())
		_, _, err = txn.Get("pantry", "x")
		assert.ErrorIs(t, err, types.ErrTransactionDone)
		assert.ErrorIs(t, txn.Commit(), types.ErrTransactionDone)
		assert.NoError(t, txn.Rollback())
	})

	t.Run("generated keys", func(t *testing.T) {
		var id any
		err := h.WithTransaction(ctx, []string{"pantry"}, types.ReadWrite, func(txn *store.Txn) error {
			rec, err := txn.Insert("pantry", types.Record{"name": "Milk"})
			id = rec["id"]
			return err
		})
		require.NoError(t, err)
		assert.Len(t, id, 36)

		err = h.WithTransaction(ctx, []string{"preferences"}, types.ReadWrite, func(txn *store.Txn) error {
			_, err := txn.Insert("preferences", types.Record{"diet": "none"})
			return err
		})
		assert.ErrorIs(t, err, types.ErrInvalidRecord, "preferences has no generated keys")
	})
}

func TestAggregateMatchesQuery(t *testing.T) {
	h := testutil.OpenDomain(t, "payments")
	u := testutil.LoadUniverse(t, h)

	cases := [][]types.Predicate{
		nil,
		{{Field: "status", Op: types.OpEq, Value: "completed"}},
		{{Field: "platform", Op: types.OpIn, Values: []any{"venmo", "cashapp"}}},
		{{Field: "createdAt", Op: types.OpBetween, Value: "2026-01-01", Upper: "2026-01-31"}},
		{{Field: "category", Op: types.OpEq, Value: "food"}, {Field: "amount", Op: types.OpGt, Value: 50}},
		{{Field: "note", Op: types.OpContains, Value: "luigi"}},
		{{Field: "missing", Op: types.OpEq, Value: "x"}},
	}
	err := h.WithTransaction(context.Background(), []string{"transactions"}, types.ReadOnly, func(txn *store.Txn) error {
		for _, preds := range cases {
			got, err := txn.Query("transactions", types.Query{Predicates: preds})
			require.NoError(t, err)
			res, err := txn.Aggregate("transactions", types.AggregateSpec{Predicates: preds, Metric: analytics.Sum("amount")})
			require.NoError(t, err)
			assert.Equal(t, testutil.Sum(got, "amount"), res.Value, "%v", preds)
			assert.Equal(t, len(got), res.Count)
		}

		res, err := txn.Aggregate("transactions", types.AggregateSpec{GroupBy: "category", Metric: analytics.Sum("amount")})
		require.NoError(t, err)
		food, ok := res.Group("food")
		require.True(t, ok)
		assert.Equal(t, testutil.Sum(u.Where("transactions", func(r types.Record) bool { return r["category"] == "food" }), "amount"), food.Value)
		none, ok := res.Group(nil)
		require.True(t, ok)
		assert.Equal(t, 30.0, none.Value)
		return nil
	})
	require.NoError(t, err)
}
