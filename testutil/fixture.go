// Package testutil provides fixtures, assertions and fault injection for
// lifestore tests.
package testutil

import (
	"context"
	"embed"
	"encoding/json"
	"sort"
	"testing"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

//go:embed testdata/*.json
var fixtures embed.FS

// Universe gives tests typed access to the records of a loaded fixture
type Universe struct {
	Domain string

	// Records holds the stored records per collection in primary key order
	Records map[string][]types.Record

	// ByID indexes the records of each collection by their "id" field
	ByID map[string]map[string]types.Record
}

// Record returns a fixture record or fails the test
func (u *Universe) Record(t testing.TB, collection, id string) types.Record {
	t.Helper()
	rec, ok := u.ByID[collection][id]
	if !ok {
		t.Fatalf("fixture %s has no %s record %q", u.Domain, collection, id)
	}
	return rec.Clone()
}

// Where returns the fixture records of collection accepted by keep
func (u *Universe) Where(collection string, keep func(types.Record) bool) []types.Record {
	var out []types.Record
	for _, rec := range u.Records[collection] {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Sum adds up the numeric values of field over recs
func Sum(recs []types.Record, field string) float64 {
	total := 0.0
	for _, rec := range recs {
		if v, ok := rec.Lookup(field); ok {
			if f, ok := types.NormalizeValue(v).(float64); ok {
				total += f
			}
		}
	}
	return total
}

// IDs returns the "id" field of each record
func IDs(recs []types.Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		id, _ := rec["id"].(string)
		out = append(out, id)
	}
	return out
}

// NewManager creates a manager storing its domains in a temporary
// directory with the given engine. It is closed when the test ends.
func NewManager(t testing.TB, kind string, opts ...store.Option) *store.Manager {
	t.Helper()
	all := append([]store.Option{
		store.WithDataDir(t.TempDir()),
		store.WithEngine(kind),
	}, opts...)
	m := store.NewManager(all...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// OpenDomain opens domain on a fresh in-memory manager
func OpenDomain(t testing.TB, domain string, opts ...store.Option) *store.Handle {
	t.Helper()
	h, err := NewManager(t, engine.KindMemory, opts...).Open(context.Background(), domain)
	if err != nil {
		t.Fatalf("failed to open %s: %v", domain, err)
	}
	return h
}

// LoadUniverse inserts the embedded fixture of the handle's domain
// (testdata/<domain>.json) and returns the stored records.
func LoadUniverse(t testing.TB, h *store.Handle) *Universe {
	t.Helper()

	data, err := fixtures.ReadFile("testdata/" + h.Domain() + ".json")
	if err != nil {
		t.Fatalf("no fixture for domain %s: %v", h.Domain(), err)
	}
	var fixture map[string][]types.Record
	if err := json.Unmarshal(data, &fixture); err != nil {
		t.Fatalf("failed to parse %s fixture: %v", h.Domain(), err)
	}

	collections := make([]string, 0, len(fixture))
	for name := range fixture {
		collections = append(collections, name)
	}
	sort.Strings(collections)

	u := &Universe{
		Domain:  h.Domain(),
		Records: make(map[string][]types.Record),
		ByID:    make(map[string]map[string]types.Record),
	}
	err = h.WithTransaction(context.Background(), collections, types.ReadWrite, func(txn *store.Txn) error {
		for _, name := range collections {
			for _, rec := range fixture[name] {
				if _, err := txn.Insert(name, rec); err != nil {
					return err
				}
			}
		}
		for _, name := range collections {
			recs, err := txn.GetAll(name)
			if err != nil {
				return err
			}
			u.Records[name] = recs
			u.ByID[name] = make(map[string]types.Record, len(recs))
			for _, rec := range recs {
				if id, ok := rec["id"].(string); ok {
					u.ByID[name][id] = rec
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to load %s fixture: %v", h.Domain(), err)
	}
	return u
}
