package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/lifestore/lifestore/domains/payments"
	"github.com/arthur-debert/lifestore/types"
)

// isolate keeps config discovery and logs away from the user's files
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, "cache"))
	t.Setenv("LIFESTORE_CONFIG", "")
	for _, name := range []string{"LIFESTORE_DATA_DIR", "LIFESTORE_ENGINE", "LIFESTORE_SCHEMA", "LIFESTORE_FORMAT"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cli := NewCLI()
	var out bytes.Buffer
	cli.rootCmd.SetOut(&out)
	cli.rootCmd.SetErr(&out)
	cli.rootCmd.SetArgs(args)
	err := cli.Execute()
	return out.String(), err
}

func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := run(t, append(args, "--format", "json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestDomainsCommand(t *testing.T) {
	isolate(t)

	var domains []domainInfo
	runJSON(t, &domains, "domains", "--engine", "memory")
	require.Len(t, domains, 2)
	assert.Equal(t, domainInfo{Name: "food", Version: 1, Collections: []string{"recipes", "pantry", "groceryList", "mealLogs", "mealPlans", "waterLogs", "preferences"}}, domains[0])
	assert.Equal(t, "payments", domains[1].Name)
	assert.Equal(t, 2, domains[1].Version)
	assert.Equal(t, []string{"accounts", "transactions", "requests", "contacts"}, domains[1].Collections)

	out, err := run(t, "domains", "--engine", "memory", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "| Domain")
	assert.Contains(t, out, "payments")
}

func TestSchemaCommand(t *testing.T) {
	isolate(t)

	var info schemaInfo
	runJSON(t, &info, "schema", "payments", "--version", "1", "--engine", "memory")
	assert.Equal(t, 1, info.Version)
	tx := info.Collections[1]
	assert.Equal(t, "transactions", tx.Name)
	assert.Len(t, tx.Indexes, 4, "category is only indexed from version 2")

	out, err := run(t, "schema", "payments", "--engine", "memory", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "version: 2")
	assert.Contains(t, out, "field: category")

	_, err = run(t, "schema", "garden", "--engine", "memory")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnknownDomain)
	assert.Contains(t, err.Error(), "Run 'lifestore domains'")
}

func TestOpenCommand(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--engine", "bolt", "--no-color"}

	out, err := run(t, append([]string{"open", "payments"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "payments upgraded from version 0 to 2 (bolt), applied [1 2]")
	assert.FileExists(t, filepath.Join(dir, "payments.bolt"))

	out, err = run(t, append([]string{"open", "payments"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "payments is up to date at version 2")
}

func TestRecordCommands(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--engine", "bolt"}
	cmd := func(args ...string) []string { return append(args, base...) }

	var rec types.Record
	runJSON(t, &rec, cmd("insert", "payments", "transactions",
		`{"id": "tx-1", "type": "send", "amount": 20, "platform": "venmo", "status": "pending", "category": "food"}`)...)
	assert.Equal(t, "tx-1", rec["id"])

	var generated types.Record
	runJSON(t, &generated, cmd("insert", "payments", "transactions",
		`{"type": "receive", "amount": 45.5, "platform": "paypal", "status": "completed"}`)...)
	assert.NotEmpty(t, generated["id"])

	_, err := run(t, cmd("insert", "payments", "transactions", `{"id": "tx-1"}`)...)
	assert.ErrorIs(t, err, types.ErrDuplicateKey)

	t.Run("get and merge update", func(t *testing.T) {
		var got types.Record
		runJSON(t, &got, cmd("get", "payments", "transactions", "tx-1")...)
		assert.Equal(t, 20.0, got["amount"])

		runJSON(t, &got, cmd("update", "payments", "transactions", "tx-1", `{"status": "completed"}`, "--merge")...)
		assert.Equal(t, "completed", got["status"])
		assert.Equal(t, "food", got["category"])
	})

	t.Run("query", func(t *testing.T) {
		var recs []types.Record
		runJSON(t, &recs, cmd("query", "payments", "transactions", "--where", "status=completed", "--sort", "-amount")...)
		require.Len(t, recs, 2)
		assert.Equal(t, 45.5, recs[0]["amount"])

		runJSON(t, &recs, cmd("list", "payments", "transactions", "--where", "platform=venmo|cashapp")...)
		require.Len(t, recs, 1)

		out, err := run(t, cmd("query", "payments", "transactions", "--where", "status=pending", "--explain")...)
		require.NoError(t, err)
		assert.Contains(t, out, "index scan transactions.status")

		_, err = run(t, cmd("query", "payments", "transactions", "--where", "status")...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid --where: "status"`)

		_, err = run(t, cmd("query", "payments", "ledger")...)
		assert.ErrorIs(t, err, types.ErrUnknownCollection)
	})

	t.Run("aggregate", func(t *testing.T) {
		var res aggregateView
		runJSON(t, &res, cmd("aggregate", "payments", "transactions", "--metric", "sum", "--field", "amount", "--group-by", "platform")...)
		assert.Equal(t, 65.5, res.Value)
		require.Len(t, res.Groups, 2)
		byKey := map[any]float64{}
		for _, g := range res.Groups {
			byKey[g.Key] = g.Value
		}
		assert.Equal(t, map[any]float64{"venmo": 20.0, "paypal": 45.5}, byKey)

		out, err := run(t, cmd("aggregate", "payments", "transactions", "--group-by", "platform", "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "total")

		_, err = run(t, cmd("aggregate", "payments", "transactions", "--metric", "median", "--field", "amount")...)
		assert.ErrorIs(t, err, types.ErrInvalidQuery)
	})

	t.Run("reports", func(t *testing.T) {
		var sum payments.Summary
		runJSON(t, &sum, cmd("report", "payments")...)
		assert.Equal(t, 20.0, sum.TotalSent)
		assert.Equal(t, 45.5, sum.TotalReceived)
		assert.Equal(t, 2, sum.TotalTransactions)

		out, err := run(t, cmd("export", "--as", "csv")...)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
	})

	t.Run("search", func(t *testing.T) {
		var views []searchView
		runJSON(t, &views, cmd("search", "payments", "transactions", "FOOD", "--field", "category")...)
		require.Len(t, views, 1)
		assert.Equal(t, "tx-1", views[0].Key)
		assert.Equal(t, "**food**", views[0].Highlights["category"])

		out, err := run(t, cmd("search", "payments", "transactions", "pal", "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "platform")
	})

	t.Run("delete", func(t *testing.T) {
		_, err := run(t, cmd("delete", "payments", "transactions", "tx-1")...)
		require.NoError(t, err)
		_, err = run(t, cmd("get", "payments", "transactions", "tx-1")...)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.Contains(t, err.Error(), "record not found")
	})
}

func TestFoodReport(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--engine", "json"}

	_, err := run(t, append([]string{"insert", "food", "mealLogs",
		`{"date": "2026-10-16", "mealType": "lunch", "servings": 1, "nutrition": {"calories": 600, "protein": 30}}`}, base...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"insert", "food", "pantry",
		`{"name": "Milk", "category": "dairy", "quantity": 1, "lowStockThreshold": 2}`}, base...)...)
	require.NoError(t, err)

	var day foodDay
	runJSON(t, &day, append([]string{"report", "food", "--date", "2026-10-16"}, base...)...)
	assert.Equal(t, 600.0, day.Nutrition.Calories)
	require.Len(t, day.LowStock, 1)
	assert.Equal(t, "Milk", day.LowStock[0].Name)

	_, err = run(t, append([]string{"report", "food", "--date", "16/10/2026"}, base...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestLinkCommand(t *testing.T) {
	isolate(t)

	out, err := run(t, "link", "venmo", "sam", "--amount", "12.5", "--note", "pizza night", "--engine", "memory")
	require.NoError(t, err)
	assert.Equal(t, "https://venmo.com/sam?amount=12.5&note=pizza%20night&txn=pay\n", out)

	out, err = run(t, "link", "cashapp", "sam", "--deep", "--engine", "memory")
	require.NoError(t, err)
	assert.Equal(t, "cashapp:///$sam\n", out)

	_, err = run(t, "link", "zelle", "sam", "--engine", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Use cashapp, venmo or paypal")
}

func TestConfigSources(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		isolate(t)
		t.Setenv("LIFESTORE_ENGINE", "memory")
		out, err := run(t, "domains")
		require.NoError(t, err)
		assert.Contains(t, out, "payments")

		t.Setenv("LIFESTORE_ENGINE", "postgres")
		_, err = run(t, "domains")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown engine "postgres"`)
	})

	t.Run("config file", func(t *testing.T) {
		isolate(t)
		dir := t.TempDir()
		schema := filepath.Join(dir, "garden.yaml")
		require.NoError(t, os.WriteFile(schema, []byte(`domain: garden
versions:
  - version: 1
    collections:
      - name: plants
        primaryKey: id
        indexes:
          - { field: bed }
`), 0644))
		config := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(config, []byte("engine: bolt\ndata-dir: "+dir+"\nschema:\n  - "+schema+"\n"), 0644))
		t.Setenv("LIFESTORE_CONFIG", config)

		var info openInfo
		runJSON(t, &info, "open", "garden")
		assert.Equal(t, openInfo{Domain: "garden", Engine: "bolt", Version: 1, Applied: []int{1}}, info)
		assert.FileExists(t, filepath.Join(dir, "garden.bolt"))

		// flags win over the file
		runJSON(t, &info, "open", "garden", "--engine", "memory")
		assert.Equal(t, "memory", info.Engine)
	})

	t.Run("bad format", func(t *testing.T) {
		isolate(t)
		_, err := run(t, "domains", "--engine", "memory", "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid format: "xml"`)
	})
}

func TestParseKey(t *testing.T) {
	str := types.CollectionSchema{KeyType: types.FieldString}
	num := types.CollectionSchema{KeyType: types.FieldNumber}
	untyped := types.CollectionSchema{}

	assert.Equal(t, "42", parseKey(str, "42"))
	assert.Equal(t, 42.0, parseKey(num, "42"))
	assert.Equal(t, 42.0, parseKey(untyped, "42"))
	assert.Equal(t, "true", parseKey(untyped, "true"))
	assert.Equal(t, "tx-1", parseKey(untyped, "tx-1"))
}

func TestValidateCommands(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "garden.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`domain: garden
versions:
  - version: 1
    collections:
      - { name: plants, primaryKey: id }
`), 0644))
	bad := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`domain: garden
versions:
  - version: 2
    collections:
      - { name: plants, primaryKey: id }
`), 0644))

	out, err := run(t, "validate", "schema", good, "--engine", "memory", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "garden is valid up to version 1")

	_, err = run(t, "validate", "schema", bad, "--engine", "memory")
	assert.ErrorIs(t, err, types.ErrInvalidSchema)

	base := []string{"--data-dir", dir, "--engine", "bolt"}
	_, err = run(t, append([]string{"insert", "food", "pantry", `{"name": "Milk", "category": "dairy"}`}, base...)...)
	require.NoError(t, err)
	var found []violation
	runJSON(t, &found, append([]string{"validate", "records", "food"}, base...)...)
	assert.Empty(t, found)
}
