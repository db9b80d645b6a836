package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/lifestore/lifestore"
	"github.com/arthur-debert/lifestore/lifestore/query"
	"github.com/arthur-debert/lifestore/lifestore/search"
	"github.com/arthur-debert/lifestore/types"
)

func (cli *CLI) addCommands() {
	// introspection
	cli.addDomainsCommand()
	cli.addSchemaCommand()
	cli.addOpenCommand()
	cli.addValidateCommand()

	// records
	cli.addInsertCommand()
	cli.addGetCommand()
	cli.addUpdateCommand()
	cli.addDeleteCommand()
	cli.addQueryCommand()
	cli.addAggregateCommand()
	cli.addSearchCommand()

	// domain services
	cli.addReportCommands()
}

type domainInfo struct {
	Name        string   `json:"name"`
	Version     int      `json:"version"`
	Collections []string `json:"collections"`
}

func (cli *CLI) addDomainsCommand() {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List registered domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			reg := cli.store.Registry()
			var infos []domainInfo
			for _, name := range reg.Domains() {
				latest, err := reg.Latest(name)
				if err != nil {
					return WrapError("list domains", err)
				}
				s, err := reg.Schema(name, latest)
				if err != nil {
					return WrapError("list domains", err)
				}
				infos = append(infos, domainInfo{Name: name, Version: latest, Collections: s.Names()})
			}
			if done, err := p.structured(infos); done {
				return err
			}
			rows := make([][]string, len(infos))
			for i, d := range infos {
				rows[i] = []string{d.Name, strconv.Itoa(d.Version), strings.Join(d.Collections, ", ")}
			}
			return p.table([]string{"domain", "version", "collections"}, rows)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

type schemaInfo struct {
	Domain      string                   `json:"domain"`
	Version     int                      `json:"version"`
	Collections []types.CollectionSchema `json:"collections"`
}

func (cli *CLI) addSchemaCommand() {
	cmd := &cobra.Command{
		Use:   "schema <domain>",
		Short: "Show the collections and indexes of a domain",
		Long: `Show the collections and indexes a domain has at a schema version.

Examples:
  lifestore schema payments
  lifestore schema payments --version 1 --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			reg := cli.store.Registry()
			version, _ := cmd.Flags().GetInt("version")
			if version == 0 {
				if version, err = reg.Latest(args[0]); err != nil {
					return NewDomainError("show schema", args[0], reg.Domains(), err)
				}
			}
			s, err := reg.Schema(args[0], version)
			if err != nil {
				return NewDomainError("show schema", args[0], reg.Domains(), err)
			}

			info := schemaInfo{Domain: s.Domain, Version: s.Version, Collections: s.Collections}
			if done, err := p.structured(info); done {
				return err
			}
			rows := make([][]string, len(s.Collections))
			for i, c := range s.Collections {
				rows[i] = []string{c.Name, c.PrimaryKey, string(c.KeyType), strconv.FormatBool(c.AutoKey), describeIndexes(c.Indexes)}
			}
			return p.table([]string{"collection", "primaryKey", "keyType", "autoKey", "indexes"}, rows)
		},
	}
	cmd.Flags().Int("version", 0, "Schema version (default latest)")
	cli.rootCmd.AddCommand(cmd)
}

func describeIndexes(indexes []types.IndexSchema) string {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		var attrs []string
		if idx.Unique {
			attrs = append(attrs, "unique")
		}
		if idx.Type != "" {
			attrs = append(attrs, string(idx.Type))
		}
		parts[i] = idx.Field
		if len(attrs) > 0 {
			parts[i] += "(" + strings.Join(attrs, ",") + ")"
		}
	}
	return strings.Join(parts, ", ")
}

type openInfo struct {
	Domain  string `json:"domain"`
	Engine  string `json:"engine"`
	Version int    `json:"version"`
	From    int    `json:"from"`
	Applied []int  `json:"applied"`
}

func (cli *CLI) addOpenCommand() {
	cmd := &cobra.Command{
		Use:   "open <domain>",
		Short: "Create or upgrade a domain store and report the migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			h, err := cli.openDomain(cmd, args[0])
			if err != nil {
				return err
			}
			report := h.LastMigration()
			info := openInfo{
				Domain:  h.Domain(),
				Engine:  h.Engine(),
				Version: h.Version(),
				From:    report.From,
				Applied: report.Applied,
			}
			if info.Applied == nil {
				info.Applied = []int{}
			}
			if done, err := p.structured(info); done {
				return err
			}
			if len(report.Applied) == 0 {
				return p.success("%s is up to date at version %d (%s)", info.Domain, info.Version, info.Engine)
			}
			return p.success("%s upgraded from version %d to %d (%s), applied %v",
				info.Domain, report.From, report.To, info.Engine, report.Applied)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// readRecord parses a JSON object from arg, or from stdin when arg is "-"
func readRecord(cmd *cobra.Command, arg string) (types.Record, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	}
	return types.DecodeRecord(data)
}

// parseKey converts a CLI key to the collection's key type
func parseKey(c types.CollectionSchema, raw string) any {
	switch c.KeyType {
	case types.FieldString:
		return raw
	case types.FieldNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	}
	// untyped keys parse like --where values, except booleans and null
	if v := query.ParseValue(raw); v != nil {
		if _, isBool := v.(bool); !isBool {
			return v
		}
	}
	return raw
}

// collection opens domain and returns the declaration of name
func (cli *CLI) collection(cmd *cobra.Command, domain, name string) (*lifestore.Handle, types.CollectionSchema, error) {
	h, err := cli.openDomain(cmd, domain)
	if err != nil {
		return nil, types.CollectionSchema{}, err
	}
	c, err := h.Collection(name)
	if err != nil {
		return nil, c, NewStoreError("open collection", err, fmt.Sprintf("Collections of %s: %s", domain, strings.Join(h.Collections(), ", ")))
	}
	return h, c, nil
}

func (cli *CLI) addInsertCommand() {
	cmd := &cobra.Command{
		Use:   "insert <domain> <collection> <json|->",
		Short: "Insert a record",
		Long: `Insert a JSON record. A missing primary key is generated when the
collection declares one. With --put an existing record is replaced.

Examples:
  lifestore insert food pantry '{"name": "Milk", "category": "dairy", "quantity": 1}'
  cat tx.json | lifestore insert payments transactions -`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			rec, err := readRecord(cmd, args[2])
			if err != nil {
				return NewStoreError("insert record", err, "Pass a JSON object or '-' to read it from stdin")
			}
			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			put, _ := cmd.Flags().GetBool("put")

			var out types.Record
			err = h.WithTransaction(cmd.Context(), []string{c.Name}, types.ReadWrite, func(txn *lifestore.Txn) error {
				if put {
					out, err = txn.Put(c.Name, rec)
				} else {
					out, err = txn.Insert(c.Name, rec)
				}
				return err
			})
			if err != nil {
				return WrapError("insert record", err)
			}
			cli.logger.Info("record inserted", "domain", h.Domain(), "collection", c.Name, "key", out[c.PrimaryKey])
			return p.record(out, c.PrimaryKey)
		},
	}
	cmd.Flags().Bool("put", false, "Replace the record if the key exists")
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) addGetCommand() {
	cmd := &cobra.Command{
		Use:   "get <domain> <collection> <key>",
		Short: "Show one record by primary key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			rec, err := lifestore.Get(cmd.Context(), h, c.Name, parseKey(c, args[2]))
			if err != nil {
				return WrapError("get record", err)
			}
			return p.record(rec, c.PrimaryKey)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) addUpdateCommand() {
	cmd := &cobra.Command{
		Use:   "update <domain> <collection> <key> <json|->",
		Short: "Replace the record stored under a key",
		Long: `Replace a record. With --merge the JSON fields are merged into the
stored record instead.

Examples:
  lifestore update payments transactions tx-1 '{"status": "completed"}' --merge`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			rec, err := readRecord(cmd, args[3])
			if err != nil {
				return NewStoreError("update record", err)
			}
			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			key := parseKey(c, args[2])
			merge, _ := cmd.Flags().GetBool("merge")

			var out types.Record
			err = h.WithTransaction(cmd.Context(), []string{c.Name}, types.ReadWrite, func(txn *lifestore.Txn) error {
				if merge {
					stored, found, err := txn.Get(c.Name, key)
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("%w: %s %v", types.ErrNotFound, c.Name, key)
					}
					for k, v := range rec {
						stored[k] = v
					}
					rec = stored
				}
				out, err = txn.Update(c.Name, key, rec)
				return err
			})
			if err != nil {
				return WrapError("update record", err)
			}
			return p.record(out, c.PrimaryKey)
		},
	}
	cmd.Flags().Bool("merge", false, "Merge fields into the stored record")
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) addDeleteCommand() {
	cmd := &cobra.Command{
		Use:   "delete <domain> <collection> <key>...",
		Short: "Delete records by primary key",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			err = h.WithTransaction(cmd.Context(), []string{c.Name}, types.ReadWrite, func(txn *lifestore.Txn) error {
				for _, raw := range args[2:] {
					if err := txn.Delete(c.Name, parseKey(c, raw)); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return WrapError("delete records", err)
			}
			return p.success("deleted %d from %s/%s", len(args)-2, h.Domain(), c.Name)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// parseQuery builds a query from the --where, --sort, --limit and --offset flags
func parseQuery(cmd *cobra.Command) (types.Query, error) {
	var q types.Query
	wheres, _ := cmd.Flags().GetStringArray("where")
	for _, w := range wheres {
		pred, err := query.ParsePredicate(w)
		if err != nil {
			return q, NewValidationError("parse query", "--where", w, CommonSuggestions.CheckWhere)
		}
		q.Predicates = append(q.Predicates, pred)
	}
	if cmd.Flags().Lookup("sort") != nil {
		sorts, _ := cmd.Flags().GetStringArray("sort")
		for _, s := range sorts {
			clause, err := query.ParseSort(s)
			if err != nil {
				return q, NewValidationError("parse query", "--sort", s, "Use --sort field or --sort -field for descending order")
			}
			q.Sort = append(q.Sort, clause)
		}
		q.Limit, _ = cmd.Flags().GetInt("limit")
		q.Offset, _ = cmd.Flags().GetInt("offset")
	}
	return q, nil
}

func (cli *CLI) addQueryCommand() {
	cmd := &cobra.Command{
		Use:     "query <domain> <collection>",
		Aliases: []string{"list"},
		Short:   "List records matching predicates",
		Long: `List the records of a collection, filtered by --where predicates
(combined with AND) and ordered by --sort.

Predicate syntax:
  status=pending           equality
  status=pending|failed    membership
  amount=10..20            inclusive range
  amount>=10               comparison (>, >=, <, <=)
  name~pasta               case-insensitive substring

Examples:
  lifestore list food pantry --sort expirationDate
  lifestore query payments transactions --where platform=venmo --where amount>=20 --sort -createdAt --limit 5
  lifestore query payments transactions --where status=pending --explain`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			q, err := parseQuery(cmd)
			if err != nil {
				return err
			}
			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}

			if explain, _ := cmd.Flags().GetBool("explain"); explain {
				var plan string
				err = h.WithTransaction(cmd.Context(), []string{c.Name}, types.ReadOnly, func(txn *lifestore.Txn) error {
					plan, err = txn.Explain(c.Name, q)
					return err
				})
				if err != nil {
					return WrapError("explain query", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), plan)
				return err
			}

			recs, err := lifestore.Query(cmd.Context(), h, c.Name, q)
			if err != nil {
				return WrapError("query records", err)
			}
			cli.logger.Debug("query", "domain", h.Domain(), "collection", c.Name, "predicates", len(q.Predicates), "results", len(recs))
			return p.records(recs, c.PrimaryKey)
		},
	}
	cmd.Flags().StringArrayP("where", "w", nil, "Predicate (repeatable)")
	cmd.Flags().StringArrayP("sort", "s", nil, "Sort field, prefix with - for descending (repeatable)")
	cmd.Flags().IntP("limit", "n", 0, "Maximum number of records")
	cmd.Flags().Int("offset", 0, "Number of records to skip")
	cmd.Flags().Bool("explain", false, "Show the query plan instead of running it")
	cli.rootCmd.AddCommand(cmd)
}

type groupView struct {
	Key   any            `json:"key"`
	Count int            `json:"count"`
	Value float64        `json:"value"`
	Top   []types.Record `json:"top,omitempty"`
}

type aggregateView struct {
	Metric string         `json:"metric"`
	Field  string         `json:"field,omitempty"`
	Count  int            `json:"count"`
	Value  float64        `json:"value"`
	Top    []types.Record `json:"top,omitempty"`
	Groups []groupView    `json:"groups,omitempty"`
}

func (cli *CLI) addAggregateCommand() {
	cmd := &cobra.Command{
		Use:   "aggregate <domain> <collection>",
		Short: "Compute sum, count, average or top-N over matching records",
		Long: `Compute a metric over the records matching --where predicates,
optionally per distinct value of --group-by.

Examples:
  lifestore aggregate payments transactions --metric sum --field amount --group-by platform
  lifestore aggregate payments transactions --metric count --where status=pending
  lifestore aggregate food pantry --metric top --field price --n 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			q, err := parseQuery(cmd)
			if err != nil {
				return err
			}
			metric, _ := cmd.Flags().GetString("metric")
			field, _ := cmd.Flags().GetString("field")
			n, _ := cmd.Flags().GetInt("n")
			groupBy, _ := cmd.Flags().GetString("group-by")
			spec := types.AggregateSpec{
				Predicates: q.Predicates,
				GroupBy:    groupBy,
				Metric:     types.Metric{Kind: types.MetricKind(metric), Field: field, N: n},
			}

			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			res, err := lifestore.Aggregate(cmd.Context(), h, c.Name, spec)
			if err != nil {
				return WrapError("aggregate records", err)
			}
			return cli.printAggregate(p, res, c.PrimaryKey, groupBy)
		},
	}
	cmd.Flags().StringArrayP("where", "w", nil, "Predicate (repeatable)")
	cmd.Flags().StringP("metric", "m", string(types.MetricCount), "Metric (sum|count|average|top)")
	cmd.Flags().String("field", "", "Numeric field the metric folds")
	cmd.Flags().Int("n", 5, "Number of records kept by top")
	cmd.Flags().StringP("group-by", "g", "", "Field to group by")
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) printAggregate(p *printer, res *types.AggregateResult, primaryKey, groupBy string) error {
	view := aggregateView{
		Metric: string(res.Metric.Kind),
		Field:  res.Metric.Field,
		Count:  res.Count,
		Value:  res.Value,
		Top:    res.Top,
	}
	for _, g := range res.Groups {
		view.Groups = append(view.Groups, groupView{Key: g.Key, Count: g.Count, Value: g.Value, Top: g.Top})
	}
	if done, err := p.structured(view); done {
		return err
	}

	if res.Metric.Kind == types.MetricTopN && groupBy == "" {
		return p.records(res.Top, primaryKey)
	}
	var rows [][]string
	for _, g := range view.Groups {
		rows = append(rows, []string{formatGroupKey(g.Key), strconv.Itoa(g.Count), formatCell(g.Value)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(view.Count), formatCell(view.Value)})
	label := groupBy
	if label == "" {
		label = "group"
	}
	return p.table([]string{label, "count", view.Metric}, rows)
}

func formatGroupKey(k any) string {
	if k == nil {
		return "(none)"
	}
	return formatCell(k)
}

type searchView struct {
	Key        any               `json:"key"`
	Score      float64           `json:"score"`
	Fields     []string          `json:"fields"`
	Highlights map[string]string `json:"highlights,omitempty"`
	Record     types.Record      `json:"record"`
}

func (cli *CLI) addSearchCommand() {
	cmd := &cobra.Command{
		Use:   "search <domain> <collection> <text>",
		Short: "Rank records by how well their text matches",
		Long: `Search the string fields of a collection and rank the matches. The
first --field scores highest; without --field every string is searched.

Examples:
  lifestore search food recipes curry --field name --field ingredients.name
  lifestore search payments transactions rent --where status=completed --limit 5`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			q, err := parseQuery(cmd)
			if err != nil {
				return err
			}
			opts := search.Options{Query: args[2], Highlight: true}
			opts.Fields, _ = cmd.Flags().GetStringArray("field")
			opts.ExactMatch, _ = cmd.Flags().GetBool("exact")
			opts.CaseSensitive, _ = cmd.Flags().GetBool("case-sensitive")
			opts.MaxResults, _ = cmd.Flags().GetInt("limit")

			h, c, err := cli.collection(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			results, err := search.Collection(cmd.Context(), h, c.Name, opts, q.Predicates)
			if err != nil {
				return WrapError("search records", err)
			}

			views := make([]searchView, len(results))
			for i, r := range results {
				views[i] = searchView{Key: r.Record[c.PrimaryKey], Score: r.Score, Fields: r.MatchedFields, Highlights: r.Highlights, Record: r.Record}
			}
			if done, err := p.structured(views); done {
				return err
			}
			rows := make([][]string, len(views))
			for i, v := range views {
				rows[i] = []string{formatCell(v.Key), strconv.FormatFloat(v.Score, 'f', 2, 64), v.Highlights[v.Fields[0]], strings.Join(v.Fields, ", ")}
			}
			return p.table([]string{c.PrimaryKey, "score", "match", "fields"}, rows)
		},
	}
	cmd.Flags().StringArray("field", nil, "Field to search, dotted paths allowed (repeatable)")
	cmd.Flags().StringArrayP("where", "w", nil, "Predicate narrowing the candidates (repeatable)")
	cmd.Flags().IntP("limit", "n", 0, "Maximum number of results")
	cmd.Flags().Bool("exact", false, "Require a whole field to equal the text")
	cmd.Flags().Bool("case-sensitive", false, "Match case")
	cli.rootCmd.AddCommand(cmd)
}
