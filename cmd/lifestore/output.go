package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/lifestore/types"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printer renders command results in the selected format
type printer struct {
	w      io.Writer
	format string
	title  cases.Caser
	ok     *color.Color
	faint  *color.Color
}

func newPrinter(w io.Writer, format string, noColor bool) (*printer, error) {
	switch format {
	case formatTable, formatJSON, formatYAML:
	default:
		return nil, NewValidationError("render output", "format", format, "Use --format table, json or yaml")
	}
	p := &printer{
		w:      w,
		format: format,
		title:  cases.Title(language.Und, cases.NoLower),
		ok:     color.New(color.FgGreen, color.Bold),
		faint:  color.New(color.Faint),
	}
	if noColor {
		p.ok.DisableColor()
		p.faint.DisableColor()
	}
	return p, nil
}

// structured writes v as JSON or YAML. It reports false in table format.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		// go through JSON so YAML keys follow the json tags
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var shaped any
		if err := json.Unmarshal(data, &shaped); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(shaped); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p *printer) table(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := p.faint.Fprintln(p.w, "no results")
		return err
	}
	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	t := tablewriter.NewTable(p.w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	titled := make([]string, len(headers))
	for i, h := range headers {
		titled[i] = p.title.String(h)
	}
	t.Header(titled)
	for _, row := range rows {
		if err := t.Append(row); err != nil {
			return err
		}
	}
	return t.Render()
}

// records prints records with the primary key column first
func (p *printer) records(recs []types.Record, primaryKey string) error {
	if recs == nil {
		recs = []types.Record{}
	}
	if done, err := p.structured(recs); done {
		return err
	}

	headers := recordColumns(recs, primaryKey)
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = formatCell(rec[h])
		}
		rows[i] = row
	}
	if err := p.table(headers, rows); err != nil {
		return err
	}
	if len(recs) > 0 {
		_, err := p.faint.Fprintf(p.w, "%d records\n", len(recs))
		return err
	}
	return nil
}

func (p *printer) record(rec types.Record, primaryKey string) error {
	if done, err := p.structured(rec); done {
		return err
	}
	return p.records([]types.Record{rec}, primaryKey)
}

// success prints a confirmation line in table format only
func (p *printer) success(format string, args ...any) error {
	if p.format != formatTable {
		return nil
	}
	_, err := p.ok.Fprintf(p.w, format+"\n", args...)
	return err
}

func recordColumns(recs []types.Record, primaryKey string) []string {
	seen := map[string]bool{primaryKey: true}
	var rest []string
	for _, rec := range recs {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	return append([]string{primaryKey}, rest...)
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
