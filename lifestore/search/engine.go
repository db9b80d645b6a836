// Package search ranks the records of a collection against free text.
//
// Candidates come from a RecordProvider, narrowed by ordinary query
// predicates; every string reachable through the searched fields is then
// matched and scored, and results come back best first.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arthur-debert/lifestore/types"
)

// Engine implements Searcher
type Engine struct {
	provider RecordProvider
}

// NewEngine creates a search engine over provider
func NewEngine(provider RecordProvider) *Engine {
	return &Engine{provider: provider}
}

// Search returns the records matching options, highest score first. Ties
// keep the provider's order.
func (e *Engine) Search(ctx context.Context, options Options, predicates []types.Predicate) ([]Result, error) {
	if options.Query == "" {
		return []Result{}, nil
	}
	if options.StartMarker == "" {
		options.StartMarker = "**"
	}
	if options.EndMarker == "" {
		options.EndMarker = "**"
	}

	recs, err := e.provider.Records(ctx, predicates)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	results := []Result{}
	for _, rec := range recs {
		if r, ok := searchRecord(rec, options); ok {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if options.MaxResults > 0 && len(results) > options.MaxResults {
		results = results[:options.MaxResults]
	}
	return results, nil
}

// field is the text found under one searched path
type field struct {
	name  string
	texts []string
}

func searchRecord(rec types.Record, options Options) (Result, bool) {
	var fields []field
	if len(options.Fields) == 0 {
		fields = stringFields(rec)
	} else {
		for _, name := range options.Fields {
			fields = append(fields, field{name: name, texts: fieldTexts(map[string]any(rec), strings.Split(name, "."))})
		}
	}

	result := Result{Record: rec}
	for i, f := range fields {
		primary := len(options.Fields) > 0 && i == 0
		score, matchType, ok := scoreField(f, options, primary)
		if !ok {
			continue
		}
		result.MatchedFields = append(result.MatchedFields, f.name)
		if score > result.Score {
			result.Score = score
			result.MatchType = matchType
		}
		if options.Highlight {
			if result.Highlights == nil {
				result.Highlights = make(map[string]string)
			}
			result.Highlights[f.name] = highlight(strings.Join(f.texts, ", "), options)
		}
	}
	return result, len(result.MatchedFields) > 0
}

// scoreField returns the best score of any text of f
func scoreField(f field, options Options, primary bool) (float64, MatchType, bool) {
	query := options.Query
	best, found := 0.0, false
	for _, text := range f.texts {
		cmpText, cmpQuery := text, query
		if !options.CaseSensitive {
			cmpText, cmpQuery = strings.ToLower(text), strings.ToLower(query)
		}
		if options.ExactMatch {
			if cmpText == cmpQuery {
				return 1.0, exactType(primary), true
			}
			continue
		}
		if !strings.Contains(cmpText, cmpQuery) {
			continue
		}
		found = true
		if s := calculateScore(text, cmpText, query, cmpQuery, primary); s > best {
			best = s
		}
	}
	if !found {
		return 0, "", false
	}
	if primary {
		return best, MatchPartialPrimary, true
	}
	return best, MatchPartial, true
}

func exactType(primary bool) MatchType {
	if primary {
		return MatchExactPrimary
	}
	return MatchExact
}

// calculateScore rates a substring match. text and query are the original
// strings, cmpText and cmpQuery the ones compared.
func calculateScore(text, cmpText, query, cmpQuery string, primary bool) float64 {
	score := 0.5
	if primary {
		score = 0.8
	}
	// same case as typed
	if strings.Contains(text, query) {
		score += 0.2
	}
	if strings.HasPrefix(cmpText, cmpQuery) {
		score += 0.2
	}
	if float64(len(cmpQuery))/float64(len(cmpText)) > 0.5 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// highlight wraps every non-overlapping match in the markers
func highlight(text string, options Options) string {
	searchText, searchQuery := text, options.Query
	if !options.CaseSensitive {
		searchText, searchQuery = strings.ToLower(text), strings.ToLower(searchQuery)
	}
	if options.ExactMatch {
		if searchText == searchQuery {
			return options.StartMarker + text + options.EndMarker
		}
		return text
	}
	// lowering can change byte lengths outside ASCII
	if len(searchText) != len(text) {
		return text
	}

	n := len(searchQuery)
	var b strings.Builder
	last := 0
	for i := 0; i+n <= len(searchText); {
		if searchText[i:i+n] != searchQuery {
			i++
			continue
		}
		b.WriteString(text[last:i])
		b.WriteString(options.StartMarker)
		b.WriteString(text[i : i+n])
		b.WriteString(options.EndMarker)
		i += n
		last = i
	}
	b.WriteString(text[last:])
	return b.String()
}

// fieldTexts collects the strings under path, fanning out over arrays
func fieldTexts(v any, path []string) []string {
	switch val := v.(type) {
	case types.Record:
		return fieldTexts(map[string]any(val), path)
	case []any:
		var out []string
		for _, elem := range val {
			out = append(out, fieldTexts(elem, path)...)
		}
		return out
	case map[string]any:
		if len(path) == 0 {
			return nil
		}
		child, ok := val[path[0]]
		if !ok {
			return nil
		}
		return fieldTexts(child, path[1:])
	case string:
		if len(path) == 0 {
			return []string{val}
		}
	}
	return nil
}

// stringFields lists every string of rec by dotted path, keys sorted
func stringFields(rec types.Record) []field {
	var fields []field
	index := make(map[string]int)
	var walk func(path string, v any)
	walk = func(path string, v any) {
		switch val := v.(type) {
		case types.Record:
			walk(path, map[string]any(val))
		case string:
			i, ok := index[path]
			if !ok {
				i = len(fields)
				index[path] = i
				fields = append(fields, field{name: path})
			}
			fields[i].texts = append(fields[i].texts, val)
		case []any:
			for _, elem := range val {
				walk(path, elem)
			}
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if path == "" {
					walk(k, val[k])
				} else {
					walk(path+"."+k, val[k])
				}
			}
		}
	}
	walk("", map[string]any(rec))
	return fields
}
