// Package analytics folds filtered record sets into sums, counts, averages
// and top-N lists, optionally partitioned by a group field.
//
// Results are computed from the records on every call; nothing is cached,
// so an aggregate always reflects the snapshot it was read from.
package analytics

import (
	"fmt"
	"sort"

	"github.com/arthur-debert/lifestore/lifestore/query"
	"github.com/arthur-debert/lifestore/types"
)

// Sum adds up the numeric values of field
func Sum(field string) types.Metric {
	return types.Metric{Kind: types.MetricSum, Field: field}
}

// Count counts the records
func Count() types.Metric {
	return types.Metric{Kind: types.MetricCount}
}

// Average is the mean of the numeric values of field
func Average(field string) types.Metric {
	return types.Metric{Kind: types.MetricAverage, Field: field}
}

// TopN keeps the n records with the largest numeric values of field
func TopN(field string, n int) types.Metric {
	return types.Metric{Kind: types.MetricTopN, Field: field, N: n}
}

// Validate checks the spec before any record is read
func Validate(spec types.AggregateSpec) error {
	m := spec.Metric
	switch m.Kind {
	case types.MetricCount:
	case types.MetricSum, types.MetricAverage:
		if m.Field == "" {
			return fmt.Errorf("%w: %s needs a field", types.ErrInvalidQuery, m.Kind)
		}
	case types.MetricTopN:
		if m.Field == "" {
			return fmt.Errorf("%w: top needs a field", types.ErrInvalidQuery)
		}
		if m.N <= 0 {
			return fmt.Errorf("%w: top needs a positive n, got %d", types.ErrInvalidQuery, m.N)
		}
	default:
		return fmt.Errorf("%w: unknown metric %q", types.ErrInvalidQuery, m.Kind)
	}
	for _, p := range spec.Predicates {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Run filters the collection with the spec's predicates and folds the
// matching records.
func Run(src query.Source, collection string, spec types.AggregateSpec) (*types.AggregateResult, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	records, err := query.Run(src, collection, types.Query{Predicates: spec.Predicates})
	if err != nil {
		return nil, err
	}
	return Compute(records, spec.GroupBy, spec.Metric), nil
}

// Compute folds records that were already filtered. Groups follow the
// first occurrence of their key in records; a record whose group field is
// missing or not a scalar lands in the group with a nil key.
func Compute(records []types.Record, groupBy string, m types.Metric) *types.AggregateResult {
	total := newAccumulator(m)
	result := &types.AggregateResult{Metric: m}

	var groups []*accumulator
	var keys []any
	index := make(map[any]int)
	for _, rec := range records {
		total.add(rec)
		if groupBy == "" {
			continue
		}
		key := groupKey(rec, groupBy)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, newAccumulator(m))
			keys = append(keys, key)
		}
		groups[i].add(rec)
	}

	result.Count, result.Value, result.Top = total.result()
	for i, acc := range groups {
		g := types.Group{Key: keys[i]}
		g.Count, g.Value, g.Top = acc.result()
		result.Groups = append(result.Groups, g)
	}
	return result
}

func groupKey(rec types.Record, field string) any {
	v, ok := rec.Lookup(field)
	if !ok || !types.IsScalar(v) {
		return nil
	}
	return types.NormalizeValue(v)
}

type ranked struct {
	value float64
	rec   types.Record
}

type accumulator struct {
	metric  types.Metric
	count   int
	numeric int
	sum     float64
	top     []ranked
}

func newAccumulator(m types.Metric) *accumulator {
	return &accumulator{metric: m}
}

func (a *accumulator) add(rec types.Record) {
	a.count++
	if a.metric.Kind == types.MetricCount {
		return
	}
	v, ok := rec.Lookup(a.metric.Field)
	if !ok {
		return
	}
	f, ok := types.NormalizeValue(v).(float64)
	if !ok {
		return
	}
	a.numeric++
	a.sum += f
	if a.metric.Kind == types.MetricTopN {
		a.top = append(a.top, ranked{value: f, rec: rec})
	}
}

func (a *accumulator) result() (count int, value float64, top []types.Record) {
	switch a.metric.Kind {
	case types.MetricCount:
		return a.count, float64(a.count), nil
	case types.MetricSum:
		return a.count, a.sum, nil
	case types.MetricAverage:
		if a.numeric == 0 {
			return a.count, 0, nil
		}
		return a.count, a.sum / float64(a.numeric), nil
	case types.MetricTopN:
		// stable keeps earlier records first among equal values
		sort.SliceStable(a.top, func(i, j int) bool { return a.top[i].value > a.top[j].value })
		n := a.metric.N
		if n > len(a.top) {
			n = len(a.top)
		}
		top = make([]types.Record, n)
		for i := 0; i < n; i++ {
			top[i] = a.top[i].rec
		}
		return a.count, a.sum, top
	default:
		return a.count, 0, nil
	}
}
