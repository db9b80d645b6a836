package types

// MetricKind selects the fold an aggregate applies
type MetricKind string

const (
	MetricSum     MetricKind = "sum"
	MetricCount   MetricKind = "count"
	MetricAverage MetricKind = "average"
	MetricTopN    MetricKind = "top"
)

// Metric is an aggregate fold over a numeric field.
// Field is ignored for count; N is only used by top-N.
type Metric struct {
	Kind  MetricKind
	Field string
	N     int
}

// AggregateSpec describes an aggregate over a filtered record set
type AggregateSpec struct {
	Predicates []Predicate
	GroupBy    string
	Metric     Metric
}

// Group is the metric computed over one partition of the filtered set
type Group struct {
	// Key is the distinct group field value; nil collects records
	// without the field.
	Key   any
	Count int
	Value float64
	Top   []Record
}

// AggregateResult holds the metric over the whole filtered set and, when
// grouping was requested, per group in first-occurrence order.
type AggregateResult struct {
	Metric Metric
	Count  int
	Value  float64
	Top    []Record
	Groups []Group
}

// Group returns the group with the given key
func (r *AggregateResult) Group(key any) (Group, bool) {
	key = NormalizeValue(key)
	for _, g := range r.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}
