package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arthur-debert/lifestore/lifestore/keys"
	"github.com/arthur-debert/lifestore/types"
)

// Plan is the access path chosen for a query
type Plan struct {
	Collection string

	// Field is the primary key or indexed field used to narrow the
	// candidates. Empty means a full collection scan.
	Field  string
	Unique bool

	// Driver is the predicate served by the index, Ranges its key ranges
	Driver *types.Predicate
	Ranges []keys.Range

	// Predicates holds every normalized predicate; all are re-applied
	// to the candidates.
	Predicates []types.Predicate
}

type candidate struct {
	pred        types.Predicate
	pos         int // predicate position
	field       string
	unique      bool
	opRank      int
	cardinality int
	declared    int // 0 for the primary key, i+1 for the i-th index
}

func opRank(op types.Op) int {
	switch op {
	case types.OpEq:
		return 0
	case types.OpIn:
		return 1
	default:
		return 2
	}
}

// NewPlan validates the predicates and picks the index to drive the
// query. Candidates rank by uniqueness, then equality over membership over
// ranges, then the declared cardinality hint (higher first), then
// declaration order with the primary key first, then predicate order. The
// choice only depends on the schema and the predicates.
func NewPlan(schema types.CollectionSchema, preds []types.Predicate) (Plan, error) {
	plan := Plan{Collection: schema.Name}
	var cands []candidate
	for i, p := range preds {
		if err := p.Validate(); err != nil {
			return Plan{}, err
		}
		p = p.Normalized()
		plan.Predicates = append(plan.Predicates, p)
		if p.Op == types.OpContains {
			continue
		}

		c := candidate{pred: p, pos: i, field: p.Field, opRank: opRank(p.Op)}
		if p.Field == schema.PrimaryKey {
			c.unique = true
		} else {
			found := false
			for j, idx := range schema.Indexes {
				if idx.Field == p.Field {
					c.unique = idx.Unique
					c.cardinality = idx.Cardinality
					c.declared = j + 1
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return plan, nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.unique != b.unique {
			return a.unique
		}
		if a.opRank != b.opRank {
			return a.opRank < b.opRank
		}
		if a.cardinality != b.cardinality {
			return a.cardinality > b.cardinality
		}
		if a.declared != b.declared {
			return a.declared < b.declared
		}
		return a.pos < b.pos
	})

	best := cands[0]
	plan.Field = best.field
	plan.Unique = best.unique
	plan.Driver = &best.pred
	plan.Ranges = rangesFor(best.pred)
	return plan, nil
}

func rangesFor(p types.Predicate) []keys.Range {
	switch p.Op {
	case types.OpEq:
		return []keys.Range{keys.Exact(p.Value)}
	case types.OpIn:
		out := make([]keys.Range, 0, len(p.Values))
		for _, v := range p.Values {
			out = append(out, keys.Exact(v))
		}
		return out
	case types.OpLt:
		return []keys.Range{keys.AtMost(p.Value, false)}
	case types.OpLte:
		return []keys.Range{keys.AtMost(p.Value, true)}
	case types.OpGt:
		return []keys.Range{keys.AtLeast(p.Value, false)}
	case types.OpGte:
		return []keys.Range{keys.AtLeast(p.Value, true)}
	case types.OpBetween:
		return []keys.Range{keys.Between(p.Value, p.Upper)}
	default:
		return nil
	}
}

// Candidates reads the records the plan narrows the query to
func (p Plan) Candidates(src Source) ([]types.Record, error) {
	if p.Field == "" {
		return src.ScanAll(p.Collection)
	}
	if len(p.Ranges) == 0 {
		return []types.Record{}, nil
	}
	return src.ScanIndex(p.Collection, p.Field, p.Ranges)
}

// Explain describes the plan in one line
func (p Plan) Explain() string {
	var b strings.Builder
	if p.Field == "" {
		fmt.Fprintf(&b, "full scan %s", p.Collection)
	} else {
		kind := "index"
		if p.Unique {
			kind = "unique index"
		}
		fmt.Fprintf(&b, "%s scan %s.%s (%s)", kind, p.Collection, p.Field, p.Driver)
	}
	if len(p.Predicates) > 0 {
		parts := make([]string, len(p.Predicates))
		for i, pred := range p.Predicates {
			parts[i] = pred.String()
		}
		fmt.Fprintf(&b, " filter [%s]", strings.Join(parts, " AND "))
	}
	return b.String()
}
