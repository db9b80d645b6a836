package payments

import (
	"context"
	"sort"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/analytics"
	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

const (
	topCategories  = 10
	recentActivity = 10
)

// PlatformTotals summarizes completed transactions on one platform
type PlatformTotals struct {
	Sent     float64 `json:"sent"`
	Received float64 `json:"received"`
	Count    int     `json:"count"`
}

// CategoryTotal is the completed amount spent or received in a category
type CategoryTotal struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Count    int     `json:"count"`
}

// Summary reports payment activity over a period. Totals only count
// completed transactions; TotalTransactions and RecentActivity count
// every transaction in the period.
type Summary struct {
	TotalSent         float64                     `json:"totalSent"`
	TotalReceived     float64                     `json:"totalReceived"`
	TotalTransactions int                         `json:"totalTransactions"`
	ByPlatform        map[Platform]PlatformTotals `json:"byPlatform"`
	TopCategories     []CategoryTotal             `json:"topCategories"`
	RecentActivity    []Transaction               `json:"recentActivity"`
}

// Analytics summarizes the transactions created between start and end,
// inclusive. A zero bound leaves that side open. Everything is read from
// one snapshot.
func (s *Service) Analytics(ctx context.Context, start, end time.Time) (*Summary, error) {
	period := createdBetween(start, end)
	completed := append([]types.Predicate{{Field: "status", Op: types.OpEq, Value: StatusCompleted}}, period...)
	withType := func(typ string) []types.Predicate {
		return append(append([]types.Predicate(nil), completed...), types.Predicate{Field: "type", Op: types.OpEq, Value: typ})
	}

	sum := &Summary{ByPlatform: make(map[Platform]PlatformTotals)}
	err := s.h.WithTransaction(ctx, []string{Transactions}, types.ReadOnly, func(txn *store.Txn) error {
		all, err := txn.Query(Transactions, types.Query{Predicates: period, Sort: newestFirst})
		if err != nil {
			return err
		}
		sum.TotalTransactions = len(all)
		recent := all
		if len(recent) > recentActivity {
			recent = recent[:recentActivity]
		}
		if sum.RecentActivity, err = types.DecodeAll[Transaction](recent); err != nil {
			return err
		}

		counts, err := txn.Aggregate(Transactions, types.AggregateSpec{
			Predicates: completed, GroupBy: "platform", Metric: analytics.Count(),
		})
		if err != nil {
			return err
		}
		for _, g := range counts.Groups {
			if p, ok := g.Key.(string); ok {
				t := sum.ByPlatform[Platform(p)]
				t.Count = g.Count
				sum.ByPlatform[Platform(p)] = t
			}
		}

		sent, err := txn.Aggregate(Transactions, types.AggregateSpec{
			Predicates: withType(TypeSend), GroupBy: "platform", Metric: analytics.Sum("amount"),
		})
		if err != nil {
			return err
		}
		sum.TotalSent = sent.Value
		for _, g := range sent.Groups {
			if p, ok := g.Key.(string); ok {
				t := sum.ByPlatform[Platform(p)]
				t.Sent = g.Value
				sum.ByPlatform[Platform(p)] = t
			}
		}

		received, err := txn.Aggregate(Transactions, types.AggregateSpec{
			Predicates: withType(TypeReceive), GroupBy: "platform", Metric: analytics.Sum("amount"),
		})
		if err != nil {
			return err
		}
		sum.TotalReceived = received.Value
		for _, g := range received.Groups {
			if p, ok := g.Key.(string); ok {
				t := sum.ByPlatform[Platform(p)]
				t.Received = g.Value
				sum.ByPlatform[Platform(p)] = t
			}
		}

		byCategory, err := txn.Aggregate(Transactions, types.AggregateSpec{
			Predicates: completed, GroupBy: "category", Metric: analytics.Sum("amount"),
		})
		if err != nil {
			return err
		}
		sum.TopCategories = rankCategories(byCategory.Groups)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// rankCategories orders categories by amount, largest first, dropping
// transactions without a category
func rankCategories(groups []types.Group) []CategoryTotal {
	out := make([]CategoryTotal, 0, len(groups))
	for _, g := range groups {
		name, ok := g.Key.(string)
		if !ok || name == "" {
			continue
		}
		out = append(out, CategoryTotal{Category: name, Amount: g.Value, Count: g.Count})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	if len(out) > topCategories {
		out = out[:topCategories]
	}
	return out
}
