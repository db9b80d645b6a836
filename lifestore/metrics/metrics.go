// Package metrics exposes prometheus collectors for store activity.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arthur-debert/lifestore/types"
)

// Result labels
const (
	ResultOK      = "ok"
	ResultLogical = "logical"
	ResultStorage = "storage"
)

// Metrics holds the collectors of one registerer
type Metrics struct {
	operations      *prometheus.CounterVec
	txDuration      *prometheus.HistogramVec
	storageFailures *prometheus.CounterVec
	migrations      *prometheus.CounterVec
}

// New registers the lifestore collectors on reg. A nil reg returns nil,
// which disables metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifestore_operations_total",
				Help: "Number of record operations by result.",
			},
			[]string{"domain", "op", "result"},
		),
		txDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifestore_transaction_duration_seconds",
				Help:    "Transaction duration from begin to commit or rollback.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"domain", "mode", "outcome"},
		),
		storageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifestore_storage_failures_total",
				Help: "Number of engine failures that aborted a transaction.",
			},
			[]string{"domain"},
		),
		migrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifestore_migrations_total",
				Help: "Number of schema versions applied while opening domains.",
			},
			[]string{"domain"},
		),
	}
}

// Result classifies err for the result label
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case types.IsStorageFailure(err):
		return ResultStorage
	default:
		return ResultLogical
	}
}

// Operation counts one record operation
func (m *Metrics) Operation(domain, op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(domain, op, Result(err)).Inc()
}

// Transaction observes a finished transaction. Outcome is "commit" or
// "rollback".
func (m *Metrics) Transaction(domain string, mode types.Mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(domain, mode.String(), outcome).Observe(d.Seconds())
}

// StorageFailure counts an engine failure
func (m *Metrics) StorageFailure(domain string) {
	if m == nil {
		return
	}
	m.storageFailures.WithLabelValues(domain).Inc()
}

// Migrations counts applied schema versions
func (m *Metrics) Migrations(domain string, applied int) {
	if m == nil || applied == 0 {
		return
	}
	m.migrations.WithLabelValues(domain).Add(float64(applied))
}
