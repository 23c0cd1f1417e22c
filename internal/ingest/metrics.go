package ingest

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline progress for the ingestion consumer.
type Metrics struct {
	EventsPersisted     prometheus.Counter
	DuplicatesCollapsed prometheus.Counter
	BatchesCommitted    prometheus.Counter
	BatchRetries        prometheus.Counter
	CommitFailures      prometheus.Counter
	DurabilityFailures  prometheus.Counter
	BatchesClaimed      prometheus.Counter
}

// NewMetrics builds and registers ingest counters. A counter already
// registered under the same name is adopted, so workers built against the
// same registerer all feed the scraped series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPersisted: newCounter("events_persisted_total",
			"Log event rows durably written to the log store"),
		DuplicatesCollapsed: newCounter("duplicates_collapsed_total",
			"Redelivered events absorbed by the idempotent insert"),
		BatchesCommitted: newCounter("batches_committed_total",
			"Batches fully persisted and acked"),
		BatchRetries: newCounter("batch_retries_total",
			"Store write retries across all batches"),
		CommitFailures: newCounter("commit_failures_total",
			"Acks that failed after the batch was durably written"),
		DurabilityFailures: newCounter("durability_failures_total",
			"Batches left unacked after exhausting write retries"),
		BatchesClaimed: newCounter("batches_claimed_total",
			"Pending batches taken over from stalled group members"),
	}
	if reg == nil {
		return m
	}
	m.EventsPersisted = registerCounter(reg, m.EventsPersisted)
	m.DuplicatesCollapsed = registerCounter(reg, m.DuplicatesCollapsed)
	m.BatchesCommitted = registerCounter(reg, m.BatchesCommitted)
	m.BatchRetries = registerCounter(reg, m.BatchRetries)
	m.CommitFailures = registerCounter(reg, m.CommitFailures)
	m.DurabilityFailures = registerCounter(reg, m.DurabilityFailures)
	m.BatchesClaimed = registerCounter(reg, m.BatchesClaimed)
	return m
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "berth", Subsystem: "ingest", Name: name, Help: help,
	})
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}
