package router

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts edge routing outcomes.
type Metrics struct {
	Requests  *prometheus.CounterVec
	CacheHits prometheus.Counter
}

// NewMetrics builds and registers router counters. When a collector of the
// same name is already registered, the existing one is adopted so every
// handler instance feeds the scraped series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "berth", Subsystem: "router", Name: "requests_total",
			Help: "Edge requests by outcome",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "berth", Subsystem: "router", Name: "cache_hits_total",
			Help: "Subdomain resolutions served from the cache",
		}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.Requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.Requests = existing
			}
		}
	}
	if err := reg.Register(m.CacheHits); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				m.CacheHits = existing
			}
		}
	}
	return m
}
