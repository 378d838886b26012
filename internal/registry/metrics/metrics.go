package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry's Prometheus instruments. A nil *Metrics is a
// valid no-op receiver so the service works unchanged without metrics wired.
type Metrics struct {
	recordsCreated  prometheus.Counter
	grantsIssued    prometheus.Counter
	grantsRevoked   prometheus.Counter
	accessDenied    prometheus.Counter
	resolveDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		recordsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentry_records_created_total",
			Help: "Number of records registered.",
		}),
		grantsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentry_grants_issued_total",
			Help: "Number of provider grants written.",
		}),
		grantsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentry_grants_revoked_total",
			Help: "Number of provider grants revoked.",
		}),
		accessDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentry_access_denied_total",
			Help: "Number of URI resolutions denied for lack of an active grant.",
		}),
		resolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentry_resolve_duration_seconds",
			Help:    "Latency of record URI resolution.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementRecordsCreated() {
	if m == nil {
		return
	}
	m.recordsCreated.Inc()
}

func (m *Metrics) IncrementGrantsIssued() {
	if m == nil {
		return
	}
	m.grantsIssued.Inc()
}

func (m *Metrics) IncrementGrantsRevoked() {
	if m == nil {
		return
	}
	m.grantsRevoked.Inc()
}

func (m *Metrics) IncrementAccessDenied() {
	if m == nil {
		return
	}
	m.accessDenied.Inc()
}

func (m *Metrics) ObserveResolve(start time.Time) {
	if m == nil {
		return
	}
	m.resolveDuration.Observe(time.Since(start).Seconds())
}
