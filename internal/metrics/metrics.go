package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"auditfetch/internal/core/domain"
)

// Metrics holds the Prometheus collectors for fetch runs.
type Metrics struct {
	TokenRequestsTotal prometheus.Counter
	TokenFailuresTotal prometheus.Counter

	CategoryListingsTotal *prometheus.CounterVec
	PointersTotal         *prometheus.CounterVec
	BlobOutcomesTotal     *prometheus.CounterVec

	BlobFetchDuration prometheus.Histogram
	RunsTotal         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditfetch_token_requests_total",
			Help: "Total number of access token requests",
		}),
		TokenFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditfetch_token_failures_total",
			Help: "Total number of refused or failed access token requests",
		}),
		CategoryListingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfetch_category_listings_total",
			Help: "Content listing calls by category and result (ok, empty, error)",
		}, []string{"category", "result"}),
		PointersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfetch_content_pointers_total",
			Help: "Content pointers returned by listing calls",
		}, []string{"category"}),
		BlobOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfetch_blob_outcomes_total",
			Help: "Blob fetch-and-store outcomes by kind",
		}, []string{"category", "outcome"}),
		BlobFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditfetch_blob_fetch_duration_seconds",
			Help:    "Duration of blob downloads",
			Buckets: prometheus.DefBuckets,
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfetch_runs_total",
			Help: "Completed runs by result (success, failed)",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TokenRequestsTotal,
			m.TokenFailuresTotal,
			m.CategoryListingsTotal,
			m.PointersTotal,
			m.BlobOutcomesTotal,
			m.BlobFetchDuration,
			m.RunsTotal,
		)
	}
	return m
}

// ObserveOutcome counts one RunLog entry.
func (m *Metrics) ObserveOutcome(o domain.Outcome) {
	if m == nil {
		return
	}
	switch o.Kind {
	case domain.OutcomeNoContent:
		m.CategoryListingsTotal.WithLabelValues(string(o.Category), "empty").Inc()
	case domain.OutcomeCategoryError:
		m.CategoryListingsTotal.WithLabelValues(string(o.Category), "error").Inc()
	case domain.OutcomeMorePages, domain.OutcomeMissingRole:
	default:
		m.BlobOutcomesTotal.WithLabelValues(string(o.Category), string(o.Kind)).Inc()
	}
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for the node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
