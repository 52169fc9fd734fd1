package submit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Metrics holds the Prometheus collectors of the pipeline
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	BackendDuration  *prometheus.HistogramVec
	InFlight         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querychat_submissions_total",
				Help: "Total number of query submissions",
			},
			[]string{"flow", "outcome"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querychat_backend_request_duration_seconds",
				Help:    "Duration of analytics server requests in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"flow"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "querychat_requests_in_flight",
				Help: "Number of analytics server requests awaiting a reply",
			},
		),
	}
}

func (m *Metrics) observe(flow, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(flow, outcome).Inc()
	if outcome != OutcomeRejected {
		m.BackendDuration.WithLabelValues(flow).Observe(d.Seconds())
	}
}

func (m *Metrics) inFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}
