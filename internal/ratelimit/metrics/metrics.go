package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_ratelimit_decisions_total",
		Help: "Rate limit decisions by endpoint class and outcome",
	}, []string{"class", "outcome"})

	storeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_ratelimit_store_failures_total",
		Help: "Window store calls that failed and were admitted without counting",
	})

	degraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustcore_ratelimit_degraded",
		Help: "1 while the window store circuit is open",
	})
)

// Metrics records governor outcomes. The collectors are process-wide, so
// every instance reports into the same series.
type Metrics struct{}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordAllowed(class string) {
	decisions.WithLabelValues(class, "allowed").Inc()
}

func (m *Metrics) RecordDenied(class string) {
	decisions.WithLabelValues(class, "denied").Inc()
}

func (m *Metrics) RecordFailOpen(class string) {
	storeFailures.Inc()
	decisions.WithLabelValues(class, "fail_open").Inc()
}

func (m *Metrics) SetDegraded(on bool) {
	if on {
		degraded.Set(1)
		return
	}
	degraded.Set(0)
}
