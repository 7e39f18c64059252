package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_risk_evaluations_total",
		Help: "Risk evaluations by context type and decision",
	}, []string{"context_type", "decision"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustcore_risk_evaluation_duration_seconds",
		Help:    "Time spent evaluating a risk context, baseline lookup included",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"context_type"})

	budgetOverruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_risk_budget_overruns_total",
		Help: "Evaluations that exceeded the configured time budget",
	}, []string{"context_type"})

	referenceEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustcore_risk_reference_entries",
		Help: "Screenable names in the loaded reference data",
	})
)
