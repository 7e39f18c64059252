package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustcore_audit_queue_depth",
		Help: "Entries waiting for the audit consumer",
	})
	eventsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_audit_events_persisted_total",
		Help: "Events chained and persisted",
	})
	eventsSpooled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_audit_events_spooled_total",
		Help: "Entries written to the local spool in degraded mode",
	})
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_audit_persist_failures_total",
		Help: "Failed store append attempts (each retry counts)",
	})
	verifyMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_audit_verify_mismatches_total",
		Help: "Sequence numbers reported as mismatching by verification",
	})
)
