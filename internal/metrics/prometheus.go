package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	// ReconcileTotal counts reconciliations by action: created, patched,
	// unchanged or failed.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usersync_reconcile_total",
		Help: "Total number of identity reconciliations by resulting action.",
	}, []string{"action"})

	// ReconcileDuration observes how long a reconciliation took.
	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "usersync_reconcile_duration_seconds",
		Help:    "Duration of identity reconciliations.",
		Buckets: prometheus.DefBuckets,
	})

	// LookupTotal counts lookups by email, split by whether a user was found.
	LookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usersync_lookup_total",
		Help: "Total number of user lookups by email.",
	}, []string{"result"})

	// ActiveSessionsGauge tracks live session bootstraps.
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "usersync_active_sessions",
		Help: "Current number of tracked sessions.",
	})

	// MirrorErrorsTotal counts failed writes to the resolved-user mirror.
	MirrorErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "usersync_mirror_errors_total",
		Help: "Total number of failed resolved-user mirror writes.",
	})
)

// InitCustomMetrics registers the usersync metrics with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := []prometheus.Collector{
		ReconcileTotal,
		ReconcileDuration,
		LookupTotal,
		ActiveSessionsGauge,
		MirrorErrorsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
