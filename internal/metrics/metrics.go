package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	VersionConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_version_conflicts_total",
		Help: "Optimistic concurrency conflicts observed, by operation.",
	}, []string{"operation"})

	ConcurrencyExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_concurrency_exhausted_total",
		Help: "Operations that ran out of retry attempts.",
	}, []string{"operation"})

	ReservationsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricing_reservations_expired_total",
		Help: "Pending reservations moved to Expired by the sweeper.",
	})

	LookupDegraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_lookup_degraded_total",
		Help: "Location or shipping configuration lookups that fell back to defaults.",
	}, []string{"lookup"})
)

// Register adds all collectors to reg. Safe to call once per registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(VersionConflicts, ConcurrencyExhausted, ReservationsExpired, LookupDegraded)
}
