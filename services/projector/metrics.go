package projector

import "github.com/prometheus/client_golang/prometheus"

var (
	appliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_applied_total",
		Help: "Events applied to the materialized views, by event name.",
	}, []string{"name"})
	skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_skipped_total",
		Help: "Events recorded but not applied, by failing stage.",
	}, []string{"stage"})
	duplicatesTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "projector_events_duplicate_total"})
	rebuildsTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "projector_rebuilds_total"})
	corruptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "projector_corruptions_total"})
	syncErrorsTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "projector_sync_errors_total"})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{appliedTotal, skippedTotal, duplicatesTotal, rebuildsTotal, corruptionsTotal, syncErrorsTotal}
}
