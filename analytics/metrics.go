package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clicksRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propclicks_events_recorded_total",
		Help: "Click events accepted and persisted, by stream.",
	}, []string{"event_type"})

	botsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propclicks_bots_filtered_total",
		Help: "Submissions rejected by the bot classifier.",
	})

	validationRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propclicks_validation_rejected_total",
		Help: "Submissions rejected by payload validation.",
	})

	rollupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propclicks_rollup_runs_total",
		Help: "Rollup invocations by outcome.",
	}, []string{"outcome"})
)
