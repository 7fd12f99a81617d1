package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ProbesExecutedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "probe",
		Name:      "executed_total",
		Help:      "Total number of probes executed, by type and outcome status.",
	},
	[]string{"type", "status"},
)

var ProbeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "guardant",
		Subsystem: "probe",
		Name:      "duration_seconds",
		Help:      "Probe execution duration in seconds, by type.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"type"},
)

var CommandsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "scheduler",
		Name:      "commands_published_total",
		Help:      "Total number of ProbeCommands published, by region.",
	},
	[]string{"region"},
)

var DroppedProbesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "scheduler",
		Name:      "dropped_probes_total",
		Help:      "Total number of due ScheduleEntries dropped for backpressure, by region.",
	},
	[]string{"region"},
)

var LeaderStatus = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "guardant",
		Subsystem: "scheduler",
		Name:      "leader_held",
		Help:      "1 if this scheduler instance currently holds the leader lease, else 0.",
	},
)

var LocalCacheSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "guardant",
		Subsystem: "local_cache",
		Name:      "pending_results",
		Help:      "Current number of unflushed results held in the local cache.",
	},
)

var LocalCacheDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "local_cache",
		Name:      "dropped_total",
		Help:      "Total number of results dropped from the local cache due to capacity overflow.",
	},
)

var LocalCacheFlushedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "local_cache",
		Name:      "flushed_total",
		Help:      "Total number of results successfully flushed from the local cache to the broker.",
	},
)

var BrokerPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Total number of messages published, by stream.",
	},
	[]string{"stream"},
)

var BrokerDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "broker",
		Name:      "dead_lettered_total",
		Help:      "Total number of messages dead-lettered after exceeding max deliveries, by stream.",
	},
	[]string{"stream"},
)

var ResultsIngestedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "ingestor",
		Name:      "results_ingested_total",
		Help:      "Total number of ProbeResults ingested, by outcome disposition.",
	},
	[]string{"disposition"},
)

var IncidentsOpenedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "ingestor",
		Name:      "incidents_opened_total",
		Help:      "Total number of incidents opened.",
	},
)

var IncidentsResolvedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "ingestor",
		Name:      "incidents_resolved_total",
		Help:      "Total number of incidents resolved.",
	},
)

var BucketsSealedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "aggregator",
		Name:      "buckets_sealed_total",
		Help:      "Total number of aggregate buckets sealed and written to the sink, by period.",
	},
	[]string{"period"},
)

var WorkersByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "guardant",
		Subsystem: "registry",
		Name:      "workers",
		Help:      "Current number of workers by status.",
	},
	[]string{"status"},
)

var NotificationsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardant",
		Subsystem: "notifier",
		Name:      "sent_total",
		Help:      "Total number of notification tasks sent, by channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

// All returns every GuardAnt-specific metric collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProbesExecutedTotal,
		ProbeDuration,
		CommandsPublishedTotal,
		DroppedProbesTotal,
		LeaderStatus,
		LocalCacheSize,
		LocalCacheDroppedTotal,
		LocalCacheFlushedTotal,
		BrokerPublishedTotal,
		BrokerDeadLetteredTotal,
		ResultsIngestedTotal,
		IncidentsOpenedTotal,
		IncidentsResolvedTotal,
		BucketsSealedTotal,
		WorkersByStatus,
		NotificationsSentTotal,
	}
}
