package broker

import "fmt"

// Stream naming follows §4.4's topology: one probes.<regionId> stream per
// region, a single shared results/control/heartbeats/notifications stream
// each, consumed through groups scoped to the component that owns them.
func ProbeStream(regionID string) string   { return fmt.Sprintf("probes.%s", regionID) }
func ControlStream(workerID string) string { return fmt.Sprintf("control.%s", workerID) }

const (
	ResultsStream       = "results.ingest"
	AggregationStream   = "aggregation.raw"
	HeartbeatsStream    = "registry.heartbeats"
	NotificationsStream = "notifications"
)

// DeadLetterStream names the dead-letter counterpart of a stream, where
// entries that exhausted MaxDeliveries are moved instead of retried again.
func DeadLetterStream(stream string) string { return stream + ".dlq" }

// Consumer group names, one per logical consuming component.
const (
	GroupWorker   = "workers"
	GroupIngestor = "ingestors"
	GroupAggregator = "aggregators"
	GroupNotifier = "notifiers"
	GroupRegistry = "registry"
)
