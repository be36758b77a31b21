package metrics

import (
	"time"

	"gachasync/logger"
)

// ProcessorStats is the running tally of the sync processor.
type ProcessorStats struct {
	SyncsStarted   int64
	SyncsSucceeded int64
	SyncsFailed    int64
	SyncsRejected  int64
	RecordsAdded   int64
	InFlight       int
	QueueLen       int
	QueueCap       int
	LastSync       time.Time
}

// ReportProcessor emits the processor tally as metrics and one summary line.
func ReportProcessor(log *logger.Log, stats ProcessorStats) {
	const component = "sync_processor"

	failureRate := float64(0)
	if done := stats.SyncsSucceeded + stats.SyncsFailed; done > 0 {
		failureRate = float64(stats.SyncsFailed) / float64(done)
	}

	EmitMetric(log, component, "syncs_started", stats.SyncsStarted, "counter", nil)
	EmitMetric(log, component, "syncs_succeeded", stats.SyncsSucceeded, "counter", nil)
	EmitMetric(log, component, "syncs_failed", stats.SyncsFailed, "counter", nil)
	EmitMetric(log, component, "records_added", stats.RecordsAdded, "counter", nil)
	EmitMetric(log, component, "failure_rate", failureRate, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, component, "in_flight", stats.InFlight, "gauge", nil)

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"syncs_started":   stats.SyncsStarted,
		"syncs_succeeded": stats.SyncsSucceeded,
		"syncs_failed":    stats.SyncsFailed,
		"syncs_rejected":  stats.SyncsRejected,
		"records_added":   stats.RecordsAdded,
		"failure_rate":    failureRate,
		"in_flight":       stats.InFlight,
		"queue_len":       stats.QueueLen,
		"queue_cap":       stats.QueueCap,
	})
	if !stats.LastSync.IsZero() {
		entry = entry.WithField("last_sync", stats.LastSync.UTC().Format(time.RFC3339))
	}
	entry.Info("sync processor metrics")
}
