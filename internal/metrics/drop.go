package metrics

import "gachasync/logger"

// DropMetric names the metric emitted when a message is dropped.
type DropMetric string

const (
	DropMetricSyncRequest  DropMetric = "sync_requests_dropped"
	DropMetricArchiveBatch DropMetric = "archive_batches_dropped"
	DropMetricEventBatch   DropMetric = "event_batches_dropped"
)

// EmitDropMetric emits one dropped message. Account, kind and stage become
// fields when set so drops can be aggregated per account and record kind.
func EmitDropMetric(log *logger.Log, metric DropMetric, account, kind, stage string) {
	fields := logger.Fields{}
	if account != "" {
		fields["account"] = account
	}
	if kind != "" {
		fields["kind"] = kind
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
