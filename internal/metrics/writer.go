package metrics

import "gachasync/logger"

// WriterStats holds metrics for the sink writers.
type WriterStats struct {
	BatchesWritten int64
	ObjectsWritten int64
	BytesWritten   int64
	ErrorsCount    int64
	ChannelLen     int
	ChannelCap     int
}

// ReportWriter emits writer metrics under component.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	errorRate := float64(0)
	if stats.BatchesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.BatchesWritten+stats.ErrorsCount)
	}

	avgBytesPerObject := float64(0)
	if stats.ObjectsWritten > 0 {
		avgBytesPerObject = float64(stats.BytesWritten) / float64(stats.ObjectsWritten)
	}

	EmitMetric(log, component, "batches_written", stats.BatchesWritten, "counter", nil)
	EmitMetric(log, component, "objects_written", stats.ObjectsWritten, "counter", nil)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "channel_len", stats.ChannelLen, "gauge", nil)

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"batches_written":      stats.BatchesWritten,
		"objects_written":      stats.ObjectsWritten,
		"bytes_written":        stats.BytesWritten,
		"errors_count":         stats.ErrorsCount,
		"error_rate":           errorRate,
		"avg_bytes_per_object": avgBytesPerObject,
		"channel_len":          stats.ChannelLen,
		"channel_cap":          stats.ChannelCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
