package metrics

import (
	"context"
	"time"

	"gachasync/internal/channel"
	"gachasync/logger"
)

// StartChannelSizeMetrics emits buffer occupancy for every sync channel each
// interval until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitChannelSizes(log, channels)
			}
		}
	}()
}

func emitChannelSizes(log *logger.Log, channels *channel.Channels) {
	const component = "channel_buffers"
	sizes := []struct {
		name     string
		len, cap int
	}{
		{"requests", len(channels.Requests), cap(channels.Requests)},
		{"archive", len(channels.Archive), cap(channels.Archive)},
		{"events", len(channels.Events), cap(channels.Events)},
		{"progress", len(channels.Progress), cap(channels.Progress)},
	}
	for _, s := range sizes {
		EmitMetric(log, component, s.name+"_buffer_length", s.len, "gauge", logger.Fields{
			"buffer":   s.name,
			"capacity": s.cap,
		})
	}
}
