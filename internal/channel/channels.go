package channel

import (
	"context"
	"sync"
	"time"

	"gachasync/logger"
	"gachasync/models"
)

type ChannelStats struct {
	RequestsSent    int64
	RequestsDropped int64
	ArchiveSent     int64
	ArchiveDropped  int64
	EventsSent      int64
	EventsDropped   int64
	ProgressSent    int64
	ProgressDropped int64
}

// Channels connects the sync processor with its producers and consumers.
// Archive feeds the S3 writer, Events the Kafka writer and Progress the
// dashboard websocket.
type Channels struct {
	Requests chan models.SyncRequest
	Archive  chan models.SyncBatch
	Events   chan models.SyncBatch
	Progress chan models.SyncProgress

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
	closeOnce  sync.Once
	archiveOn  bool
	eventsOn   bool
}

func NewChannels(requestBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Requests:  make(chan models.SyncRequest, requestBufferSize),
		Archive:   make(chan models.SyncBatch, batchBufferSize),
		Events:    make(chan models.SyncBatch, batchBufferSize),
		Progress:  make(chan models.SyncProgress, batchBufferSize*4),
		log:       log,
		archiveOn: true,
		eventsOn:  true,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"request_buffer_size": requestBufferSize,
		"batch_buffer_size":   batchBufferSize,
	}).Info("channels initialized")

	return c
}

// SendRequest enqueues a sync request without blocking. It reports false when
// the queue is full.
func (c *Channels) SendRequest(req models.SyncRequest) bool {
	select {
	case c.Requests <- req:
		c.bump(func(s *ChannelStats) { s.RequestsSent++ })
		return true
	default:
		c.bump(func(s *ChannelStats) { s.RequestsDropped++ })
		return false
	}
}

// SetSinks selects which sink channels receive batches. A disabled sink has no
// consumer, so publishing to it would only fill the buffer.
func (c *Channels) SetSinks(archive, events bool) {
	c.archiveOn = archive
	c.eventsOn = events
}

// PublishBatch hands a batch to the enabled sink channels. A full channel
// drops the batch for that sink only; the returned flags report such drops.
func (c *Channels) PublishBatch(batch models.SyncBatch) (archiveDropped, eventDropped bool) {
	if c.archiveOn {
		archiveDropped = !c.sendArchive(batch)
	}
	if c.eventsOn {
		eventDropped = !c.sendEvent(batch)
	}
	return archiveDropped, eventDropped
}

func (c *Channels) sendArchive(batch models.SyncBatch) bool {
	select {
	case c.Archive <- batch:
		c.bump(func(s *ChannelStats) { s.ArchiveSent++ })
		return true
	default:
		c.bump(func(s *ChannelStats) { s.ArchiveDropped++ })
		c.log.WithComponent("channels").WithFields(logger.Fields{"user": batch.UserKey, "kind": batch.Kind}).Warn("archive channel full, dropping batch")
		return false
	}
}

func (c *Channels) sendEvent(batch models.SyncBatch) bool {
	select {
	case c.Events <- batch:
		c.bump(func(s *ChannelStats) { s.EventsSent++ })
		return true
	default:
		c.bump(func(s *ChannelStats) { s.EventsDropped++ })
		c.log.WithComponent("channels").WithFields(logger.Fields{"user": batch.UserKey, "kind": batch.Kind}).Warn("events channel full, dropping batch")
		return false
	}
}

// PublishProgress forwards a progress event. Progress is best effort and is
// dropped silently when nobody drains it.
func (c *Channels) PublishProgress(p models.SyncProgress) {
	select {
	case c.Progress <- p:
		c.bump(func(s *ChannelStats) { s.ProgressSent++ })
	default:
		c.bump(func(s *ChannelStats) { s.ProgressDropped++ })
	}
}

func (c *Channels) bump(f func(*ChannelStats)) {
	c.statsMutex.Lock()
	f(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel statistics every interval until ctx ends.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.logChannelStats()
		}
	}
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()
	c.log.WithComponent("channels").WithFields(logger.Fields{
		"requests_sent":    stats.RequestsSent,
		"requests_dropped": stats.RequestsDropped,
		"archive_sent":     stats.ArchiveSent,
		"archive_dropped":  stats.ArchiveDropped,
		"events_sent":      stats.EventsSent,
		"events_dropped":   stats.EventsDropped,
		"progress_dropped": stats.ProgressDropped,
		"requests_len":     len(c.Requests),
		"requests_cap":     cap(c.Requests),
		"archive_len":      len(c.Archive),
		"events_len":       len(c.Events),
		"progress_len":     len(c.Progress),
	}).Info("channel statistics")
}

// Close closes every channel. Senders must have stopped.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Requests)
		close(c.Archive)
		close(c.Events)
		close(c.Progress)
		c.log.WithComponent("channels").Info("all channels closed")
	})
}
