package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"gachasync/config"
	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/models"
)

// messageWriter is the part of kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes one message per sync batch, keyed by user so the
// batches of an account stay ordered within a partition.
type KafkaWriter struct {
	batches <-chan models.SyncBatch
	writer  messageWriter
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	batchesWritten int64
	bytesWritten   int64
	errorsCount    int64
}

func NewKafkaWriter(cfg config.KafkaConfig, batches <-chan models.SyncBatch) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := newKafkaWriter(batches, &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(batches <-chan models.SyncBatch, w messageWriter) *KafkaWriter {
	return &KafkaWriter{
		batches: batches,
		writer:  w,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Info("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()
	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case batch, ok := <-kw.batches:
			if !ok {
				return
			}
			kw.publish(batch)
		}
	}
}

func (kw *KafkaWriter) publish(batch models.SyncBatch) {
	log := kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"user":     batch.UserKey,
		"kind":     batch.Kind,
	})

	// the snapshot can be large and is archived to S3 instead
	event := batch
	event.Snapshot = nil
	data, err := json.Marshal(event)
	if err != nil {
		atomic.AddInt64(&kw.errorsCount, 1)
		log.WithError(err).Error("failed to marshal batch")
		return
	}
	msg := kafka.Message{
		Key:   []byte(batch.UserKey),
		Value: data,
		Time:  batch.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(batch.Kind)},
			{Key: "sync_id", Value: []byte(batch.SyncID)},
		},
	}
	if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
		atomic.AddInt64(&kw.errorsCount, 1)
		log.WithError(err).Error("failed to write message")
		return
	}
	atomic.AddInt64(&kw.batchesWritten, 1)
	atomic.AddInt64(&kw.bytesWritten, int64(len(data)))
	logger.IncrementSinkWrite("kafka", int64(len(data)))
	log.WithFields(logger.Fields{"records": batch.RecordCount}).Debug("batch written to kafka")
}

// Stats returns the running counters.
func (kw *KafkaWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: atomic.LoadInt64(&kw.batchesWritten),
		ObjectsWritten: atomic.LoadInt64(&kw.batchesWritten),
		BytesWritten:   atomic.LoadInt64(&kw.bytesWritten),
		ErrorsCount:    atomic.LoadInt64(&kw.errorsCount),
		ChannelLen:     len(kw.batches),
		ChannelCap:     cap(kw.batches),
	}
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Info("stopping kafka writer")
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	metrics.ReportWriter(kw.log, "kafka_writer", kw.Stats())
	kw.log.WithComponent("kafka_writer").Info("kafka writer stopped")
}
