package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"gachasync/config"
	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/models"
)

// objectPutter is the part of the S3 client the writer needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer archives every sync batch to S3: a parquet file with the newly
// added records and a JSON snapshot of the whole merged history.
type S3Writer struct {
	cfg     config.S3Config
	version string
	batches <-chan models.SyncBatch
	client  objectPutter
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	batchesWritten int64
	objectsWritten int64
	bytesWritten   int64
	errorsCount    int64
}

// NewS3Writer loads the AWS configuration and builds the S3 client.
func NewS3Writer(cfg *config.Config, batches <-chan models.SyncBatch) (*S3Writer, error) {
	log := logger.GetLogger()
	ctx := context.Background()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 writer initialized")

	return newS3Writer(s3cfg, cfg.App.Version, batches, client), nil
}

func newS3Writer(cfg config.S3Config, version string, batches <-chan models.SyncBatch, client objectPutter) *S3Writer {
	return &S3Writer{
		cfg:     cfg,
		version: version,
		batches: batches,
		client:  client,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// Start launches the archive worker and the metrics reporter.
func (w *S3Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("s3 writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	w.log.WithComponent("s3_writer").Info("starting s3 writer")

	w.wg.Add(2)
	go w.worker()
	go w.metricsReporter(ctx)
	return nil
}

// Stop waits for the worker to drain.
func (w *S3Writer) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("s3_writer").Info("stopping s3 writer")
	w.wg.Wait()
	w.log.WithComponent("s3_writer").Info("s3 writer stopped")
}

func (w *S3Writer) worker() {
	defer w.wg.Done()
	log := w.log.WithComponent("s3_writer")

	for {
		select {
		case <-w.ctx.Done():
			log.Debug("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.batches:
			if !ok {
				log.Debug("archive channel closed, worker stopping")
				return
			}
			if err := w.processBatch(w.ctx, batch); err != nil {
				atomic.AddInt64(&w.errorsCount, 1)
				log.WithError(err).WithEnv("S3_BUCKET").WithFields(logger.Fields{
					"batch_id": batch.BatchID,
					"user":     batch.UserKey,
					"kind":     batch.Kind,
				}).Error("failed to archive batch")
				continue
			}
			atomic.AddInt64(&w.batchesWritten, 1)
		}
	}
}

// processBatch uploads the parquet delta and the JSON snapshot of one batch.
func (w *S3Writer) processBatch(ctx context.Context, batch models.SyncBatch) error {
	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"user":         batch.UserKey,
		"kind":         batch.Kind,
		"record_count": batch.RecordCount,
	})
	if batch.RecordCount == 0 {
		log.Debug("batch has no records, skipping")
		return nil
	}

	keys := make([]string, 0, len(batch.Added))
	for k := range batch.Added {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data, err := EncodeParquet(batch.UserKey, batch.Kind, RowsFromHistory(batch.Added, keys), w.cfg.Compression)
	if err != nil {
		return err
	}
	deltaKey := w.deltaKey(batch)
	if err := w.upload(ctx, deltaKey, data, "application/octet-stream"); err != nil {
		return err
	}

	if batch.Snapshot != nil {
		snapshot, err := json.Marshal(batch.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := w.upload(ctx, w.snapshotKey(batch), snapshot, "application/json"); err != nil {
			return err
		}
	}

	log.WithFields(logger.Fields{"s3_key": deltaKey, "file_size": len(data)}).Info("batch archived")
	logger.LogDataFlowEntry(log, "archive_channel", "s3", batch.RecordCount, "records")
	return nil
}

// deltaKey is <prefix>/user=<key>/kind=<kind>/<yyyy>/<mm>/<dd>/<batch>.parquet.
func (w *S3Writer) deltaKey(batch models.SyncBatch) string {
	ts := batch.Timestamp.UTC()
	return path.Join(
		w.cfg.Prefix,
		"user="+batch.UserKey,
		"kind="+string(batch.Kind),
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", ts.Month()),
		fmt.Sprintf("%02d", ts.Day()),
		batch.BatchID+".parquet",
	)
}

// snapshotKey is <prefix>/user=<key>/<kind>.json.
func (w *S3Writer) snapshotKey(batch models.SyncBatch) string {
	return path.Join(w.cfg.Prefix, "user="+batch.UserKey, string(batch.Kind)+".json")
}

func (w *S3Writer) upload(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"compression":       w.cfg.Compression,
			"gachasync-version": w.version,
		},
	}
	// the upload outlives shutdown so an accepted batch is not cut in half
	if _, err := w.client.PutObject(context.WithoutCancel(ctx), input); err != nil {
		return fmt.Errorf("failed to upload %s to S3 bucket %s: %w", key, w.cfg.Bucket, err)
	}
	atomic.AddInt64(&w.objectsWritten, 1)
	atomic.AddInt64(&w.bytesWritten, int64(len(data)))
	logger.IncrementSinkWrite("s3", int64(len(data)))
	return nil
}

func (w *S3Writer) metricsReporter(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportWriter(w.log, "s3_writer", w.Stats())
		}
	}
}

// Stats returns the running counters.
func (w *S3Writer) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: atomic.LoadInt64(&w.batchesWritten),
		ObjectsWritten: atomic.LoadInt64(&w.objectsWritten),
		BytesWritten:   atomic.LoadInt64(&w.bytesWritten),
		ErrorsCount:    atomic.LoadInt64(&w.errorsCount),
		ChannelLen:     len(w.batches),
		ChannelCap:     cap(w.batches),
	}
}
