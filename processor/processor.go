package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gachasync/config"
	"gachasync/internal/channel"
	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/models"
	"gachasync/reader/endfield"
	"gachasync/store"
)

var (
	// ErrSyncInProgress is returned when the account already has a sync queued or running.
	ErrSyncInProgress = errors.New("processor: sync already in progress")
	// ErrUnknownAccount is returned for keys that are not in the account store.
	ErrUnknownAccount = errors.New("processor: unknown account")
	// ErrQueueFull is returned when the request queue cannot take another sync.
	ErrQueueFull = errors.New("processor: request queue full")
)

// Fetcher is the vendor API surface a sync needs.
type Fetcher interface {
	Authenticate(ctx context.Context, acc models.Account) (endfield.Session, error)
	FetchCharRecords(ctx context.Context, s endfield.Session, poolType string, onPage endfield.PageFunc) ([]models.PullRecord, error)
	FetchWeaponPools(ctx context.Context, s endfield.Session) ([]models.WeaponPool, error)
	FetchWeaponRecords(ctx context.Context, s endfield.Session, poolID string, onPage endfield.PageFunc) ([]models.PullRecord, error)
	FetchPoolContent(ctx context.Context, s endfield.Session, poolID string, kind models.RecordKind) (models.PoolInfoEntry, error)
}

// SyncProcessor runs account syncs from the request queue. At most one sync
// per account key is queued or running at any time.
type SyncProcessor struct {
	config   config.ProcessorConfig
	channels *channel.Channels
	fetcher  Fetcher
	history  store.HistoryStore
	accounts *store.AccountStore
	pools    *store.PoolInfoCache
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	inFlightMu sync.Mutex
	inFlight   map[string]string

	resultsMu sync.RWMutex
	results   map[string]models.SyncResult

	syncsStarted   int64
	syncsSucceeded int64
	syncsFailed    int64
	syncsRejected  int64
	recordsAdded   int64
	lastSync       atomic.Value
}

func NewSyncProcessor(cfg config.ProcessorConfig, channels *channel.Channels, fetcher Fetcher, history store.HistoryStore, accounts *store.AccountStore, pools *store.PoolInfoCache) *SyncProcessor {
	return &SyncProcessor{
		config:   cfg,
		channels: channels,
		fetcher:  fetcher,
		history:  history,
		accounts: accounts,
		pools:    pools,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		inFlight: make(map[string]string),
		results:  make(map[string]models.SyncResult),
	}
}

func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("sync_processor").WithFields(logger.Fields{"operation": "start"})

	numWorkers := p.config.Workers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting sync processor workers")

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	go p.metricsReporter(ctx)

	log.Info("sync processor started successfully")
	return nil
}

func (p *SyncProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("sync_processor").Info("stopping sync processor")
	p.wg.Wait()
	metrics.ReportProcessor(p.log, p.Stats())
	p.log.WithComponent("sync_processor").Info("sync processor stopped")
}

// Enqueue reserves the account and queues a sync request for the workers.
func (p *SyncProcessor) Enqueue(ctx context.Context, key, reason string) (models.SyncRequest, error) {
	if _, err := p.accounts.Get(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.SyncRequest{}, fmt.Errorf("%w: %s", ErrUnknownAccount, key)
		}
		return models.SyncRequest{}, err
	}

	req := models.SyncRequest{
		ID:          uuid.New().String(),
		AccountKey:  key,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
	if !p.acquire(key, req.ID) {
		atomic.AddInt64(&p.syncsRejected, 1)
		return models.SyncRequest{}, fmt.Errorf("%w: %s", ErrSyncInProgress, key)
	}
	if !p.channels.SendRequest(req) {
		p.release(key)
		metrics.EmitDropMetric(p.log, metrics.DropMetricSyncRequest, key, "", "enqueue")
		return models.SyncRequest{}, fmt.Errorf("%w: %s", ErrQueueFull, key)
	}
	p.log.WithComponent("sync_processor").WithFields(logger.Fields{
		"sync_id": req.ID,
		"account": key,
		"reason":  reason,
	}).Debug("sync queued")
	return req, nil
}

// Sync runs a sync of key on the calling goroutine.
func (p *SyncProcessor) Sync(ctx context.Context, key string) (models.SyncResult, error) {
	syncID := uuid.New().String()
	if !p.acquire(key, syncID) {
		atomic.AddInt64(&p.syncsRejected, 1)
		return models.SyncResult{}, fmt.Errorf("%w: %s", ErrSyncInProgress, key)
	}
	defer p.release(key)
	return p.run(ctx, syncID, key)
}

// InFlight reports whether key has a sync queued or running.
func (p *SyncProcessor) InFlight(key string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	_, ok := p.inFlight[key]
	return ok
}

// LastResult returns the most recent successful sync of key.
func (p *SyncProcessor) LastResult(key string) (models.SyncResult, bool) {
	p.resultsMu.RLock()
	defer p.resultsMu.RUnlock()
	r, ok := p.results[key]
	return r, ok
}

func (p *SyncProcessor) acquire(key, syncID string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if _, busy := p.inFlight[key]; busy {
		return false
	}
	p.inFlight[key] = syncID
	return true
}

func (p *SyncProcessor) release(key string) {
	p.inFlightMu.Lock()
	delete(p.inFlight, key)
	p.inFlightMu.Unlock()
}

func (p *SyncProcessor) worker(workerID int) {
	defer p.wg.Done()

	log := p.log.WithComponent("sync_processor").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "sync_processor",
	})

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("worker stopped due to context cancellation")
			return
		case req, ok := <-p.channels.Requests:
			if !ok {
				log.Debug("request channel closed, worker stopping")
				return
			}
			start := time.Now()
			result, err := p.run(p.ctx, req.ID, req.AccountKey)
			p.release(req.AccountKey)

			fields := logger.Fields{"worker_id": workerID, "account": req.AccountKey, "sync_id": req.ID}
			if err != nil {
				log.WithFields(fields).WithError(err).Error("sync failed")
				continue
			}
			fields["added"] = result.Added()
			logger.LogPerformanceEntry(log, "sync_processor", "sync", time.Since(start), fields)
		}
	}
}

func (p *SyncProcessor) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportProcessor(p.log, p.Stats())
		}
	}
}

// Stats returns the running tally.
func (p *SyncProcessor) Stats() metrics.ProcessorStats {
	p.inFlightMu.Lock()
	inFlight := len(p.inFlight)
	p.inFlightMu.Unlock()

	stats := metrics.ProcessorStats{
		SyncsStarted:   atomic.LoadInt64(&p.syncsStarted),
		SyncsSucceeded: atomic.LoadInt64(&p.syncsSucceeded),
		SyncsFailed:    atomic.LoadInt64(&p.syncsFailed),
		SyncsRejected:  atomic.LoadInt64(&p.syncsRejected),
		RecordsAdded:   atomic.LoadInt64(&p.recordsAdded),
		InFlight:       inFlight,
		QueueLen:       len(p.channels.Requests),
		QueueCap:       cap(p.channels.Requests),
	}
	if t, ok := p.lastSync.Load().(time.Time); ok {
		stats.LastSync = t
	}
	return stats
}
