package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gachasync/logger"
	"gachasync/models"
	"gachasync/store"
)

// Enqueuer queues account syncs.
type Enqueuer interface {
	Enqueue(ctx context.Context, key, reason string) (models.SyncRequest, error)
}

// Scheduler queues a sync of every stored account once at start and then
// every interval. Accounts that are already syncing are skipped.
type Scheduler struct {
	interval time.Duration
	accounts *store.AccountStore
	target   Enqueuer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *logger.Log
}

func NewScheduler(interval time.Duration, accounts *store.AccountStore, target Enqueuer) *Scheduler {
	return &Scheduler{
		interval: interval,
		accounts: accounts,
		target:   target,
		log:      logger.GetLogger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)

	s.log.WithComponent("scheduler").WithFields(logger.Fields{"interval": s.interval.String()}).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.EnqueueAll(ctx, "startup")
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EnqueueAll(ctx, "schedule")
		}
	}
}

// EnqueueAll queues every stored account and returns how many were queued.
func (s *Scheduler) EnqueueAll(ctx context.Context, reason string) int {
	log := s.log.WithComponent("scheduler")

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		log.WithError(err).Error("failed to list accounts")
		return 0
	}

	queued := 0
	for _, acc := range accounts {
		key := acc.UserKey()
		_, err := s.target.Enqueue(ctx, key, reason)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrSyncInProgress):
			log.WithFields(logger.Fields{"account": key}).Debug("sync already in flight, skipped")
		default:
			log.WithError(err).WithFields(logger.Fields{"account": key}).Warn("failed to queue sync")
		}
	}

	log.WithFields(logger.Fields{
		"reason":   reason,
		"accounts": len(accounts),
		"queued":   queued,
	}).Info("scheduled syncs")
	return queued
}
