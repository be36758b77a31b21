package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gachasync/gacha"
	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/models"
	"gachasync/reader/endfield"
)

// run performs one sync: authenticate, fetch every pool, refresh pool content,
// merge and persist. Any fetch error aborts before anything is saved.
func (p *SyncProcessor) run(ctx context.Context, syncID, key string) (result models.SyncResult, err error) {
	start := time.Now()
	atomic.AddInt64(&p.syncsStarted, 1)
	log := p.log.WithComponent("sync_processor").WithFields(logger.Fields{"sync_id": syncID, "account": key})

	provider := string(models.ProviderHypergryph)
	defer func() {
		ok := err == nil
		logger.IncrementSync(ok)
		metrics.ObserveSync(provider, ok)
		if !ok {
			atomic.AddInt64(&p.syncsFailed, 1)
			p.progress(syncID, key, models.SyncProgress{Stage: models.StageFailed, Error: err.Error()})
		}
	}()

	acc, err := p.accounts.Get(ctx, key)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("%w: %v", ErrUnknownAccount, err)
	}
	if acc.Provider != "" {
		provider = string(acc.Provider)
	}

	p.progress(syncID, key, models.SyncProgress{Stage: models.StageAuth})
	session, err := p.fetcher.Authenticate(ctx, acc)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("authenticate %s: %w", key, err)
	}
	provider = string(session.Provider)
	userKey, releaseKey, err := p.resolveAccount(ctx, syncID, key, acc, session)
	if err != nil {
		return models.SyncResult{}, err
	}
	defer releaseKey()

	char, err := p.fetchChar(ctx, syncID, key, session)
	if err != nil {
		return models.SyncResult{}, err
	}
	weapon, weaponPools, err := p.fetchWeapon(ctx, syncID, key, session)
	if err != nil {
		return models.SyncResult{}, err
	}

	p.progress(syncID, key, models.SyncProgress{Stage: models.StagePoolInfo})
	p.refreshPoolInfo(ctx, session, featuredPoolIDs(char), weaponPools)

	result = models.SyncResult{SyncID: syncID, AccountKey: userKey, StartedAt: start.UTC()}
	merged := map[models.RecordKind]models.PoolHistory{}
	added := map[models.RecordKind]models.PoolHistory{}
	for _, kind := range []models.RecordKind{models.KindChar, models.KindWeapon} {
		fetched := char
		if kind == models.KindWeapon {
			fetched = weapon
		}
		stored, err := p.history.Load(ctx, userKey, kind)
		if err != nil {
			return models.SyncResult{}, fmt.Errorf("load %s history: %w", kind, err)
		}
		m, n := gacha.MergeHistory(stored, fetched)
		merged[kind] = m
		added[kind] = newRecords(stored, m)
		if kind == models.KindChar {
			result.CharAdded = n
		} else {
			result.WeaponAdded = n
		}
	}

	if result.Added() == 0 {
		log.Info("no new records")
	} else {
		p.progress(syncID, key, models.SyncProgress{Stage: models.StageSave, Added: result.Added()})
		for _, kind := range []models.RecordKind{models.KindChar, models.KindWeapon} {
			n := added[kind].Count()
			if n == 0 {
				continue
			}
			if err := p.history.Save(ctx, userKey, kind, merged[kind]); err != nil {
				return models.SyncResult{}, fmt.Errorf("save %s history: %w", kind, err)
			}
			metrics.AddRecords(string(kind), n)
			p.publish(syncID, userKey, session.Provider, kind, added[kind], merged[kind])
		}
		logger.AddRecords(result.Added())
		atomic.AddInt64(&p.recordsAdded, int64(result.Added()))
	}

	result.Duration = time.Since(start)
	atomic.AddInt64(&p.syncsSucceeded, 1)
	p.lastSync.Store(time.Now())
	p.resultsMu.Lock()
	p.results[key] = result
	if userKey != key {
		p.results[userKey] = result
	}
	p.resultsMu.Unlock()

	p.progress(syncID, key, models.SyncProgress{Stage: models.StageDone, Added: result.Added()})
	log.WithFields(logger.Fields{
		"char_added":   result.CharAdded,
		"weapon_added": result.WeaponAdded,
		"duration_ms":  result.Duration.Milliseconds(),
	}).Info("sync finished")
	return result, nil
}

// resolveAccount stores the uid and role the session resolved and returns the
// key histories are saved under. When the account is re-keyed the new key is
// reserved for the rest of the sync, so the returned release must be called.
func (p *SyncProcessor) resolveAccount(ctx context.Context, syncID, key string, acc models.Account, s endfield.Session) (string, func(), error) {
	noop := func() {}
	if s.Role == nil || s.UID == "" {
		return key, noop, nil
	}
	updated := acc
	updated.UID = s.UID
	role := *s.Role
	updated.Role = &role
	if strings.HasPrefix(acc.Key, "url_") {
		updated.Key = ""
	}
	if acc.UID == updated.UID && acc.Role != nil && *acc.Role == role && acc.Key == updated.Key {
		return acc.UserKey(), noop, nil
	}

	newKey := updated.UserKey()
	release := noop
	if newKey != key {
		if !p.acquire(newKey, syncID) {
			atomic.AddInt64(&p.syncsRejected, 1)
			return "", noop, fmt.Errorf("%w: %s", ErrSyncInProgress, newKey)
		}
		release = func() { p.release(newKey) }
	}
	if err := p.accounts.Update(ctx, key, updated); err != nil {
		release()
		p.log.WithComponent("sync_processor").WithError(err).WithFields(logger.Fields{"account": key}).Warn("failed to store resolved role")
		return key, noop, nil
	}
	return newKey, release, nil
}

func (p *SyncProcessor) fetchChar(ctx context.Context, syncID, key string, s endfield.Session) (models.PoolHistory, error) {
	fetched := models.PoolHistory{}
	for _, poolType := range gacha.PoolTypes {
		name := gacha.PoolDisplayName(poolType)
		records, err := p.fetcher.FetchCharRecords(ctx, s, poolType, p.pageProgress(syncID, key, models.KindChar, name))
		if err != nil {
			return nil, fmt.Errorf("fetch char pool %s: %w", poolType, err)
		}
		fetched[poolType] = records
	}
	return fetched, nil
}

func (p *SyncProcessor) fetchWeapon(ctx context.Context, syncID, key string, s endfield.Session) (models.PoolHistory, []string, error) {
	pools, err := p.fetcher.FetchWeaponPools(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	fetched := models.PoolHistory{}
	ids := make([]string, 0, len(pools))
	for _, pool := range pools {
		if pool.PoolID == "" {
			continue
		}
		records, err := p.fetcher.FetchWeaponRecords(ctx, s, pool.PoolID, p.pageProgress(syncID, key, models.KindWeapon, pool.PoolName))
		if err != nil {
			return nil, nil, fmt.Errorf("fetch weapon pool %s: %w", pool.PoolID, err)
		}
		fetched[pool.PoolID] = records
		ids = append(ids, pool.PoolID)
	}
	return fetched, ids, nil
}

// refreshPoolInfo fetches content for banners without a resolved featured item
// and for weapon pools without an entry.
// Failures only cost the metadata and are logged.
func (p *SyncProcessor) refreshPoolInfo(ctx context.Context, s endfield.Session, charPools, weaponPools []string) {
	if p.pools == nil {
		return
	}
	log := p.log.WithComponent("sync_processor")
	refresh := func(poolID string, kind models.RecordKind) {
		if !p.pools.NeedsFetch(ctx, poolID, kind) {
			return
		}
		entry, err := p.fetcher.FetchPoolContent(ctx, s, poolID, kind)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"pool_id": poolID, "kind": kind}).Warn("failed to fetch pool content")
			return
		}
		if err := p.pools.Upsert(ctx, entry); err != nil {
			log.WithError(err).WithFields(logger.Fields{"pool_id": poolID}).Warn("failed to store pool content")
		}
	}
	for _, id := range charPools {
		refresh(id, models.KindChar)
	}
	for _, id := range weaponPools {
		refresh(id, models.KindWeapon)
	}
}

func (p *SyncProcessor) publish(syncID, userKey string, provider models.Provider, kind models.RecordKind, added, snapshot models.PoolHistory) {
	batch := models.SyncBatch{
		BatchID:     uuid.New().String(),
		SyncID:      syncID,
		UserKey:     userKey,
		Provider:    provider,
		Kind:        kind,
		Added:       added,
		Snapshot:    snapshot,
		RecordCount: added.Count(),
		Timestamp:   time.Now().UTC(),
	}
	archiveDropped, eventDropped := p.channels.PublishBatch(batch)
	if archiveDropped {
		metrics.EmitDropMetric(p.log, metrics.DropMetricArchiveBatch, userKey, string(kind), "publish")
	}
	if eventDropped {
		metrics.EmitDropMetric(p.log, metrics.DropMetricEventBatch, userKey, string(kind), "publish")
	}
}

func (p *SyncProcessor) pageProgress(syncID, key string, kind models.RecordKind, poolName string) endfield.PageFunc {
	return func(page, count int) {
		p.progress(syncID, key, models.SyncProgress{Stage: models.StageFetch, Kind: kind, PoolName: poolName, Page: page})
	}
}

func (p *SyncProcessor) progress(syncID, key string, ev models.SyncProgress) {
	ev.SyncID = syncID
	ev.AccountKey = key
	ev.Timestamp = time.Now().UTC()
	p.channels.PublishProgress(ev)
}

// featuredPoolIDs lists the banner ids seen in the featured pool, sorted.
func featuredPoolIDs(char models.PoolHistory) []string {
	seen := map[string]struct{}{}
	for _, r := range char[gacha.SpecialPoolKey] {
		if r.PoolID != "" {
			seen[r.PoolID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// newRecords returns, per pool, the merged records whose sequence id was not stored.
func newRecords(stored, merged models.PoolHistory) models.PoolHistory {
	out := models.PoolHistory{}
	for key, list := range merged {
		old := stored[key]
		if len(list) == len(old) {
			continue
		}
		known := make(map[string]struct{}, len(old))
		for _, r := range old {
			known[r.SeqID] = struct{}{}
		}
		for _, r := range list {
			if _, ok := known[r.SeqID]; !ok {
				out[key] = append(out[key], r)
			}
		}
	}
	return out
}
