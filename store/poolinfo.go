package store

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"gachasync/logger"
	"gachasync/models"
)

const poolInfoCacheSize = 512

// PoolInfoCache is a read-through LRU in front of a PoolInfoStore. Misses go
// to the backend and hits are cached; unknown pools are not cached.
type PoolInfoCache struct {
	backend PoolInfoStore
	cache   *lru.Cache
	log     *logger.Log
}

func NewPoolInfoCache(backend PoolInfoStore) (*PoolInfoCache, error) {
	return newPoolInfoCache(backend, poolInfoCacheSize)
}

func newPoolInfoCache(backend PoolInfoStore, size int) (*PoolInfoCache, error) {
	if backend == nil {
		return nil, fmt.Errorf("pool info cache: backend is required")
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &PoolInfoCache{backend: backend, cache: cache, log: logger.GetLogger()}, nil
}

// Get returns the entry of a pool.
func (c *PoolInfoCache) Get(ctx context.Context, poolID string) (models.PoolInfoEntry, bool, error) {
	if v, ok := c.cache.Get(poolID); ok {
		return v.(models.PoolInfoEntry), true, nil
	}
	p, ok, err := c.backend.GetPoolInfo(ctx, poolID)
	if err != nil || !ok {
		return models.PoolInfoEntry{}, false, err
	}
	c.cache.Add(poolID, p)
	return p, true, nil
}

// NeedsFetch reports whether the content of a pool should be requested. Char
// banners are refetched until their featured item is known; weapon pools only
// need an entry, since constant pools never carry one. Lookup errors count as
// missing.
func (c *PoolInfoCache) NeedsFetch(ctx context.Context, poolID string, kind models.RecordKind) bool {
	p, ok, err := c.Get(ctx, poolID)
	if err != nil {
		c.log.WithComponent("pool_info").WithError(err).WithFields(logger.Fields{"pool_id": poolID}).Warn("pool info lookup failed")
		return true
	}
	if !ok {
		return true
	}
	return kind != models.KindWeapon && p.Up6ID == ""
}

// Upsert stores the entry and refreshes the cached copy.
func (c *PoolInfoCache) Upsert(ctx context.Context, entry models.PoolInfoEntry) error {
	if entry.PoolID == "" {
		return fmt.Errorf("pool info entry has no pool id")
	}
	if err := c.backend.PutPoolInfo(ctx, entry); err != nil {
		c.cache.Remove(entry.PoolID)
		return err
	}
	c.cache.Add(entry.PoolID, entry)
	return nil
}

// List returns every stored entry ordered by pool id.
func (c *PoolInfoCache) List(ctx context.Context) ([]models.PoolInfoEntry, error) {
	list, err := c.backend.LoadPoolInfo(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PoolID < list[j].PoolID })
	return list, nil
}

// Len reports how many entries are cached.
func (c *PoolInfoCache) Len() int {
	return c.cache.Len()
}
