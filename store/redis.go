package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"gachasync/config"
	"gachasync/logger"
	"gachasync/models"
)

const (
	redisPrefix      = "gachasync"
	redisPoolInfoKey = redisPrefix + ":poolinfo"
	redisAccountsKey = redisPrefix + ":accounts"
)

// RedisStore keeps each history kind in a hash, one field per pool key holding
// the JSON encoded record list. Pool info is a hash keyed by pool id and the
// accounts are a plain JSON string.
type RedisStore struct {
	client *redis.Client
	log    *logger.Log
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", cfg.Addr, err)
	}
	return newRedisStore(client), nil
}

func newRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, log: logger.GetLogger()}
}

func historyKey(userKey string, kind models.RecordKind) string {
	return fmt.Sprintf("%s:history:%s:%s", redisPrefix, userKey, kind)
}

// Load returns one kind of an account's history.
func (s *RedisStore) Load(ctx context.Context, userKey string, kind models.RecordKind) (models.PoolHistory, error) {
	if err := validateUserKey(userKey); err != nil {
		return nil, err
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, historyKey(userKey, kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s history of %s: %w", kind, userKey, err)
	}
	history := make(models.PoolHistory, len(fields))
	for pool, raw := range fields {
		var list []models.PullRecord
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("decode pool %s of %s: %w", pool, userKey, err)
		}
		history[pool] = list
	}
	return history, nil
}

// Save replaces the hash of one kind in a single transaction.
func (s *RedisStore) Save(ctx context.Context, userKey string, kind models.RecordKind, history models.PoolHistory) error {
	if err := validateUserKey(userKey); err != nil {
		return err
	}
	if err := validateKind(kind); err != nil {
		return err
	}
	key := historyKey(userKey, kind)
	values := make([]interface{}, 0, len(history)*2)
	size := 0
	for pool, list := range history {
		data, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("encode pool %s of %s: %w", pool, userKey, err)
		}
		values = append(values, pool, data)
		size += len(data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s history of %s: %w", kind, userKey, err)
	}
	logger.IncrementStoreWrite(size)
	s.log.WithComponent("redis_store").WithFields(logger.Fields{
		"user":    userKey,
		"kind":    kind,
		"records": history.Count(),
		"bytes":   size,
	}).Debug("history saved")
	return nil
}

// LoadPoolInfo returns every pool description ordered by pool id.
func (s *RedisStore) LoadPoolInfo(ctx context.Context) ([]models.PoolInfoEntry, error) {
	fields, err := s.client.HGetAll(ctx, redisPoolInfoKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load pool info: %w", err)
	}
	pools := make([]models.PoolInfoEntry, 0, len(fields))
	for id, raw := range fields {
		var p models.PoolInfoEntry
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode pool info %s: %w", id, err)
		}
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].PoolID < pools[j].PoolID })
	return pools, nil
}

// GetPoolInfo reads one pool description.
func (s *RedisStore) GetPoolInfo(ctx context.Context, poolID string) (models.PoolInfoEntry, bool, error) {
	raw, err := s.client.HGet(ctx, redisPoolInfoKey, poolID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PoolInfoEntry{}, false, nil
	}
	if err != nil {
		return models.PoolInfoEntry{}, false, fmt.Errorf("load pool info %s: %w", poolID, err)
	}
	var p models.PoolInfoEntry
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.PoolInfoEntry{}, false, fmt.Errorf("decode pool info %s: %w", poolID, err)
	}
	return p, true, nil
}

// PutPoolInfo stores one pool description.
func (s *RedisStore) PutPoolInfo(ctx context.Context, entry models.PoolInfoEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, redisPoolInfoKey, entry.PoolID, data).Err(); err != nil {
		return fmt.Errorf("save pool info %s: %w", entry.PoolID, err)
	}
	logger.IncrementStoreWrite(len(data))
	return nil
}

// LoadAccounts returns the stored accounts.
func (s *RedisStore) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	accounts := []models.Account{}
	if err := s.getJSON(ctx, redisAccountsKey, &accounts); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}

// SaveAccounts stores the accounts.
func (s *RedisStore) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	if err := s.setJSON(ctx, redisAccountsKey, accounts); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out interface{}) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return err
	}
	logger.IncrementStoreWrite(len(data))
	return nil
}
