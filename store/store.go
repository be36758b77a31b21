package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gachasync/config"
	"gachasync/models"
)

// ErrNotFound is returned when a keyed entity does not exist.
var ErrNotFound = errors.New("store: not found")

// HistoryStore persists pull histories keyed by account and record kind.
// Loading an unknown account yields an empty history, not an error.
type HistoryStore interface {
	Load(ctx context.Context, userKey string, kind models.RecordKind) (models.PoolHistory, error)
	Save(ctx context.Context, userKey string, kind models.RecordKind, history models.PoolHistory) error
}

// PoolInfoStore persists pool content entries keyed by pool id.
// GetPoolInfo reports false for an unknown pool.
type PoolInfoStore interface {
	LoadPoolInfo(ctx context.Context) ([]models.PoolInfoEntry, error)
	GetPoolInfo(ctx context.Context, poolID string) (models.PoolInfoEntry, bool, error)
	PutPoolInfo(ctx context.Context, entry models.PoolInfoEntry) error
}

// AccountBackend persists the account list.
type AccountBackend interface {
	LoadAccounts(ctx context.Context) ([]models.Account, error)
	SaveAccounts(ctx context.Context, accounts []models.Account) error
}

// Backend is a storage implementation covering every persisted document.
type Backend interface {
	HistoryStore
	PoolInfoStore
	AccountBackend
	Close() error
}

// New opens the configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.DataDir)
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func validateUserKey(userKey string) error {
	if userKey == "" {
		return fmt.Errorf("empty user key")
	}
	if strings.ContainsAny(userKey, `/\:`) || strings.Contains(userKey, "..") {
		return fmt.Errorf("invalid user key %q", userKey)
	}
	return nil
}

func validateKind(kind models.RecordKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return nil
}
