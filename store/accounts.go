package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	"gachasync/config"
	"gachasync/models"
)

// AccountStore manages the account list on top of an AccountBackend.
type AccountStore struct {
	backend AccountBackend
	mu      sync.Mutex
}

// NewAccountStore wraps backend.
func NewAccountStore(backend AccountBackend) *AccountStore {
	return &AccountStore{backend: backend}
}

// List returns every account.
func (s *AccountStore) List(ctx context.Context) ([]models.Account, error) {
	return s.backend.LoadAccounts(ctx)
}

// Get returns the account with the given key or ErrNotFound.
func (s *AccountStore) Get(ctx context.Context, key string) (models.Account, error) {
	accounts, err := s.backend.LoadAccounts(ctx)
	if err != nil {
		return models.Account{}, err
	}
	for _, a := range accounts {
		if a.UserKey() == key {
			return a, nil
		}
	}
	return models.Account{}, fmt.Errorf("account %s: %w", key, ErrNotFound)
}

// Upsert inserts the account or replaces the one with the same key.
func (s *AccountStore) Upsert(ctx context.Context, acc models.Account) error {
	return s.Update(ctx, acc.UserKey(), acc)
}

// Update replaces the account stored under oldKey, which matters once a sync
// resolves the role and the derived key changes. Any other entry already using
// the new key is dropped.
func (s *AccountStore) Update(ctx context.Context, oldKey string, acc models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.backend.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	newKey := acc.UserKey()
	out := make([]models.Account, 0, len(accounts)+1)
	replaced := false
	for _, a := range accounts {
		k := a.UserKey()
		switch {
		case k == oldKey && !replaced:
			out = append(out, acc)
			replaced = true
		case k == newKey || k == oldKey:
		default:
			out = append(out, a)
		}
	}
	if !replaced {
		out = append(out, acc)
	}
	return s.backend.SaveAccounts(ctx, out)
}

// Seed upserts every configured account. Stored roles are kept when the
// configuration does not name one.
func (s *AccountStore) Seed(ctx context.Context, configured []config.AccountConfig) error {
	for _, ac := range configured {
		acc, err := AccountFromConfig(ac)
		if err != nil {
			return err
		}
		if acc.Role == nil {
			if existing, err := s.findByUID(ctx, acc.UID, acc.GachaURL); err == nil {
				acc.Role = existing.Role
				if acc.UID == "" {
					acc.UID = existing.UID
				}
			}
		}
		if acc.UserKey() == "" {
			// URL accounts without uid get their key once the role is resolved.
			acc.Key = "url_" + shortHash(acc.GachaURL)
		}
		if err := s.Upsert(ctx, acc); err != nil {
			return err
		}
	}
	return nil
}

func (s *AccountStore) findByUID(ctx context.Context, uid, gachaURL string) (models.Account, error) {
	accounts, err := s.backend.LoadAccounts(ctx)
	if err != nil {
		return models.Account{}, err
	}
	for _, a := range accounts {
		if (uid != "" && a.UID == uid) || (uid == "" && gachaURL != "" && a.GachaURL == gachaURL) {
			return a, nil
		}
	}
	return models.Account{}, ErrNotFound
}

// AccountFromConfig converts a configured account.
func AccountFromConfig(ac config.AccountConfig) (models.Account, error) {
	provider, err := models.ParseProvider(ac.Provider)
	if err != nil {
		return models.Account{}, err
	}
	acc := models.Account{
		UID:      ac.UID,
		Token:    ac.Token,
		Provider: provider,
		Source:   models.SourceToken,
		GachaURL: ac.GachaURL,
	}
	if ac.Token == "" && ac.GachaURL != "" {
		acc.Source = models.SourceURL
	}
	if ac.RoleID != "" || ac.ServerID != "" {
		acc.Role = &models.AccountRole{RoleID: ac.RoleID, ServerID: ac.ServerID}
	}
	return acc, nil
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:4])
}
