package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"gachasync/logger"
	"gachasync/models"
)

const (
	historyDir   = "gachaData"
	poolInfoFile = "poolInfo.json"
	accountsFile = "config.json"
)

// accountsDocument is the layout of config.json.
type accountsDocument struct {
	Users []models.Account `json:"users"`
}

// FileStore keeps every document as JSON under a data directory:
// gachaData/<userKey>.json, poolInfo.json and config.json.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *logger.Log
}

// NewFileStore creates the data directory layout if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, historyDir), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create data dir: %w", err)
	}
	return &FileStore{dir: dir, log: logger.GetLogger()}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) userPath(userKey string) string {
	return filepath.Join(s.dir, historyDir, userKey+".json")
}

// Load returns one kind of an account's history.
func (s *FileStore) Load(_ context.Context, userKey string, kind models.RecordKind) (models.PoolHistory, error) {
	if err := validateUserKey(userKey); err != nil {
		return nil, err
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readUser(userKey)
	if err != nil {
		return nil, err
	}
	return doc.History(kind), nil
}

// Save replaces one kind of an account's history, keeping the other kind.
func (s *FileStore) Save(_ context.Context, userKey string, kind models.RecordKind, history models.PoolHistory) error {
	if err := validateUserKey(userKey); err != nil {
		return err
	}
	if err := validateKind(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readUser(userKey)
	if err != nil {
		return err
	}
	doc.SetHistory(kind, history)
	doc.UpdatedAt = time.Now().UTC()

	size, err := writeJSONAtomic(s.userPath(userKey), doc)
	if err != nil {
		return fmt.Errorf("save %s history of %s: %w", kind, userKey, err)
	}
	logger.IncrementStoreWrite(size)
	s.log.WithComponent("file_store").WithFields(logger.Fields{
		"user":    userKey,
		"kind":    kind,
		"records": history.Count(),
		"bytes":   size,
	}).Debug("history saved")
	return nil
}

func (s *FileStore) readUser(userKey string) (models.UserRecords, error) {
	var doc models.UserRecords
	found, err := readJSON(s.userPath(userKey), &doc)
	if err != nil {
		return models.UserRecords{}, fmt.Errorf("load history of %s: %w", userKey, err)
	}
	if !found {
		return models.UserRecords{Char: models.PoolHistory{}, Weapon: models.PoolHistory{}}, nil
	}
	return doc, nil
}

// LoadPoolInfo reads poolInfo.json. A missing file is an empty cache.
func (s *FileStore) LoadPoolInfo(_ context.Context) ([]models.PoolInfoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPoolInfo()
}

// GetPoolInfo reads the entry of one pool from poolInfo.json.
func (s *FileStore) GetPoolInfo(_ context.Context, poolID string) (models.PoolInfoEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pools, err := s.readPoolInfo()
	if err != nil {
		return models.PoolInfoEntry{}, false, err
	}
	for _, p := range pools {
		if p.PoolID == poolID {
			return p, true, nil
		}
	}
	return models.PoolInfoEntry{}, false, nil
}

// PutPoolInfo replaces the entry with the same pool id, keeping the file
// ordered by pool id.
func (s *FileStore) PutPoolInfo(_ context.Context, entry models.PoolInfoEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pools, err := s.readPoolInfo()
	if err != nil {
		return err
	}
	replaced := false
	for i := range pools {
		if pools[i].PoolID == entry.PoolID {
			pools[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		pools = append(pools, entry)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].PoolID < pools[j].PoolID })
	return s.writePoolInfo(pools)
}

// SavePoolInfo rewrites poolInfo.json with the given list.
func (s *FileStore) SavePoolInfo(_ context.Context, pools []models.PoolInfoEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePoolInfo(pools)
}

func (s *FileStore) readPoolInfo() ([]models.PoolInfoEntry, error) {
	var pools []models.PoolInfoEntry
	if _, err := readJSON(filepath.Join(s.dir, poolInfoFile), &pools); err != nil {
		return nil, fmt.Errorf("load pool info: %w", err)
	}
	if pools == nil {
		pools = []models.PoolInfoEntry{}
	}
	return pools, nil
}

func (s *FileStore) writePoolInfo(pools []models.PoolInfoEntry) error {
	size, err := writeJSONAtomic(filepath.Join(s.dir, poolInfoFile), pools)
	if err != nil {
		return fmt.Errorf("save pool info: %w", err)
	}
	logger.IncrementStoreWrite(size)
	return nil
}

// LoadAccounts reads the users list of config.json.
func (s *FileStore) LoadAccounts(_ context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc accountsDocument
	if _, err := readJSON(filepath.Join(s.dir, accountsFile), &doc); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	if doc.Users == nil {
		doc.Users = []models.Account{}
	}
	return doc.Users, nil
}

// SaveAccounts rewrites the users list of config.json.
func (s *FileStore) SaveAccounts(_ context.Context, accounts []models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := writeJSONAtomic(filepath.Join(s.dir, accountsFile), accountsDocument{Users: accounts})
	if err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	logger.IncrementStoreWrite(size)
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// readJSON decodes path into out. It reports false when the file does not exist.
func readJSON(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSONAtomic encodes v and swaps it into place so readers never observe
// a partially written document.
func writeJSONAtomic(path string, v interface{}) (int, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return 0, err
	}
	return len(data), nil
}
