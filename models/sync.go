package models

import "time"

// SyncRequest asks the processor to sync one account.
type SyncRequest struct {
	ID          string    `json:"id"`
	AccountKey  string    `json:"account_key"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// SyncBatch carries the outcome of one kind of a sync to the sinks. Added holds
// only the newly merged records per pool key, Snapshot the full merged history.
type SyncBatch struct {
	BatchID     string       `json:"batch_id"`
	SyncID      string       `json:"sync_id"`
	UserKey     string       `json:"user_key"`
	Provider    Provider     `json:"provider"`
	Kind        RecordKind   `json:"kind"`
	Added       PoolHistory  `json:"added"`
	Snapshot    PoolHistory  `json:"snapshot,omitempty"`
	RecordCount int          `json:"record_count"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Sync stages reported through progress events.
const (
	StageAuth     = "auth"
	StageFetch    = "fetch"
	StagePoolInfo = "pool_info"
	StageSave     = "save"
	StageDone     = "done"
	StageFailed   = "failed"
)

// SyncProgress is a live progress event.
type SyncProgress struct {
	SyncID     string     `json:"sync_id"`
	AccountKey string     `json:"account_key"`
	Stage      string     `json:"stage"`
	Kind       RecordKind `json:"kind,omitempty"`
	PoolName   string     `json:"pool_name,omitempty"`
	Page       int        `json:"page,omitempty"`
	Added      int        `json:"added,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// SyncResult summarizes a finished sync.
type SyncResult struct {
	SyncID      string        `json:"sync_id"`
	AccountKey  string        `json:"account_key"`
	CharAdded   int           `json:"char_added"`
	WeaponAdded int           `json:"weapon_added"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Added returns the total number of new records.
func (r SyncResult) Added() int {
	return r.CharAdded + r.WeaponAdded
}
