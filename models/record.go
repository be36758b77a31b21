package models

import "time"

// Rarity tiers used by the game.
const (
	TierTop  = 6
	TierHigh = 5
	TierMid  = 4
)

// RecordKind separates character and weapon pull histories.
type RecordKind string

const (
	KindChar   RecordKind = "char"
	KindWeapon RecordKind = "weapon"
)

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	return k == KindChar || k == KindWeapon
}

// PullRecord represents a single gacha draw normalized from the character or weapon
// record endpoints. SeqID is both the dedup key and the sort key.
type PullRecord struct {
	SeqID    string `json:"seqId"`
	ItemID   string `json:"itemId"`
	ItemName string `json:"itemName"`
	Rarity   int    `json:"rarity"`
	GachaTs  string `json:"gachaTs"`
	IsNew    bool   `json:"isNew"`
	PoolID   string `json:"poolId"`
	PoolName string `json:"poolName"`
	IsFree   bool   `json:"isFree,omitempty"`
}

// PoolHistory maps a pool key to its records, newest first.
type PoolHistory map[string][]PullRecord

// Count returns the number of records across all pools.
func (h PoolHistory) Count() int {
	n := 0
	for _, list := range h {
		n += len(list)
	}
	return n
}

// UserRecords is the persisted document for one account.
type UserRecords struct {
	Char      PoolHistory `json:"char"`
	Weapon    PoolHistory `json:"weapon"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// History returns the history of the given kind, never nil.
func (u *UserRecords) History(kind RecordKind) PoolHistory {
	var h PoolHistory
	switch kind {
	case KindChar:
		h = u.Char
	case KindWeapon:
		h = u.Weapon
	}
	if h == nil {
		h = PoolHistory{}
	}
	return h
}

// SetHistory replaces the history of the given kind.
func (u *UserRecords) SetHistory(kind RecordKind, h PoolHistory) {
	switch kind {
	case KindChar:
		u.Char = h
	case KindWeapon:
		u.Weapon = h
	}
}
