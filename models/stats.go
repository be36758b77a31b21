package models

// Highlight is a single top-tier draw with the pity it was obtained at.
type Highlight struct {
	Name   string `json:"name"`
	ItemID string `json:"itemId,omitempty"`
	Pity   int    `json:"pity"`
	IsNew  bool   `json:"isNew"`
	IsFree bool   `json:"isFree,omitempty"`
}

// PoolStatistics is derived from a pool history on every read and never persisted.
// The big pity fields are only populated for the featured pool family.
type PoolStatistics struct {
	PoolKey    string      `json:"poolKey"`
	PoolID     string      `json:"poolId,omitempty"`
	PoolName   string      `json:"poolName"`
	TotalPulls int         `json:"totalPulls"`
	PityCount  int         `json:"pityCount"`
	Count6     int         `json:"count6"`
	Count5     int         `json:"count5"`
	Count4     int         `json:"count4"`
	History6   []Highlight `json:"history6"`

	PaidPulls            int    `json:"paidPulls"`
	FreePulls            int    `json:"freePulls"`
	BigPityMax           int    `json:"bigPityMax"`
	BigPityCount         int    `json:"bigPityCount"`
	BigPityRemaining     int    `json:"bigPityRemaining"`
	GuaranteedItemID     string `json:"guaranteedItemId,omitempty"`
	GotGuaranteedItem    bool   `json:"gotGuaranteedItem"`
	IsCurrentPoolSegment bool   `json:"isCurrentPoolSegment"`
}

// PoolMetadata describes a banner for display and guarantee tracking.
type PoolMetadata struct {
	DisplayName      string `json:"displayName"`
	GuaranteedItemID string `json:"guaranteedItemId"`
}

// PoolInfoEntry is the cached content API description of a pool.
type PoolInfoEntry struct {
	PoolID        string `json:"pool_id"`
	PoolGachaType string `json:"pool_gacha_type"`
	PoolName      string `json:"pool_name"`
	PoolType      string `json:"pool_type"`
	Up6ID         string `json:"up6_id"`
}

// Report groups the statistics of one account.
type Report struct {
	Character []PoolStatistics `json:"character"`
	Weapon    []PoolStatistics `json:"weapon"`
}
