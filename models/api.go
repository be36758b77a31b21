package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// GENERAL ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// FlexString accepts both JSON strings and numbers. The account services are
// not consistent about how they encode ids.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// RECORDS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RecordPage is the envelope returned by the record endpoints.
type RecordPage[T any] struct {
	Code int               `json:"code"`
	Data RecordPageData[T] `json:"data"`
	Msg  string            `json:"msg"`
}

// RecordPageData holds one page of records.
type RecordPageData[T any] struct {
	List    []T  `json:"list"`
	HasMore bool `json:"hasMore"`
}

// CharRecord mirrors a character pull row.
type CharRecord struct {
	CharID   string `json:"charId"`
	CharName string `json:"charName"`
	GachaTs  string `json:"gachaTs"`
	IsFree   bool   `json:"isFree"`
	IsNew    bool   `json:"isNew"`
	PoolID   string `json:"poolId"`
	PoolName string `json:"poolName"`
	Rarity   int    `json:"rarity"`
	SeqID    string `json:"seqId"`
}

// Normalize converts the row into a PullRecord.
func (r CharRecord) Normalize() PullRecord {
	return PullRecord{
		SeqID:    r.SeqID,
		ItemID:   r.CharID,
		ItemName: r.CharName,
		Rarity:   r.Rarity,
		GachaTs:  r.GachaTs,
		IsNew:    r.IsNew,
		PoolID:   r.PoolID,
		PoolName: r.PoolName,
		IsFree:   r.IsFree,
	}
}

// WeaponRecord mirrors a weapon pull row.
type WeaponRecord struct {
	WeaponID   string `json:"weaponId"`
	WeaponName string `json:"weaponName"`
	WeaponType string `json:"weaponType"`
	GachaTs    string `json:"gachaTs"`
	IsNew      bool   `json:"isNew"`
	PoolID     string `json:"poolId"`
	PoolName   string `json:"poolName"`
	Rarity     int    `json:"rarity"`
	SeqID      string `json:"seqId"`
}

// Normalize converts the row into a PullRecord.
func (r WeaponRecord) Normalize() PullRecord {
	return PullRecord{
		SeqID:    r.SeqID,
		ItemID:   r.WeaponID,
		ItemName: r.WeaponName,
		Rarity:   r.Rarity,
		GachaTs:  r.GachaTs,
		IsNew:    r.IsNew,
		PoolID:   r.PoolID,
		PoolName: r.PoolName,
	}
}

// WeaponPool is one entry of the weapon pool list.
type WeaponPool struct {
	PoolID   string `json:"poolId"`
	PoolName string `json:"poolName"`
}

// WeaponPoolResponse is the weapon pool list envelope.
type WeaponPoolResponse struct {
	Code int          `json:"code"`
	Data []WeaponPool `json:"data"`
	Msg  string       `json:"msg"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// CONTENT ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// PoolContentItem is one obtainable item of a pool.
type PoolContentItem struct {
	ID     FlexString `json:"id"`
	Name   string     `json:"name"`
	Rarity int        `json:"rarity"`
}

// PoolContent describes a banner as returned by the content endpoint.
type PoolContent struct {
	Up6Name       string            `json:"up6_name"`
	All           []PoolContentItem `json:"all"`
	PoolName      string            `json:"pool_name"`
	PoolType      string            `json:"pool_type"`
	PoolGachaType string            `json:"pool_gacha_type"`
}

// PoolContentResponse is the content endpoint envelope.
type PoolContentResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Pool *PoolContent `json:"pool"`
	} `json:"data"`
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// AUTH /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// TokenResponse is shared by the grant and u8 token endpoints.
type TokenResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		Token string `json:"token"`
	} `json:"data"`
}

// RoleListResponse is returned by the role query endpoint.
type RoleListResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		UID   FlexString `json:"uid"`
		Roles []struct {
			RoleID     FlexString `json:"roleId"`
			Nickname   string     `json:"nickname"`
			NickName   string     `json:"nickName"`
			ServerID   FlexString `json:"serverId"`
			ServerName string     `json:"serverName"`
		} `json:"roles"`
	} `json:"data"`
}
