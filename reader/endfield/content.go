package endfield

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gachasync/models"
)

// FetchPoolContent reads a banner description and resolves its featured item.
// Weapon pools default their gacha type to "weapon", derive the pool type from
// the id and always use server 1 on hypergryph.
func (c *Client) FetchPoolContent(ctx context.Context, s Session, poolID string, kind models.RecordKind) (models.PoolInfoEntry, error) {
	serverID := s.ServerID
	if kind == models.KindWeapon && s.Provider == models.ProviderHypergryph {
		serverID = "1"
	}
	q := url.Values{}
	q.Set("lang", c.lang)
	q.Set("pool_id", poolID)
	q.Set("server_id", serverID)

	var resp models.PoolContentResponse
	if _, err := c.getJSON(ctx, c.serviceURL(s.Provider, serviceWebview, "/api/content"), q, &resp); err != nil {
		return models.PoolInfoEntry{}, fmt.Errorf("pool content %s: %w", poolID, err)
	}
	if resp.Code != 0 || resp.Data.Pool == nil {
		return models.PoolInfoEntry{}, fmt.Errorf("%w: pool content %s code %d: %s", ErrBadResponse, poolID, resp.Code, resp.Msg)
	}
	pool := resp.Data.Pool

	entry := models.PoolInfoEntry{
		PoolID:        poolID,
		PoolGachaType: pool.PoolGachaType,
		PoolName:      pool.PoolName,
		PoolType:      pool.PoolType,
		Up6ID:         featuredItemID(pool),
	}
	if kind == models.KindWeapon {
		if entry.PoolGachaType == "" {
			entry.PoolGachaType = "weapon"
		}
		entry.PoolType = "special"
		if strings.Contains(strings.ToLower(poolID), "constant") {
			entry.PoolType = "constant"
		}
	}
	return entry, nil
}

// featuredItemID finds the item named up6_name, preferring a top-tier entry.
func featuredItemID(pool *models.PoolContent) string {
	name := strings.TrimSpace(pool.Up6Name)
	if name == "" {
		return ""
	}
	fallback := ""
	for _, item := range pool.All {
		if item.Name != name {
			continue
		}
		if item.Rarity == models.TierTop {
			return item.ID.String()
		}
		if fallback == "" {
			fallback = item.ID.String()
		}
	}
	return fallback
}
