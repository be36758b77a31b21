package gacha

import (
	"slices"

	"gachasync/models"
)

// AnalyzeStandard replays a newest-first pool history oldest first and counts
// pulls since the last top-tier drop. Unknown tiers still advance pity.
func AnalyzeStandard(poolKey string, history []models.PullRecord) models.PoolStatistics {
	stats := replay(history)
	stats.PoolKey = poolKey
	stats.PoolName = PoolDisplayName(poolKey)
	return stats
}

// AnalyzeWeapon replays a weapon pool the same way as a standard pool. The name
// comes from the newest record. When up6ItemID is set the result also reports
// whether that weapon was drawn.
func AnalyzeWeapon(poolKey string, history []models.PullRecord, up6ItemID string) models.PoolStatistics {
	stats := replay(history)
	stats.PoolKey = poolKey
	stats.PoolName = poolKey
	if len(history) > 0 && history[0].PoolName != "" {
		stats.PoolName = history[0].PoolName
	}
	if up6ItemID != "" {
		stats.GuaranteedItemID = up6ItemID
		for _, h := range stats.History6 {
			if h.ItemID == up6ItemID {
				stats.GotGuaranteedItem = true
				break
			}
		}
	}
	return stats
}

func replay(history []models.PullRecord) models.PoolStatistics {
	stats := models.PoolStatistics{
		TotalPulls: len(history),
		History6:   []models.Highlight{},
	}

	pulls := 0
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		pulls++
		switch r.Rarity {
		case models.TierTop:
			stats.Count6++
			stats.History6 = append(stats.History6, models.Highlight{
				Name:   r.ItemName,
				ItemID: r.ItemID,
				Pity:   pulls,
				IsNew:  r.IsNew,
			})
			pulls = 0
		case models.TierHigh:
			stats.Count5++
		case models.TierMid:
			stats.Count4++
		}
	}

	stats.PityCount = pulls
	slices.Reverse(stats.History6)
	return stats
}
