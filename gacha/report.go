package gacha

import (
	"slices"

	"gachasync/models"
)

// PoolMetadataFromInfo builds the featured pool lookup from cached pool content.
func PoolMetadataFromInfo(pools []models.PoolInfoEntry) map[string]models.PoolMetadata {
	meta := make(map[string]models.PoolMetadata, len(pools))
	for _, p := range pools {
		if p.PoolID == "" {
			continue
		}
		meta[p.PoolID] = models.PoolMetadata{
			DisplayName:      p.PoolName,
			GuaranteedItemID: p.Up6ID,
		}
	}
	return meta
}

// WeaponUp6ByPoolID maps weapon pool ids to their featured weapon.
func WeaponUp6ByPoolID(pools []models.PoolInfoEntry) map[string]string {
	out := make(map[string]string)
	for _, p := range pools {
		if p.PoolGachaType != "weapon" || p.PoolID == "" || p.Up6ID == "" {
			continue
		}
		out[p.PoolID] = p.Up6ID
	}
	return out
}

// BuildReport computes the statistics of every stored pool of an account.
// Character pools follow PoolTypes, with the featured family split into banner
// segments, then any other character pool key in key order. Weapon pools are
// ordered by pool key.
func BuildReport(char, weapon models.PoolHistory, pools []models.PoolInfoEntry) models.Report {
	report := models.Report{
		Character: make([]models.PoolStatistics, 0, len(char)),
		Weapon:    make([]models.PoolStatistics, 0, len(weapon)),
	}

	for _, poolType := range PoolTypes {
		list, ok := char[poolType]
		if !ok {
			continue
		}
		if poolType == SpecialPoolKey {
			report.Character = append(report.Character, AnalyzeFeatured(list, PoolMetadataFromInfo(pools))...)
			continue
		}
		report.Character = append(report.Character, AnalyzeStandard(poolType, list))
	}

	for _, key := range sortedKeys(char) {
		if IsKnownPoolType(key) {
			continue
		}
		report.Character = append(report.Character, AnalyzeStandard(key, char[key]))
	}

	up6 := WeaponUp6ByPoolID(pools)
	for _, key := range sortedKeys(weapon) {
		report.Weapon = append(report.Weapon, AnalyzeWeapon(key, weapon[key], up6[key]))
	}
	return report
}

func sortedKeys(h models.PoolHistory) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
