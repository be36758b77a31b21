package gacha

import (
	"maps"

	"gachasync/models"
)

// Merge overlays incoming records on an existing newest-first list. Records whose
// sequence id is already stored are discarded, duplicates inside incoming resolve
// to the last occurrence. The result is newest-first and added is the number of
// new sequence ids. When nothing is new, existing is returned as is.
func Merge(existing, incoming []models.PullRecord) (merged []models.PullRecord, added int) {
	if len(incoming) == 0 {
		return existing, 0
	}

	stored := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		stored[r.SeqID] = struct{}{}
	}

	fresh := make(map[string]models.PullRecord)
	order := make([]string, 0)
	for _, r := range incoming {
		if _, ok := stored[r.SeqID]; ok {
			continue
		}
		if _, ok := fresh[r.SeqID]; !ok {
			order = append(order, r.SeqID)
		}
		fresh[r.SeqID] = r
	}
	if len(fresh) == 0 {
		return existing, 0
	}

	merged = make([]models.PullRecord, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	for _, id := range order {
		merged = append(merged, fresh[id])
	}
	sortNewestFirst(merged)
	return merged, len(merged) - len(existing)
}

// MergeHistory merges fetched pools into a stored history. The stored map is not
// modified; pools without new records keep their original slices.
func MergeHistory(stored, fetched models.PoolHistory) (models.PoolHistory, int) {
	out := maps.Clone(stored)
	if out == nil {
		out = models.PoolHistory{}
	}
	total := 0
	for key, list := range fetched {
		if len(list) == 0 {
			continue
		}
		merged, added := Merge(out[key], list)
		out[key] = merged
		total += added
	}
	return out, total
}
