package gacha

import (
	"strconv"

	"gachasync/models"
)

func rec(seq string, rarity int) models.PullRecord {
	return models.PullRecord{SeqID: seq, ItemID: "item_" + seq, ItemName: "Item " + seq, Rarity: rarity}
}

// chronological builds a newest-first history from records listed oldest first,
// assigning increasing sequence ids.
func chronological(records ...models.PullRecord) []models.PullRecord {
	out := make([]models.PullRecord, len(records))
	for i, r := range records {
		if r.SeqID == "" {
			r.SeqID = strconv.Itoa(i + 1)
		}
		out[len(records)-1-i] = r
	}
	return out
}

func seqIDs(records []models.PullRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.SeqID
	}
	return ids
}
