package gacha

import (
	"slices"

	"gachasync/models"
)

// BigPityMax is the number of paid pulls after which the featured item is granted.
const BigPityMax = 120

// segment accumulates one banner of the featured family.
type segment struct {
	stats models.PoolStatistics
	// paid pulls since the featured item was last drawn in this banner
	sinceGuarantee int
}

// AnalyzeFeatured replays the featured pool family. Soft pity is shared by every
// banner and only paid pulls advance or reset it. The big pity and the featured
// item flag are tracked per banner segment, a segment starting whenever the pool
// id changes. Segments are returned newest first and only the newest one is the
// current segment. The input must be the newest-first merged history.
func AnalyzeFeatured(history []models.PullRecord, meta map[string]models.PoolMetadata) []models.PoolStatistics {
	segments := make([]models.PoolStatistics, 0)
	if len(history) == 0 {
		return segments
	}

	var current *segment
	softPity := 0

	finalize := func() {
		if current == nil {
			return
		}
		s := current.stats
		s.PityCount = softPity
		s.BigPityMax = BigPityMax
		s.BigPityCount = current.sinceGuarantee
		s.BigPityRemaining = max(0, BigPityMax-current.sinceGuarantee)
		slices.Reverse(s.History6)
		segments = append(segments, s)
	}

	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if current == nil || r.PoolID != current.stats.PoolID {
			finalize()
			current = newSegment(r, meta)
		}

		s := &current.stats
		s.TotalPulls++
		if r.IsFree {
			s.FreePulls++
		} else {
			s.PaidPulls++
			current.sinceGuarantee++
			softPity++
		}

		switch r.Rarity {
		case models.TierTop:
			s.Count6++
			s.History6 = append(s.History6, models.Highlight{
				Name:   r.ItemName,
				ItemID: r.ItemID,
				Pity:   softPity,
				IsNew:  r.IsNew,
				IsFree: r.IsFree,
			})
			if s.GuaranteedItemID != "" && r.ItemID == s.GuaranteedItemID {
				s.GotGuaranteedItem = true
				current.sinceGuarantee = 0
			}
			if !r.IsFree {
				softPity = 0
			}
		case models.TierHigh:
			s.Count5++
		case models.TierMid:
			s.Count4++
		}
	}
	finalize()

	slices.Reverse(segments)
	segments[0].IsCurrentPoolSegment = true
	return segments
}

func newSegment(r models.PullRecord, meta map[string]models.PoolMetadata) *segment {
	md := meta[r.PoolID]
	name := md.DisplayName
	if name == "" {
		name = r.PoolName
	}
	if name == "" {
		name = r.PoolID
	}
	return &segment{
		stats: models.PoolStatistics{
			PoolKey:          SpecialPoolKey,
			PoolID:           r.PoolID,
			PoolName:         name,
			GuaranteedItemID: md.GuaranteedItemID,
			History6:         []models.Highlight{},
		},
	}
}
