package gacha

import (
	"cmp"
	"slices"
	"strings"

	"gachasync/models"
)

// CompareSeqID orders two sequence ids. Ids of equal length compare
// lexicographically, ids of different length compare as decimal numbers.
func CompareSeqID(a, b string) int {
	if len(a) == len(b) {
		return strings.Compare(a, b)
	}
	return compareDecimal(a, b)
}

// compareDecimal compares two digit strings by value without parsing them, so ids
// beyond 64 bits keep their order. Non-numeric ids fall back to length then bytes.
func compareDecimal(a, b string) int {
	if !isDigits(a) || !isDigits(b) {
		if c := cmp.Compare(len(a), len(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SortNewestFirst returns a copy of records ordered by descending sequence id.
func SortNewestFirst(records []models.PullRecord) []models.PullRecord {
	out := slices.Clone(records)
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(records []models.PullRecord) {
	slices.SortStableFunc(records, func(a, b models.PullRecord) int {
		return CompareSeqID(b.SeqID, a.SeqID)
	})
}

// IsNewestFirst reports whether records are strictly ordered by descending sequence id.
func IsNewestFirst(records []models.PullRecord) bool {
	for i := 1; i < len(records); i++ {
		if CompareSeqID(records[i-1].SeqID, records[i].SeqID) <= 0 {
			return false
		}
	}
	return true
}
