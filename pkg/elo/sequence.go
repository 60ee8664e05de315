package elo

import (
	"slices"
	"sort"
)

// Sequence returns the batch in processing order.
// With timestamps, matches are stable-sorted by time so equal timestamps keep
// their input order. Without timestamps the input order is kept.
func Sequence(b *Batch) *Batch {
	out := &Batch{
		Matches:       slices.Clone(b.Matches),
		Competitors:   slices.Clone(b.Competitors),
		HasTimestamps: b.HasTimestamps,
	}
	if out.HasTimestamps {
		sort.SliceStable(out.Matches, func(i, j int) bool {
			return out.Matches[i].Timestamp.Before(out.Matches[j].Timestamp)
		})
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
