package storage

import (
	"slices"
	"sort"

	"github.com/papercomputeco/recall/pkg/memory"
)

// Matches reports whether m satisfies every criterion of f except Limit and
// Order.
func (f Filter) Matches(m *memory.Memory) bool {
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, m.ID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, m.Type) {
		return false
	}
	if slices.Contains(f.ExcludeTypes, m.Type) {
		return false
	}
	if !f.Before.IsZero() && !m.Timestamp.Before(f.Before) {
		return false
	}
	if !f.After.IsZero() && m.Timestamp.Before(f.After) {
		return false
	}
	if f.HasRelevanceAbove && m.RelevanceScore <= f.RelevanceAbove {
		return false
	}
	return true
}

// SortMemories orders memories in place the way drivers order query results.
func SortMemories(ms []*memory.Memory, o Order) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		switch o {
		case OrderOldest:
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.ID < b.ID
		case OrderRelevance:
			if a.RelevanceScore != b.RelevanceScore {
				return a.RelevanceScore > b.RelevanceScore
			}
			return a.Timestamp.After(b.Timestamp)
		default:
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.ID > b.ID
		}
	})
}
