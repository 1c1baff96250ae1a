package chat

import (
	"slices"
	"time"
)

// DefaultWindow is how far apart a pending entry and its confirmed copy may
// be stamped and still be treated as the same message.
const DefaultWindow = 5 * time.Second

// A SkipFunc reports that a confirmed message must not absorb a pending
// entry, for example because it existed before the entry was enqueued.
type SkipFunc func(confirmed, pending Message) bool

// Reconcile merges the confirmed messages from the repository with the
// pending queue into the sequence to display.
//
// A pending entry is dropped when a confirmed message from the same sender
// with the same text was stamped within window of it; each confirmed message
// absorbs at most one entry. The result is ordered by CreatedAt with
// unstamped messages last, keeping their relative order.
func Reconcile(confirmed, pending []Message, window time.Duration) []Message {
	return ReconcileFunc(confirmed, pending, window, nil)
}

// ReconcileFunc is like Reconcile but leaves out the pairs skip reports.
// A nil skip allows every pair.
func ReconcileFunc(confirmed, pending []Message, window time.Duration, skip SkipFunc) []Message {
	absorbedBy := absorb(confirmed, pending, window, skip)

	out := make([]Message, 0, len(confirmed)+len(pending))
	out = append(out, confirmed...)
	for i, p := range pending {
		if absorbedBy[i] < 0 {
			out = append(out, p)
		}
	}

	slices.SortStableFunc(out, compareCreatedAt)
	return out
}

// Absorbed returns the ids of pending entries that have a confirmed copy.
func Absorbed(confirmed, pending []Message, window time.Duration) []string {
	absorbedBy := absorb(confirmed, pending, window, nil)
	var ids []string
	for i, p := range pending {
		if absorbedBy[i] >= 0 {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Matches maps the id of every absorbed pending entry to the id of the
// confirmed message that absorbed it.
func Matches(confirmed, pending []Message, window time.Duration, skip SkipFunc) map[string]string {
	absorbedBy := absorb(confirmed, pending, window, skip)
	out := make(map[string]string)
	for i, p := range pending {
		if j := absorbedBy[i]; j >= 0 {
			out[p.ID] = confirmed[j].ID
		}
	}
	return out
}

// absorb returns, for each pending entry, the index of the confirmed message
// absorbing it or -1.
func absorb(confirmed, pending []Message, window time.Duration, skip SkipFunc) []int {
	absorbedBy := make([]int, len(pending))
	used := make([]bool, len(confirmed))
	for i, p := range pending {
		best, bestGap := -1, time.Duration(0)
		for j, c := range confirmed {
			if used[j] || (skip != nil && skip(c, p)) {
				continue
			}
			gap, ok := distance(c, p, window)
			if !ok {
				continue
			}
			if best < 0 || gap < bestGap {
				best, bestGap = j, gap
			}
		}
		if best >= 0 {
			used[best] = true
		}
		absorbedBy[i] = best
	}
	return absorbedBy
}

// distance reports how far apart a confirmed message and a pending entry were
// stamped, and whether they are close enough to be the same message.
func distance(confirmed, pending Message, window time.Duration) (time.Duration, bool) {
	if confirmed.SenderID != pending.SenderID || confirmed.Text != pending.Text {
		return 0, false
	}
	// The backend echoes a write before stamping it.
	if !confirmed.Stamped() || !pending.Stamped() {
		return 0, true
	}
	d := confirmed.CreatedAt.Sub(pending.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d, d <= window
}

func compareCreatedAt(a, b Message) int {
	switch {
	case !a.Stamped() && !b.Stamped():
		return 0
	case !a.Stamped():
		return 1
	case !b.Stamped():
		return -1
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}
