package monitor

import (
	"sort"

	"github.com/flipstack/pinbot/src/shared/pinmap"
)

// Diff compares a fresh fetch against the seen set and returns the unseen
// submissions oldest-first plus the full id snapshot to persist.
//
// The snapshot always covers every fetched id, not just the new ones, so a
// submission that drops out of one fetch and reappears later is never
// re-notified. When seeded is false (the target has no recorded history) the
// snapshot is returned with zero events: registering a target must not replay
// its entire existing history into the channel.
func Diff(seen map[int64]struct{}, seeded bool, fresh []pinmap.Submission) ([]pinmap.Submission, []int64) {
	snapshot := make([]int64, 0, len(fresh))
	for _, sub := range fresh {
		snapshot = append(snapshot, sub.ID)
	}

	if !seeded {
		return nil, snapshot
	}

	var events []pinmap.Submission
	for _, sub := range fresh {
		if _, ok := seen[sub.ID]; ok {
			continue
		}
		events = append(events, sub)
	}

	// Notifications read in event order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	return events, snapshot
}
