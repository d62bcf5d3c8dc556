package collaboration

import (
	"fmt"
	"time"
)

func newHistoryEntry(id string, c Collaboration, from *Status, action Action, actorID, reason string, details Details, at time.Time) StatusHistoryEntry {
	return StatusHistoryEntry{
		ID:              id,
		CollaborationID: c.ID,
		Seq:             c.Version,
		FromStatus:      from,
		ToStatus:        c.Status,
		Action:          action,
		ChangedBy:       actorID,
		Reason:          reason,
		Details:         details,
		CreatedAt:       at,
	}
}

// ReplayStatus folds an ordered history into the status it ends at. Each
// entry's FromStatus must equal the previous entry's ToStatus, and every
// non-creation step must be a row of the transition table.
func ReplayStatus(entries []StatusHistoryEntry) (Status, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: empty history", ErrHistoryCorrupt)
	}
	first := entries[0]
	if first.FromStatus != nil {
		return "", fmt.Errorf("%w: first entry has from_status %s", ErrHistoryCorrupt, *first.FromStatus)
	}
	current := first.ToStatus
	for i, e := range entries[1:] {
		if e.FromStatus == nil || *e.FromStatus != current {
			return "", fmt.Errorf("%w: entry %d does not continue from %s", ErrHistoryCorrupt, i+1, current)
		}
		r, ok := Lookup(current, e.Action)
		if !ok || r.To != e.ToStatus {
			return "", fmt.Errorf("%w: entry %d %s -> %s via %s is not a legal move", ErrHistoryCorrupt, i+1, current, e.ToStatus, e.Action)
		}
		current = e.ToStatus
	}
	return current, nil
}
