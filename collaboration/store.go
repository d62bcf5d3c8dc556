package collaboration

import (
	"context"

	"collabflow/outbox"
)

// Store persists collaborations, their history and their outbox messages.
// Every write is one atomic unit: the row, the history entry and the
// messages commit together or not at all.
type Store interface {
	// Insert stores a new collaboration with its creation entry.
	Insert(ctx context.Context, c Collaboration, entry StatusHistoryEntry, messages []outbox.Message) error
	// Load returns the collaboration without history, or ErrCollaborationNotFound.
	Load(ctx context.Context, id string) (Collaboration, error)
	// History returns entries ordered by Seq.
	History(ctx context.Context, id string) ([]StatusHistoryEntry, error)
	// CompareAndSwap replaces the row only if it still matches expected,
	// otherwise it returns ErrConcurrentModification and writes nothing.
	CompareAndSwap(ctx context.Context, expected Snapshot, next Collaboration, entry StatusHistoryEntry, messages []outbox.Message) error
}
