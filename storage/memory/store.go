// Package memory is an in-process store for tests and single-node demos.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/outbox"
)

// Store keeps everything behind one mutex, which makes each write a single
// atomic unit.
type Store struct {
	mu             sync.Mutex
	collaborations map[string]collaboration.Collaboration
	history        map[string][]collaboration.StatusHistoryEntry
	messages       map[string]*outbox.Message
	order          []string
	contracts      map[string]contract.Contract
	idempotency    map[string]struct{}
}

var (
	_ collaboration.Store = (*Store)(nil)
	_ outbox.Store        = (*Store)(nil)
	_ contract.Repository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		collaborations: make(map[string]collaboration.Collaboration),
		history:        make(map[string][]collaboration.StatusHistoryEntry),
		messages:       make(map[string]*outbox.Message),
		contracts:      make(map[string]contract.Contract),
		idempotency:    make(map[string]struct{}),
	}
}

func (s *Store) Insert(ctx context.Context, c collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collaborations[c.ID]; exists {
		return collaboration.ErrConcurrentModification
	}
	c.History = nil
	s.collaborations[c.ID] = c
	s.history[c.ID] = []collaboration.StatusHistoryEntry{entry}
	s.enqueueLocked(messages)
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (collaboration.Collaboration, error) {
	if err := ctx.Err(); err != nil {
		return collaboration.Collaboration{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collaborations[id]
	if !ok {
		return collaboration.Collaboration{}, collaboration.ErrCollaborationNotFound
	}
	return c, nil
}

func (s *Store) History(ctx context.Context, id string) ([]collaboration.StatusHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.history[id]
	if !ok {
		return nil, collaboration.ErrCollaborationNotFound
	}
	out := make([]collaboration.StatusHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expected collaboration.Snapshot, next collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.collaborations[next.ID]
	if !ok {
		return collaboration.ErrCollaborationNotFound
	}
	if current.Snapshot() != expected {
		return collaboration.ErrConcurrentModification
	}
	next.History = nil
	s.collaborations[next.ID] = next
	s.history[next.ID] = append(s.history[next.ID], entry)
	s.enqueueLocked(messages)
	return nil
}

func (s *Store) enqueueLocked(messages []outbox.Message) {
	for _, m := range messages {
		msg := m
		if msg.Status == "" {
			msg.Status = outbox.StatusPending
		}
		s.messages[msg.ID] = &msg
		s.order = append(s.order, msg.ID)
	}
}

// Messages returns every outbox message in enqueue order.
func (s *Store) Messages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.messages[id])
	}
	return out
}

func (s *Store) Lease(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]outbox.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*outbox.Message
	for _, id := range s.order {
		m := s.messages[id]
		switch {
		case m.Status == outbox.StatusPending && !m.NextAttemptAt.After(now):
			due = append(due, m)
		case m.Status == outbox.StatusLeased && m.LeaseExpiresAt != nil && !m.LeaseExpiresAt.After(now):
			due = append(due, m)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	expires := now.Add(leaseTTL)
	out := make([]outbox.Message, 0, len(due))
	for _, m := range due {
		m.Status = outbox.StatusLeased
		m.LeaseOwner = consumer
		m.LeaseExpiresAt = &expires
		m.Attempts++
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) leasedLocked(id, consumer string) (*outbox.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, outbox.ErrNotFound
	}
	if m.Status != outbox.StatusLeased || m.LeaseOwner != consumer {
		return nil, outbox.ErrLeaseLost
	}
	return m, nil
}

func (s *Store) MarkDelivered(_ context.Context, id, consumer string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.leasedLocked(id, consumer)
	if err != nil {
		return err
	}
	m.Status = outbox.StatusDelivered
	m.LeaseOwner = ""
	m.LeaseExpiresAt = nil
	m.LastError = ""
	m.DeliveredAt = &deliveredAt
	return nil
}

func (s *Store) MarkRetry(_ context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.leasedLocked(id, consumer)
	if err != nil {
		return err
	}
	m.Status = outbox.StatusPending
	m.LeaseOwner = ""
	m.LeaseExpiresAt = nil
	m.NextAttemptAt = nextAttemptAt
	m.LastError = lastError
	return nil
}

func (s *Store) MarkDead(_ context.Context, id, consumer string, lastError string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.leasedLocked(id, consumer)
	if err != nil {
		return err
	}
	m.Status = outbox.StatusDead
	m.LeaseOwner = ""
	m.LeaseExpiresAt = nil
	m.LastError = lastError
	return nil
}

func (s *Store) GetContract(_ context.Context, collaborationID string) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[collaborationID]
	if !ok {
		return contract.Contract{}, contract.ErrNotFound
	}
	return c, nil
}

func (s *Store) UpsertContract(_ context.Context, c contract.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.CollaborationID] = c
	return nil
}

func (s *Store) RecordSignature(_ context.Context, collaborationID string, party contract.Party, signedAt time.Time, idempotencyKey string) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		if _, seen := s.idempotency[key]; seen {
			return contract.Contract{}, contract.ErrDuplicateIdempotencyKey
		}
	}
	c, ok := s.contracts[collaborationID]
	if !ok {
		return contract.Contract{}, contract.ErrNotFound
	}
	at := signedAt
	switch party {
	case contract.PartyBrand:
		if c.BrandSignedAt == nil {
			c.BrandSignedAt = &at
		}
	case contract.PartyInfluencer:
		if c.InfluencerSignedAt == nil {
			c.InfluencerSignedAt = &at
		}
	default:
		return contract.Contract{}, contract.ErrUnknownParty
	}
	c.UpdatedAt = signedAt
	s.contracts[collaborationID] = c
	if key != "" {
		s.idempotency[key] = struct{}{}
	}
	return c, nil
}
