package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// HoldState tracks what the provider has done with a held payment.
type HoldState string

const (
	// HoldStatePending is written before the provider is asked for a payment.
	HoldStatePending  HoldState = "pending"
	HoldStateHeld     HoldState = "held"
	HoldStateCaptured HoldState = "captured"
	HoldStateRefunded HoldState = "refunded"
)

// Hold links a collaboration to the provider payment holding its funds.
type Hold struct {
	CollaborationID   string
	ProviderPaymentID string
	Amount            decimal.Decimal
	State             HoldState
	UpdatedAt         time.Time
}

// HoldStore persists provider references so redelivered instructions stay
// idempotent.
type HoldStore interface {
	// GetHold returns ErrNoHold when nothing is held for collaborationID.
	GetHold(ctx context.Context, collaborationID string) (Hold, error)
	PutHold(ctx context.Context, h Hold) error
}

// MemoryHoldStore is an in-process HoldStore.
type MemoryHoldStore struct {
	mu    sync.Mutex
	holds map[string]Hold
}

func NewMemoryHoldStore() *MemoryHoldStore {
	return &MemoryHoldStore{holds: make(map[string]Hold)}
}

func (s *MemoryHoldStore) GetHold(_ context.Context, collaborationID string) (Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[collaborationID]
	if !ok {
		return Hold{}, ErrNoHold
	}
	return h, nil
}

func (s *MemoryHoldStore) PutHold(_ context.Context, h Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[h.CollaborationID] = h
	return nil
}
