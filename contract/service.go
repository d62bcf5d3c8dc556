package contract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Repository stores contracts and their signatures.
type Repository interface {
	GetContract(ctx context.Context, collaborationID string) (Contract, error)
	// UpsertContract replaces the contract for c.CollaborationID.
	UpsertContract(ctx context.Context, c Contract) error
	// RecordSignature stamps party's signature unless already present. A
	// non-empty idempotencyKey is reserved in the same unit of work and a
	// repeated key returns ErrDuplicateIdempotencyKey without writing.
	RecordSignature(ctx context.Context, collaborationID string, party Party, signedAt time.Time, idempotencyKey string) (Contract, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the time source (for testing).
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Issue stores the document a brand sent. Re-sending the same document is a
// no-op. A different document replaces the old one and clears signatures.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Contract, error) {
	id := strings.TrimSpace(req.CollaborationID)
	ref := strings.TrimSpace(req.DocumentRef)
	if id == "" || ref == "" {
		return Contract{}, fmt.Errorf("%w: collaboration id and document ref are required", ErrInvalidRequest)
	}

	existing, err := s.repo.GetContract(ctx, id)
	switch {
	case err == nil && existing.DocumentRef == ref:
		return existing, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return Contract{}, fmt.Errorf("contract: load: %w", err)
	}

	now := s.now().UTC()
	c := Contract{CollaborationID: id, DocumentRef: ref, IssuedAt: now, UpdatedAt: now}
	if err := s.repo.UpsertContract(ctx, c); err != nil {
		return Contract{}, fmt.Errorf("contract: upsert: %w", err)
	}
	log.Printf("[contract][service] issued collaboration=%s document=%s", id, ref)
	return c, nil
}

// Get returns the contract for a collaboration.
func (s *Service) Get(ctx context.Context, collaborationID string) (Contract, error) {
	return s.repo.GetContract(ctx, strings.TrimSpace(collaborationID))
}

// Sign records a direct signature from party.
func (s *Service) Sign(ctx context.Context, collaborationID string, party Party) (Contract, error) {
	if strings.TrimSpace(collaborationID) == "" {
		return Contract{}, fmt.Errorf("%w: collaboration id is required", ErrInvalidRequest)
	}
	if _, err := ParseParty(string(party)); err != nil {
		return Contract{}, err
	}
	c, err := s.repo.RecordSignature(ctx, strings.TrimSpace(collaborationID), party, s.now().UTC(), "")
	if err != nil {
		return Contract{}, err
	}
	log.Printf("[contract][service] signed collaboration=%s party=%s fully_signed=%t", c.CollaborationID, party, c.IsFullySigned())
	return c, nil
}

// IsFullySigned reports whether both parties signed. A missing contract is
// simply unsigned.
func (s *Service) IsFullySigned(ctx context.Context, collaborationID string) (bool, error) {
	c, err := s.repo.GetContract(ctx, collaborationID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.IsFullySigned(), nil
}

// HandleSignatureWebhook applies a provider signature event once per
// idempotency key. Replays return nil.
func (s *Service) HandleSignatureWebhook(ctx context.Context, ev SignatureEvent) error {
	if strings.TrimSpace(ev.IdempotencyKey) == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidRequest)
	}
	if strings.TrimSpace(ev.CollaborationID) == "" {
		return fmt.Errorf("%w: missing collaboration id", ErrInvalidRequest)
	}
	party, err := ParseParty(string(ev.Party))
	if err != nil {
		return err
	}
	signedAt := ev.SignedAt
	if signedAt.IsZero() {
		signedAt = s.now()
	}

	_, err = s.repo.RecordSignature(ctx, strings.TrimSpace(ev.CollaborationID), party, signedAt.UTC(), strings.TrimSpace(ev.IdempotencyKey))
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		log.Printf("[contract][webhook] replay ignored key=%s", ev.IdempotencyKey)
		return nil
	}
	return err
}
