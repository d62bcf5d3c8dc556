package contract

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no contract was issued for a collaboration.
	ErrNotFound = errors.New("contract: not found")
	// ErrDuplicateIdempotencyKey signals a webhook delivery that was already applied.
	ErrDuplicateIdempotencyKey = errors.New("contract: duplicate idempotency key")
	ErrUnknownParty            = errors.New("contract: unknown party")
	ErrInvalidRequest          = errors.New("contract: invalid request")
)

// Party is a signatory.
type Party string

const (
	PartyBrand      Party = "brand"
	PartyInfluencer Party = "influencer"
)

// ParseParty normalizes raw into a Party.
func ParseParty(raw string) (Party, error) {
	switch p := Party(strings.ToLower(strings.TrimSpace(raw))); p {
	case PartyBrand, PartyInfluencer:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownParty, raw)
	}
}

// Contract is the document both parties must sign before work starts.
type Contract struct {
	CollaborationID    string
	DocumentRef        string
	BrandSignedAt      *time.Time
	InfluencerSignedAt *time.Time
	IssuedAt           time.Time
	UpdatedAt          time.Time
}

// IsFullySigned reports whether both signatures are present.
func (c Contract) IsFullySigned() bool {
	return c.BrandSignedAt != nil && c.InfluencerSignedAt != nil
}

// IssueRequest records the document a brand sent.
type IssueRequest struct {
	CollaborationID string `json:"collaboration_id"`
	DocumentRef     string `json:"document_ref"`
}

// SignatureEvent is a signature confirmation from the e-sign provider.
type SignatureEvent struct {
	CollaborationID string    `json:"collaboration_id"`
	Party           Party     `json:"party"`
	SignedAt        time.Time `json:"signed_at"`
	IdempotencyKey  string    `json:"event_id"`
}
