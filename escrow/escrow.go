package escrow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Kind is the escrow movement requested for a collaboration.
type Kind string

const (
	KindHold    Kind = "hold"
	KindRelease Kind = "release"
	KindRefund  Kind = "refund"
)

var (
	// ErrUnknownKind is returned for instructions outside the hold/release/refund set.
	ErrUnknownKind = errors.New("escrow: unknown instruction kind")
	// ErrNoHold is returned when release or refund has no prior hold to act on.
	ErrNoHold = errors.New("escrow: no active hold for collaboration")
)

// Instruction asks the wallet service to move funds for one collaboration.
// Amount always equals PlatformFee + InfluencerPayout.
type Instruction struct {
	CollaborationID  string          `json:"collaboration_id"`
	Kind             Kind            `json:"kind"`
	BrandID          string          `json:"brand_id"`
	InfluencerID     string          `json:"influencer_id"`
	Amount           decimal.Decimal `json:"amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	InfluencerPayout decimal.Decimal `json:"influencer_payout"`
}

// Gateway executes escrow instructions against the external wallet.
type Gateway interface {
	Execute(ctx context.Context, instr Instruction) error
}
