package postgres

import (
	"context"
	"errors"
	"fmt"

	"collabflow/escrow"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) GetHold(ctx context.Context, collaborationID string) (escrow.Hold, error) {
	var (
		h      escrow.Hold
		amount string
		state  string
	)
	err := s.db.QueryRow(ctx, `
SELECT collaboration_id, provider_payment_id, amount::text, state, updated_at
FROM escrow_holds WHERE collaboration_id = $1`, collaborationID).
		Scan(&h.CollaborationID, &h.ProviderPaymentID, &amount, &state, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.Hold{}, escrow.ErrNoHold
		}
		return escrow.Hold{}, fmt.Errorf("postgres: get hold: %w", err)
	}
	if h.Amount, err = decimal.NewFromString(amount); err != nil {
		return escrow.Hold{}, fmt.Errorf("postgres: hold amount: %w", err)
	}
	h.State = escrow.HoldState(state)
	return h, nil
}

func (s *Store) PutHold(ctx context.Context, h escrow.Hold) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO escrow_holds (collaboration_id, provider_payment_id, amount, state, updated_at)
VALUES ($1, $2, $3::text::numeric, $4, $5)
ON CONFLICT (collaboration_id) DO UPDATE SET
    provider_payment_id = EXCLUDED.provider_payment_id,
    amount = EXCLUDED.amount,
    state = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at`,
		h.CollaborationID, h.ProviderPaymentID, h.Amount.StringFixed(2), string(h.State), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put hold: %w", err)
	}
	return nil
}
