package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collabflow/escrow"

	"github.com/shopspring/decimal"
)

func (s *Store) GetHold(ctx context.Context, collaborationID string) (escrow.Hold, error) {
	var (
		h         escrow.Hold
		amount    string
		state     string
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT collaboration_id, provider_payment_id, amount, state, updated_at
FROM escrow_holds WHERE collaboration_id = ?`, collaborationID).Scan(
		&h.CollaborationID, &h.ProviderPaymentID, &amount, &state, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return escrow.Hold{}, escrow.ErrNoHold
		}
		return escrow.Hold{}, fmt.Errorf("sqlite: get hold: %w", err)
	}
	if h.Amount, err = decimal.NewFromString(amount); err != nil {
		return escrow.Hold{}, fmt.Errorf("sqlite: hold amount: %w", err)
	}
	h.State = escrow.HoldState(state)
	h.UpdatedAt = fromMillis(updatedAt)
	return h, nil
}

func (s *Store) PutHold(ctx context.Context, h escrow.Hold) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO escrow_holds (collaboration_id, provider_payment_id, amount, state, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (collaboration_id) DO UPDATE SET
    provider_payment_id = excluded.provider_payment_id,
    amount = excluded.amount,
    state = excluded.state,
    updated_at = excluded.updated_at`,
		h.CollaborationID, h.ProviderPaymentID, h.Amount.StringFixed(2), string(h.State), toMillis(h.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: put hold: %w", err)
	}
	return nil
}
