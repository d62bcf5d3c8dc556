package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collabflow/contract"

	"github.com/jackc/pgx/v5"
)

const contractColumns = `collaboration_id, document_ref, brand_signed_at, influencer_signed_at, issued_at, updated_at`

func scanContract(row pgx.Row) (contract.Contract, error) {
	var c contract.Contract
	err := row.Scan(&c.CollaborationID, &c.DocumentRef, &c.BrandSignedAt, &c.InfluencerSignedAt, &c.IssuedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) GetContract(ctx context.Context, collaborationID string) (contract.Contract, error) {
	c, err := scanContract(s.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE collaboration_id = $1`, collaborationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contract.Contract{}, contract.ErrNotFound
		}
		return contract.Contract{}, fmt.Errorf("postgres: get contract: %w", err)
	}
	return c, nil
}

func (s *Store) UpsertContract(ctx context.Context, c contract.Contract) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO contracts (collaboration_id, document_ref, brand_signed_at, influencer_signed_at, issued_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (collaboration_id) DO UPDATE SET
    document_ref = EXCLUDED.document_ref,
    brand_signed_at = EXCLUDED.brand_signed_at,
    influencer_signed_at = EXCLUDED.influencer_signed_at,
    issued_at = EXCLUDED.issued_at,
    updated_at = EXCLUDED.updated_at`,
		c.CollaborationID, c.DocumentRef, c.BrandSignedAt, c.InfluencerSignedAt, c.IssuedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert contract: %w", err)
	}
	return nil
}

// RecordSignature reserves the idempotency key and stamps the signature in
// one transaction.
func (s *Store) RecordSignature(ctx context.Context, collaborationID string, party contract.Party, signedAt time.Time, idempotencyKey string) (contract.Contract, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != "" {
		if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, idempotencyKey); err != nil {
			if isUniqueViolation(err) {
				return contract.Contract{}, contract.ErrDuplicateIdempotencyKey
			}
			return contract.Contract{}, fmt.Errorf("postgres: insert idempotency key: %w", err)
		}
	}

	c, err := scanContract(tx.QueryRow(ctx, `
UPDATE contracts SET
    brand_signed_at = CASE WHEN $2::text = 'brand' THEN COALESCE(brand_signed_at, $3::timestamptz) ELSE brand_signed_at END,
    influencer_signed_at = CASE WHEN $2::text = 'influencer' THEN COALESCE(influencer_signed_at, $3::timestamptz) ELSE influencer_signed_at END,
    updated_at = $3::timestamptz
WHERE collaboration_id = $1
RETURNING `+contractColumns, collaborationID, string(party), signedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contract.Contract{}, contract.ErrNotFound
		}
		return contract.Contract{}, fmt.Errorf("postgres: record signature: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return contract.Contract{}, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return c, nil
}
