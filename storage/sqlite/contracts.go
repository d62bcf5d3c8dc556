package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"collabflow/contract"
)

func (s *Store) GetContract(ctx context.Context, collaborationID string) (contract.Contract, error) {
	return getContract(ctx, s.sqlDB.QueryRowContext, collaborationID)
}

func getContract(ctx context.Context, queryRow func(context.Context, string, ...any) *sql.Row, collaborationID string) (contract.Contract, error) {
	var (
		c                   contract.Contract
		brand, influencer   sql.NullInt64
		issuedAt, updatedAt int64
	)
	err := queryRow(ctx, `
SELECT collaboration_id, document_ref, brand_signed_at, influencer_signed_at, issued_at, updated_at
FROM contracts WHERE collaboration_id = ?`, collaborationID).Scan(
		&c.CollaborationID, &c.DocumentRef, &brand, &influencer, &issuedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contract.Contract{}, contract.ErrNotFound
		}
		return contract.Contract{}, fmt.Errorf("sqlite: get contract: %w", err)
	}
	c.BrandSignedAt = timePtr(brand)
	c.InfluencerSignedAt = timePtr(influencer)
	c.IssuedAt = fromMillis(issuedAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func (s *Store) UpsertContract(ctx context.Context, c contract.Contract) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO contracts (collaboration_id, document_ref, brand_signed_at, influencer_signed_at, issued_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (collaboration_id) DO UPDATE SET
    document_ref = excluded.document_ref,
    brand_signed_at = excluded.brand_signed_at,
    influencer_signed_at = excluded.influencer_signed_at,
    issued_at = excluded.issued_at,
    updated_at = excluded.updated_at`,
		c.CollaborationID, c.DocumentRef, nullMillis(c.BrandSignedAt), nullMillis(c.InfluencerSignedAt),
		toMillis(c.IssuedAt), toMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert contract: %w", err)
	}
	return nil
}

// RecordSignature reserves the idempotency key and stamps the first
// signature for party in one transaction.
func (s *Store) RecordSignature(ctx context.Context, collaborationID string, party contract.Party, signedAt time.Time, idempotencyKey string) (contract.Contract, error) {
	var column string
	switch party {
	case contract.PartyBrand:
		column = "brand_signed_at"
	case contract.PartyInfluencer:
		column = "influencer_signed_at"
	default:
		return contract.Contract{}, contract.ErrUnknownParty
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return contract.Contract{}, err
	}
	defer func() { _ = tx.Rollback() }()

	at := toMillis(signedAt)
	if idempotencyKey != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO idempotency (key, created_at) VALUES (?, ?)`, idempotencyKey, at); err != nil {
			if isUniqueViolation(err) {
				return contract.Contract{}, contract.ErrDuplicateIdempotencyKey
			}
			return contract.Contract{}, fmt.Errorf("sqlite: insert idempotency key: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
UPDATE contracts SET `+column+` = COALESCE(`+column+`, ?), updated_at = ?
WHERE collaboration_id = ?`, at, at, collaborationID)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("sqlite: record signature: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return contract.Contract{}, fmt.Errorf("sqlite: signature rows affected: %w", err)
	}
	if affected == 0 {
		return contract.Contract{}, contract.ErrNotFound
	}
	c, err := getContract(ctx, tx.QueryRowContext, collaborationID)
	if err != nil {
		return contract.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return contract.Contract{}, fmt.Errorf("sqlite: commit signature: %w", err)
	}
	return c, nil
}
