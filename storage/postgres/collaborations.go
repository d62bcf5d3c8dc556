package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"collabflow/collaboration"
	"collabflow/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const collaborationColumns = `id, campaign_id, brand_id, influencer_id,
    agreed_amount::text, platform_fee::text, influencer_payout::text,
    start_date, end_date, content_due_date, status, version,
    completed_at, cancelled_at, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, c collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO collaborations (
    id, campaign_id, brand_id, influencer_id,
    agreed_amount, platform_fee, influencer_payout,
    start_date, end_date, content_due_date, status, version,
    completed_at, cancelled_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7::text::numeric,
    $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = tx.Exec(ctx, insertSQL,
		c.ID, c.CampaignID, c.BrandID, c.InfluencerID,
		c.AgreedAmount.StringFixed(2), c.PlatformFee.StringFixed(2), c.InfluencerPayout.StringFixed(2),
		c.StartDate, c.EndDate, c.ContentDueDate, string(c.Status), c.Version,
		c.CompletedAt, c.CancelledAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return collaboration.ErrConcurrentModification
		}
		return fmt.Errorf("postgres: insert collaboration: %w", err)
	}

	if err := appendHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := enqueue(ctx, tx, messages); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (collaboration.Collaboration, error) {
	row := s.db.QueryRow(ctx, `SELECT `+collaborationColumns+` FROM collaborations WHERE id = $1`, id)
	c, err := scanCollaboration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collaboration.Collaboration{}, collaboration.ErrCollaborationNotFound
		}
		return collaboration.Collaboration{}, fmt.Errorf("postgres: load collaboration: %w", err)
	}
	return c, nil
}

func (s *Store) History(ctx context.Context, id string) ([]collaboration.StatusHistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, collaboration_id, seq, from_status, to_status, action, changed_by, reason, details, created_at
FROM collaboration_status_history
WHERE collaboration_id = $1
ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	var out []collaboration.StatusHistoryEntry
	for rows.Next() {
		var (
			e       collaboration.StatusHistoryEntry
			from    *string
			to      string
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.CollaborationID, &e.Seq, &from, &to, &action, &e.ChangedBy, &e.Reason, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		if from != nil {
			prev := collaboration.Status(*from)
			e.FromStatus = &prev
		}
		e.ToStatus = collaboration.Status(to)
		e.Action = collaboration.Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode history details: %w", err)
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate history: %w", err)
	}
	if len(out) == 0 {
		return nil, collaboration.ErrCollaborationNotFound
	}
	return out, nil
}

// CompareAndSwap guards the UPDATE on (status, version). Under READ
// COMMITTED a concurrent writer blocks on the row lock, then re-checks the
// predicate against the committed row and matches nothing.
func (s *Store) CompareAndSwap(ctx context.Context, expected collaboration.Snapshot, next collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
UPDATE collaborations SET
    agreed_amount = $1::text::numeric,
    platform_fee = $2::text::numeric,
    influencer_payout = $3::text::numeric,
    start_date = $4,
    end_date = $5,
    content_due_date = $6,
    status = $7,
    version = $8,
    completed_at = $9,
    cancelled_at = $10,
    updated_at = $11
WHERE id = $12 AND status = $13 AND version = $14`
	tag, err := tx.Exec(ctx, updateSQL,
		next.AgreedAmount.StringFixed(2), next.PlatformFee.StringFixed(2), next.InfluencerPayout.StringFixed(2),
		next.StartDate, next.EndDate, next.ContentDueDate,
		string(next.Status), next.Version, next.CompletedAt, next.CancelledAt, next.UpdatedAt,
		next.ID, string(expected.Status), expected.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update collaboration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return collaboration.ErrConcurrentModification
	}

	if err := appendHistory(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return collaboration.ErrConcurrentModification
		}
		return err
	}
	if err := enqueue(ctx, tx, messages); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, e collaboration.StatusHistoryEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal history details: %w", err)
	}
	var from *string
	if e.FromStatus != nil {
		v := string(*e.FromStatus)
		from = &v
	}
	_, err = tx.Exec(ctx, `
INSERT INTO collaboration_status_history
    (id, collaboration_id, seq, from_status, to_status, action, changed_by, reason, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.CollaborationID, e.Seq, from, string(e.ToStatus), string(e.Action), e.ChangedBy, e.Reason, details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert history: %w", err)
	}
	return nil
}

func scanCollaboration(row pgx.Row) (collaboration.Collaboration, error) {
	var (
		c                   collaboration.Collaboration
		amount, fee, payout string
		status              string
	)
	err := row.Scan(&c.ID, &c.CampaignID, &c.BrandID, &c.InfluencerID,
		&amount, &fee, &payout,
		&c.StartDate, &c.EndDate, &c.ContentDueDate, &status, &c.Version,
		&c.CompletedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return collaboration.Collaboration{}, err
	}
	if c.AgreedAmount, err = decimal.NewFromString(amount); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("agreed_amount: %w", err)
	}
	if c.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("platform_fee: %w", err)
	}
	if c.InfluencerPayout, err = decimal.NewFromString(payout); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("influencer_payout: %w", err)
	}
	c.Status = collaboration.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
