package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"collabflow/collaboration"
	"collabflow/outbox"

	"github.com/shopspring/decimal"
)

const collaborationColumns = `id, campaign_id, brand_id, influencer_id,
    agreed_amount, platform_fee, influencer_payout,
    start_date, end_date, content_due_date, status, version,
    completed_at, cancelled_at, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, c collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO collaborations (`+collaborationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CampaignID, c.BrandID, c.InfluencerID,
		c.AgreedAmount.StringFixed(2), c.PlatformFee.StringFixed(2), c.InfluencerPayout.StringFixed(2),
		nullMillis(c.StartDate), nullMillis(c.EndDate), nullMillis(c.ContentDueDate),
		string(c.Status), c.Version,
		nullMillis(c.CompletedAt), nullMillis(c.CancelledAt), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return collaboration.ErrConcurrentModification
		}
		return fmt.Errorf("sqlite: insert collaboration: %w", err)
	}
	if err := appendHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := enqueue(ctx, tx, messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (collaboration.Collaboration, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+collaborationColumns+` FROM collaborations WHERE id = ?`, id)
	c, err := scanCollaboration(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return collaboration.Collaboration{}, collaboration.ErrCollaborationNotFound
		}
		return collaboration.Collaboration{}, fmt.Errorf("sqlite: load collaboration: %w", err)
	}
	return c, nil
}

func (s *Store) History(ctx context.Context, id string) ([]collaboration.StatusHistoryEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, collaboration_id, seq, from_status, to_status, action, changed_by, reason, details_json, created_at
FROM collaboration_status_history
WHERE collaboration_id = ?
ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer rows.Close()

	var out []collaboration.StatusHistoryEntry
	for rows.Next() {
		var (
			e         collaboration.StatusHistoryEntry
			from      sql.NullString
			to        string
			action    string
			details   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.CollaborationID, &e.Seq, &from, &to, &action, &e.ChangedBy, &e.Reason, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		if from.Valid {
			prev := collaboration.Status(from.String)
			e.FromStatus = &prev
		}
		e.ToStatus = collaboration.Status(to)
		e.Action = collaboration.Action(action)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("sqlite: decode history details: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate history: %w", err)
	}
	if len(out) == 0 {
		return nil, collaboration.ErrCollaborationNotFound
	}
	return out, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expected collaboration.Snapshot, next collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE collaborations SET
    agreed_amount = ?, platform_fee = ?, influencer_payout = ?,
    start_date = ?, end_date = ?, content_due_date = ?,
    status = ?, version = ?, completed_at = ?, cancelled_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND version = ?`,
		next.AgreedAmount.StringFixed(2), next.PlatformFee.StringFixed(2), next.InfluencerPayout.StringFixed(2),
		nullMillis(next.StartDate), nullMillis(next.EndDate), nullMillis(next.ContentDueDate),
		string(next.Status), next.Version, nullMillis(next.CompletedAt), nullMillis(next.CancelledAt), toMillis(next.UpdatedAt),
		next.ID, string(expected.Status), expected.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update collaboration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return collaboration.ErrConcurrentModification
	}
	if err := appendHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := enqueue(ctx, tx, messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, e collaboration.StatusHistoryEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("sqlite: marshal history details: %w", err)
	}
	var from sql.NullString
	if e.FromStatus != nil {
		from = sql.NullString{String: string(*e.FromStatus), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO collaboration_status_history
    (id, collaboration_id, seq, from_status, to_status, action, changed_by, reason, details_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CollaborationID, e.Seq, from, string(e.ToStatus), string(e.Action), e.ChangedBy, e.Reason, string(details), toMillis(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return collaboration.ErrConcurrentModification
		}
		return fmt.Errorf("sqlite: insert history: %w", err)
	}
	return nil
}

func scanCollaboration(scan func(dest ...any) error) (collaboration.Collaboration, error) {
	var (
		c                    collaboration.Collaboration
		amount, fee, payout  string
		start, end, due      sql.NullInt64
		status               string
		completed, cancelled sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := scan(&c.ID, &c.CampaignID, &c.BrandID, &c.InfluencerID,
		&amount, &fee, &payout, &start, &end, &due, &status, &c.Version,
		&completed, &cancelled, &createdAt, &updatedAt); err != nil {
		return collaboration.Collaboration{}, err
	}
	var err error
	if c.AgreedAmount, err = decimal.NewFromString(amount); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("agreed_amount: %w", err)
	}
	if c.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("platform_fee: %w", err)
	}
	if c.InfluencerPayout, err = decimal.NewFromString(payout); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("influencer_payout: %w", err)
	}
	c.StartDate, c.EndDate, c.ContentDueDate = timePtr(start), timePtr(end), timePtr(due)
	c.Status = collaboration.Status(status)
	c.CompletedAt, c.CancelledAt = timePtr(completed), timePtr(cancelled)
	c.CreatedAt, c.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return c, nil
}
