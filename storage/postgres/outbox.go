package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"collabflow/outbox"

	"github.com/jackc/pgx/v5"
)

const outboxColumns = `id, aggregate_id, topic, payload, status, attempt_count, next_attempt_at,
    lease_owner, lease_expires_at, last_error, created_at, delivered_at`

func enqueue(ctx context.Context, tx pgx.Tx, messages []outbox.Message) error {
	for _, m := range messages {
		status := m.Status
		if status == "" {
			status = outbox.StatusPending
		}
		_, err := tx.Exec(ctx, `
INSERT INTO collaboration_outbox
    (id, aggregate_id, topic, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			m.ID, m.AggregateID, m.Topic, m.Payload, string(status), m.Attempts, m.NextAttemptAt, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert outbox %s: %w", m.Topic, err)
		}
	}
	return nil
}

// Lease claims due rows with SKIP LOCKED so concurrent dispatchers never
// block on each other.
func (s *Store) Lease(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]outbox.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("postgres: lease limit must be greater than zero")
	}
	rows, err := s.db.Query(ctx, `
UPDATE collaboration_outbox SET
    status = 'leased',
    lease_owner = $1,
    lease_expires_at = $2,
    attempt_count = attempt_count + 1,
    updated_at = $3
WHERE id IN (
    SELECT id FROM collaboration_outbox
    WHERE (status = 'pending' AND next_attempt_at <= $3)
       OR (status = 'leased' AND lease_expires_at <= $3)
    ORDER BY next_attempt_at, created_at, id
    LIMIT $4
    FOR UPDATE SKIP LOCKED
)
RETURNING `+outboxColumns, consumer, now.Add(leaseTTL), now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: lease outbox: %w", err)
	}
	defer rows.Close()

	var out []outbox.Message
	for rows.Next() {
		var (
			m      outbox.Message
			status string
		)
		if err := rows.Scan(&m.ID, &m.AggregateID, &m.Topic, &m.Payload, &status, &m.Attempts, &m.NextAttemptAt,
			&m.LeaseOwner, &m.LeaseExpiresAt, &m.LastError, &m.CreatedAt, &m.DeliveredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan outbox: %w", err)
		}
		m.Status = outbox.Status(status)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate outbox: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ack(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres: ack outbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrLeaseLost
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id, consumer string, deliveredAt time.Time) error {
	return s.ack(ctx, `
UPDATE collaboration_outbox SET
    status = 'delivered', lease_owner = '', lease_expires_at = NULL,
    last_error = '', delivered_at = $3, updated_at = $3
WHERE id = $1 AND status = 'leased' AND lease_owner = $2`, id, consumer, deliveredAt)
}

func (s *Store) MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	return s.ack(ctx, `
UPDATE collaboration_outbox SET
    status = 'pending', lease_owner = '', lease_expires_at = NULL,
    next_attempt_at = $3, last_error = $4, updated_at = now()
WHERE id = $1 AND status = 'leased' AND lease_owner = $2`, id, consumer, nextAttemptAt, lastError)
}

func (s *Store) MarkDead(ctx context.Context, id, consumer string, lastError string, at time.Time) error {
	return s.ack(ctx, `
UPDATE collaboration_outbox SET
    status = 'dead', lease_owner = '', lease_expires_at = NULL,
    last_error = $3, updated_at = $4
WHERE id = $1 AND status = 'leased' AND lease_owner = $2`, id, consumer, lastError, at)
}
