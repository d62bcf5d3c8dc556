package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"collabflow/outbox"
)

func enqueue(ctx context.Context, tx *sql.Tx, messages []outbox.Message) error {
	for _, m := range messages {
		status := m.Status
		if status == "" {
			status = outbox.StatusPending
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO collaboration_outbox
    (id, aggregate_id, topic, payload_json, status, attempt_count, next_attempt_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.AggregateID, m.Topic, string(m.Payload), string(status), m.Attempts,
			toMillis(m.NextAttemptAt), toMillis(m.CreatedAt), toMillis(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert outbox %s: %w", m.Topic, err)
		}
	}
	return nil
}

// Lease selects due candidates and claims each with a conditional update in
// one write transaction. Candidates whose row changed in between are skipped.
func (s *Store) Lease(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]outbox.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("sqlite: lease limit must be greater than zero")
	}
	if consumer == "" {
		return nil, fmt.Errorf("sqlite: consumer is required")
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	nowMillis := toMillis(now)
	rows, err := tx.QueryContext(ctx, `
SELECT id FROM collaboration_outbox
WHERE (status = 'pending' AND next_attempt_at <= ?)
   OR (status = 'leased' AND lease_expires_at <= ?)
ORDER BY next_attempt_at, created_at, id
LIMIT ?`, nowMillis, nowMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select due outbox: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan due outbox: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("sqlite: close due outbox: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate due outbox: %w", err)
	}

	leaseExpiresAt := toMillis(now.Add(leaseTTL))
	out := make([]outbox.Message, 0, len(ids))
	for _, id := range ids {
		result, err := tx.ExecContext(ctx, `
UPDATE collaboration_outbox SET
    status = 'leased', lease_owner = ?, lease_expires_at = ?,
    attempt_count = attempt_count + 1, updated_at = ?
WHERE id = ?
  AND ((status = 'pending' AND next_attempt_at <= ?)
    OR (status = 'leased' AND lease_expires_at <= ?))`,
			consumer, leaseExpiresAt, nowMillis, id, nowMillis, nowMillis)
		if err != nil {
			return nil, fmt.Errorf("sqlite: lease outbox %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("sqlite: lease rows affected: %w", err)
		}
		if affected == 0 {
			continue
		}
		m, err := getMessage(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit lease: %w", err)
	}
	return out, nil
}

func getMessage(ctx context.Context, tx *sql.Tx, id string) (outbox.Message, error) {
	var (
		m              outbox.Message
		payload        string
		status         string
		nextAttemptAt  int64
		leaseExpiresAt sql.NullInt64
		createdAt      int64
		deliveredAt    sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, `
SELECT id, aggregate_id, topic, payload_json, status, attempt_count, next_attempt_at,
    lease_owner, lease_expires_at, last_error, created_at, delivered_at
FROM collaboration_outbox WHERE id = ?`, id).Scan(
		&m.ID, &m.AggregateID, &m.Topic, &payload, &status, &m.Attempts, &nextAttemptAt,
		&m.LeaseOwner, &leaseExpiresAt, &m.LastError, &createdAt, &deliveredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return outbox.Message{}, outbox.ErrNotFound
		}
		return outbox.Message{}, fmt.Errorf("sqlite: get outbox %s: %w", id, err)
	}
	m.Payload = []byte(payload)
	m.Status = outbox.Status(status)
	m.NextAttemptAt = fromMillis(nextAttemptAt)
	m.LeaseExpiresAt = timePtr(leaseExpiresAt)
	m.CreatedAt = fromMillis(createdAt)
	m.DeliveredAt = timePtr(deliveredAt)
	return m, nil
}

func (s *Store) ack(ctx context.Context, query string, args ...any) error {
	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: ack outbox: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: ack rows affected: %w", err)
	}
	if affected == 0 {
		return outbox.ErrLeaseLost
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id, consumer string, deliveredAt time.Time) error {
	at := toMillis(deliveredAt)
	return s.ack(ctx, `
UPDATE collaboration_outbox SET
    status = 'delivered', lease_owner = '', lease_expires_at = NULL,
    last_error = '', delivered_at = ?, updated_at = ?
WHERE id = ? AND status = 'leased' AND lease_owner = ?`, at, at, id, consumer)
}

func (s *Store) MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	return s.ack(ctx, `
UPDATE collaboration_outbox SET
    status = 'pending', lease_owner = '', lease_expires_at = NULL,
    next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = 'leased' AND lease_owner = ?`,
		toMillis(nextAttemptAt), lastError, toMillis(time.Now()), id, consumer)
}

func (s *Store) MarkDead(ctx context.Context, id, consumer string, lastError string, at time.Time) error {
	return s.ack(ctx, `
UPDATE collaboration_outbox SET
    status = 'dead', lease_owner = '', lease_expires_at = NULL,
    last_error = ?, updated_at = ?
WHERE id = ? AND status = 'leased' AND lease_owner = ?`, lastError, toMillis(at), id, consumer)
}
