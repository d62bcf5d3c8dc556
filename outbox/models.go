package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an outbox message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLeased    Status = "leased"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

var (
	// ErrNotFound is returned when a message id does not resolve.
	ErrNotFound = errors.New("outbox: message not found")
	// ErrLeaseLost is returned when a consumer acks a message it no longer holds.
	ErrLeaseLost = errors.New("outbox: lease lost")
	// ErrPermanent marks handler failures that must not be retried.
	ErrPermanent = errors.New("outbox: permanent failure")
)

// Message is a side effect recorded in the same unit of work as the state
// change that caused it, and delivered after commit.
type Message struct {
	ID             string
	AggregateID    string
	Topic          string
	Payload        []byte
	Status         Status
	Attempts       int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
}

// NewMessage encodes payload as JSON into a pending message.
func NewMessage(aggregateID, topic string, payload any, now time.Time) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: marshal %s payload: %w", topic, err)
	}
	now = now.UTC()
	return Message{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		Topic:         topic,
		Payload:       body,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// Decode unmarshals the message payload into dst.
func (m Message) Decode(dst any) error {
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrPermanent, m.Topic, err)
	}
	return nil
}

// Store leases and acknowledges outbox messages for a consumer.
type Store interface {
	// Lease claims up to limit due messages (pending and due, or leased with an
	// expired lease) for consumer and increments their attempt count.
	Lease(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]Message, error)
	MarkDelivered(ctx context.Context, id, consumer string, deliveredAt time.Time) error
	MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkDead(ctx context.Context, id, consumer string, lastError string, at time.Time) error
}
