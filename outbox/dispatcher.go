package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Handler delivers one message. Returning an error wrapping ErrPermanent
// sends the message straight to dead.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Config controls the dispatch loop.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	// InlineRetries is how many extra immediate tries a handler gets before
	// the message is rescheduled.
	InlineRetries uint64
}

const (
	defaultConsumer      = "collabflow-dispatcher"
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultBatchSize     = 50
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// Outcome is what happened to one leased message.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeRetry     Outcome = "retry"
	OutcomeDead      Outcome = "dead"
)

// Dispatcher leases outbox messages and routes them to handlers by topic.
type Dispatcher struct {
	store    Store
	handlers map[string]Handler
	cfg      Config
	now      func() time.Time
}

// NewDispatcher builds a dispatcher. A nil clock uses time.Now.
func NewDispatcher(store Store, handlers map[string]Handler, cfg Config, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	routed := make(map[string]Handler, len(handlers))
	for topic, h := range handlers {
		routed[strings.TrimSpace(topic)] = h
	}
	return &Dispatcher{store: store, handlers: routed, cfg: cfg.normalized(), now: now}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	log.Printf("[outbox][dispatcher] started consumer=%s poll=%s", d.cfg.Consumer, d.cfg.PollInterval)
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[outbox][dispatcher] batch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[outbox][dispatcher] stopped consumer=%s", d.cfg.Consumer)
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce leases one batch and processes it. It returns how many messages
// were leased.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	msgs, err := d.store.Lease(ctx, d.cfg.Consumer, d.cfg.BatchSize, d.now().UTC(), d.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("outbox: lease: %w", err)
	}
	var errs []error
	for _, msg := range msgs {
		if _, err := d.process(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return len(msgs), errors.Join(errs...)
}

func (d *Dispatcher) process(ctx context.Context, msg Message) (Outcome, error) {
	h, ok := d.handlers[msg.Topic]
	if !ok {
		return OutcomeDead, d.dead(ctx, msg, fmt.Sprintf("no handler for topic %s", msg.Topic))
	}

	err := d.deliver(ctx, h, msg)
	if err == nil {
		if markErr := d.store.MarkDelivered(ctx, msg.ID, d.cfg.Consumer, d.now().UTC()); markErr != nil {
			return OutcomeDelivered, fmt.Errorf("outbox: mark delivered %s: %w", msg.ID, markErr)
		}
		return OutcomeDelivered, nil
	}

	if errors.Is(err, ErrPermanent) || msg.Attempts >= d.cfg.MaxAttempts {
		return OutcomeDead, d.dead(ctx, msg, err.Error())
	}
	next := d.now().UTC().Add(d.retryDelay(msg.Attempts))
	log.Printf("[outbox][dispatcher] retry id=%s topic=%s attempt=%d next=%s: %v",
		msg.ID, msg.Topic, msg.Attempts, next.Format(time.RFC3339), err)
	if markErr := d.store.MarkRetry(ctx, msg.ID, d.cfg.Consumer, next, err.Error()); markErr != nil {
		return OutcomeRetry, fmt.Errorf("outbox: mark retry %s: %w", msg.ID, markErr)
	}
	return OutcomeRetry, nil
}

func (d *Dispatcher) deliver(ctx context.Context, h Handler, msg Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = d.cfg.LeaseTTL / 2

	op := func() error {
		err := h.Handle(ctx, msg)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, d.cfg.InlineRetries), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (d *Dispatcher) dead(ctx context.Context, msg Message, reason string) error {
	log.Printf("[outbox][dispatcher] dead id=%s topic=%s attempts=%d: %s", msg.ID, msg.Topic, msg.Attempts, reason)
	if err := d.store.MarkDead(ctx, msg.ID, d.cfg.Consumer, reason, d.now().UTC()); err != nil {
		return fmt.Errorf("outbox: mark dead %s: %w", msg.ID, err)
	}
	return nil
}

// retryDelay doubles RetryBackoff per attempt, capped at RetryMaxDelay.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMaxDelay {
			return d.cfg.RetryMaxDelay
		}
	}
	if delay > d.cfg.RetryMaxDelay {
		return d.cfg.RetryMaxDelay
	}
	return delay
}
