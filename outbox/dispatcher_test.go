package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []Message
	delivered []string
	retried   map[string]time.Time
	dead      map[string]string
}

func newFakeStore(msgs ...Message) *fakeStore {
	return &fakeStore{pending: msgs, retried: map[string]time.Time{}, dead: map[string]string{}}
}

func (f *fakeStore) Lease(_ context.Context, consumer string, limit int, now time.Time, ttl time.Duration) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := make([]Message, 0, n)
	for _, m := range f.pending[:n] {
		m.Attempts++
		m.Status = StatusLeased
		m.LeaseOwner = consumer
		out = append(out, m)
	}
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, id, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeStore) MarkRetry(_ context.Context, id, _ string, next time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried[id] = next
	return nil
}

func (f *fakeStore) MarkDead(_ context.Context, id, _ string, lastError string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[id] = lastError
	return nil
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func msg(id, topic string, attempts int) Message {
	return Message{ID: id, Topic: topic, Attempts: attempts, Status: StatusPending}
}

func TestRunOnceRoutesByTopic(t *testing.T) {
	store := newFakeStore(msg("m1", "a", 0), msg("m2", "b", 0))
	var seen []string
	d := NewDispatcher(store, map[string]Handler{
		"a": HandlerFunc(func(_ context.Context, m Message) error { seen = append(seen, "a:"+m.ID); return nil }),
		"b": HandlerFunc(func(_ context.Context, m Message) error { seen = append(seen, "b:"+m.ID); return nil }),
	}, Config{}, func() time.Time { return epoch })

	n, err := d.RunOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if len(seen) != 2 || seen[0] != "a:m1" || seen[1] != "b:m2" {
		t.Fatalf("seen = %v", seen)
	}
	if len(store.delivered) != 2 {
		t.Fatalf("delivered = %v", store.delivered)
	}
}

func TestFailureSchedulesRetryWithBackoff(t *testing.T) {
	store := newFakeStore(msg("m1", "a", 2))
	d := NewDispatcher(store, map[string]Handler{
		"a": HandlerFunc(func(context.Context, Message) error { return errors.New("smtp down") }),
	}, Config{RetryBackoff: time.Second, RetryMaxDelay: time.Minute, MaxAttempts: 5}, func() time.Time { return epoch })

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	next, ok := store.retried["m1"]
	if !ok {
		t.Fatalf("expected retry, dead=%v", store.dead)
	}
	// third attempt: 1s doubled twice
	if want := epoch.Add(4 * time.Second); !next.Equal(want) {
		t.Fatalf("next attempt = %s, want %s", next, want)
	}
}

func TestExhaustedAttemptsGoDead(t *testing.T) {
	store := newFakeStore(msg("m1", "a", 4))
	d := NewDispatcher(store, map[string]Handler{
		"a": HandlerFunc(func(context.Context, Message) error { return errors.New("still down") }),
	}, Config{MaxAttempts: 5}, func() time.Time { return epoch })

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if store.dead["m1"] != "still down" {
		t.Fatalf("dead = %v", store.dead)
	}
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	store := newFakeStore(msg("m1", "a", 0))
	calls := 0
	d := NewDispatcher(store, map[string]Handler{
		"a": HandlerFunc(func(context.Context, Message) error {
			calls++
			return fmt.Errorf("%w: bad payload", ErrPermanent)
		}),
	}, Config{InlineRetries: 3}, func() time.Time { return epoch })

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if _, ok := store.dead["m1"]; !ok {
		t.Fatalf("expected dead, retried=%v", store.retried)
	}
}

func TestInlineRetriesRecoverTransientFailure(t *testing.T) {
	store := newFakeStore(msg("m1", "a", 0))
	calls := 0
	d := NewDispatcher(store, map[string]Handler{
		"a": HandlerFunc(func(context.Context, Message) error {
			calls++
			if calls < 2 {
				return errors.New("blip")
			}
			return nil
		}),
	}, Config{InlineRetries: 2}, func() time.Time { return epoch })

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 2 || len(store.delivered) != 1 {
		t.Fatalf("calls=%d delivered=%v", calls, store.delivered)
	}
}

func TestMissingHandlerGoesDead(t *testing.T) {
	store := newFakeStore(msg("m1", "unknown.topic", 0))
	d := NewDispatcher(store, nil, Config{}, func() time.Time { return epoch })
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := store.dead["m1"]; !ok {
		t.Fatal("expected message without handler to be dead-lettered")
	}
}

func TestRetryDelayCaps(t *testing.T) {
	d := NewDispatcher(newFakeStore(), nil, Config{RetryBackoff: time.Second, RetryMaxDelay: 10 * time.Second}, nil)
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 4: 8 * time.Second, 5: 10 * time.Second, 30: 10 * time.Second}
	for attempt, want := range cases {
		if got := d.retryDelay(attempt); got != want {
			t.Errorf("retryDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(newFakeStore(), nil, Config{PollInterval: time.Millisecond}, nil)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewMessageDecode(t *testing.T) {
	m, err := NewMessage("agg-1", "topic", map[string]string{"k": "v"}, epoch)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if m.ID == "" || m.Status != StatusPending || !m.NextAttemptAt.Equal(epoch) {
		t.Fatalf("message = %+v", m)
	}
	var out map[string]string
	if err := m.Decode(&out); err != nil || out["k"] != "v" {
		t.Fatalf("Decode = %v, %v", out, err)
	}
	bad := Message{Topic: "t", Payload: []byte("{")}
	if err := bad.Decode(&out); !errors.Is(err, ErrPermanent) {
		t.Fatalf("bad payload err = %v", err)
	}
}
