package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"collabflow/auth"
	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/outbox"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	BrandID      = "brand-stress"
	InfluencerID = "influencer-stress"
	AdminID      = "admin-stress"
)

// Registry is the shared set of collaborations actors fight over.
type Registry struct {
	mu  sync.RWMutex
	ids []string
}

func (r *Registry) Add(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

// Pick returns a random id, or "" when nothing has been created yet.
func (r *Registry) Pick(rng *rand.Rand) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ids) == 0 {
		return ""
	}
	return r.ids[rng.Intn(len(r.ids))]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// DocumentRef is the one document each collaboration is ever sent, so a late
// contract.sent delivery never replaces a signed contract.
func DocumentRef(collaborationID string) string {
	return "doc-" + collaborationID
}

// Creator keeps proposing new collaborations until stop closes or limit is reached.
func Creator(ctx context.Context, svc *collaboration.Service, reg *Registry, limit int, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if reg.Len() < limit {
			amount := decimal.NewFromInt(int64(100 + rng.Intn(5000))).Add(decimal.New(int64(rng.Intn(100)), -2))
			c, err := svc.Create(ctx, collaboration.CreateParams{
				CampaignID:   fmt.Sprintf("camp-%d", rng.Intn(4)),
				BrandID:      BrandID,
				InfluencerID: InfluencerID,
				Amount:       amount,
				CreatedBy:    BrandID,
			})
			switch {
			case err == nil:
				reg.Add(c.ID)
			case !transient(err):
				return fmt.Errorf("creator: %w", err)
			}
		}
		time.Sleep(time.Duration(40+rng.Intn(60)) * time.Millisecond)
	}
}

// Transitioner applies random legal-looking actions as role. Most fail with a
// conflict or a guard error under contention; only unexpected errors stop it.
func Transitioner(ctx context.Context, svc *collaboration.Service, reg *Registry, role auth.Role, rng *rand.Rand, stop <-chan struct{}) error {
	actor := actorFor(role)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := reg.Pick(rng)
		if id == "" {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		actions, err := svc.AvailableActions(ctx, id, role)
		if err != nil {
			if transient(err) {
				continue
			}
			return fmt.Errorf("transitioner %s: actions: %w", role, err)
		}
		if len(actions) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		action := actions[rng.Intn(len(actions))]
		_, err = svc.Transition(ctx, collaboration.TransitionParams{
			CollaborationID: id,
			ActorID:         actor,
			Role:            role,
			Action:          action,
			Reason:          "stress",
			Details:         detailsFor(id, action, rng),
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("transitioner %s %s: %w", role, action, err)
		}
		time.Sleep(time.Duration(5+rng.Intn(25)) * time.Millisecond)
	}
}

// Signer delivers e-sign webhooks, reusing event ids so most are replays.
func Signer(ctx context.Context, contracts *contract.Service, reg *Registry, rng *rand.Rand, stop <-chan struct{}) error {
	parties := []contract.Party{contract.PartyBrand, contract.PartyInfluencer}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := reg.Pick(rng)
		if id == "" {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		party := parties[rng.Intn(len(parties))]
		err := contracts.HandleSignatureWebhook(ctx, contract.SignatureEvent{
			CollaborationID: id,
			Party:           party,
			SignedAt:        time.Now().UTC(),
			IdempotencyKey:  fmt.Sprintf("sig-%s-%s-%d", id, party, rng.Intn(3)),
		})
		if err != nil && !errors.Is(err, contract.ErrNotFound) && !transient(err) {
			return fmt.Errorf("signer: %w", err)
		}
		time.Sleep(time.Duration(10+rng.Intn(30)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox. Several workers compete for leases.
func OutboxWorker(ctx context.Context, d *outbox.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n, err := d.RunOnce(ctx)
		if err != nil && !transient(err) && !errors.Is(err, outbox.ErrLeaseLost) {
			return fmt.Errorf("outbox worker: %w", err)
		}
		if n == 0 {
			time.Sleep(25 * time.Millisecond)
		}
	}
}

func actorFor(role auth.Role) string {
	switch role {
	case auth.RoleBrand:
		return BrandID
	case auth.RoleInfluencer:
		return InfluencerID
	default:
		return AdminID
	}
}

func detailsFor(id string, action collaboration.Action, rng *rand.Rand) collaboration.Details {
	switch action {
	case collaboration.ActionCounter:
		return collaboration.Details{Counter: &collaboration.CounterOffer{Amount: decimal.NewFromInt(int64(100 + rng.Intn(5000)))}}
	case collaboration.ActionSendContract:
		return collaboration.Details{Contract: &collaboration.ContractRef{DocumentRef: DocumentRef(id)}}
	case collaboration.ActionSubmitContent, collaboration.ActionSubmitRevision, collaboration.ActionPublish:
		return collaboration.Details{Submission: &collaboration.Submission{URLs: []string{"https://cdn.example.com/" + id}}}
	case collaboration.ActionRequestRevision:
		return collaboration.Details{Revision: &collaboration.RevisionAsk{Notes: "tighten the intro"}}
	case collaboration.ActionDispute:
		return collaboration.Details{Dispute: &collaboration.DisputeClaim{Claim: "late delivery"}}
	case collaboration.ActionResolve, collaboration.ActionRefund:
		return collaboration.Details{Resolution: &collaboration.Resolution{Outcome: "settled"}}
	default:
		return collaboration.Details{}
	}
}

// expected reports errors that contention and unmet guards produce.
func expected(err error) bool {
	switch {
	case errors.Is(err, collaboration.ErrConcurrentModification),
		errors.Is(err, collaboration.ErrInvalidTransition),
		errors.Is(err, collaboration.ErrContractNotFullySigned),
		errors.Is(err, collaboration.ErrActionNotPermitted):
		return true
	}
	return transient(err)
}

// transient reports errors caused by chaos killing our connections.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "57") || strings.HasPrefix(pgErr.Code, "08")
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "broken pipe")
}
