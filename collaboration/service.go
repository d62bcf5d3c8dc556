package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"collabflow/auth"
	"collabflow/contract"
	"collabflow/outbox"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service drives collaborations through the lifecycle.
type Service struct {
	store       Store
	contracts   ContractChecker
	fees        FeeCalculator
	idGenerator func() string
	now         func() time.Time
	tracer      trace.Tracer
}

// NewService wires the engine to its store and contract lookup. A zero
// FeeCalculator falls back to DefaultCommissionRate.
func NewService(store Store, contracts ContractChecker, fees FeeCalculator) *Service {
	if fees == (FeeCalculator{}) {
		fees = DefaultFeeCalculator()
	}
	return &Service{
		store:       store,
		contracts:   contracts,
		fees:        fees,
		idGenerator: uuid.NewString,
		now:         time.Now,
		tracer:      otel.Tracer("collabflow/collaboration"),
	}
}

// WithIDGenerator overrides the ID generator (for testing).
func (s *Service) WithIDGenerator(fn func() string) *Service {
	if fn != nil {
		s.idGenerator = fn
	}
	return s
}

// WithClock overrides the time source (for testing).
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// CreateParams describes a new proposal from a brand to an influencer.
type CreateParams struct {
	CampaignID     string
	BrandID        string
	InfluencerID   string
	Amount         decimal.Decimal
	StartDate      *time.Time
	EndDate        *time.Time
	ContentDueDate *time.Time
	Message        string
	CreatedBy      string
}

// TransitionParams is one requested move.
type TransitionParams struct {
	CollaborationID string
	ActorID         string
	Role            auth.Role
	Action          Action
	Reason          string
	Details         Details
}

// Create persists a PROPOSAL_SENT collaboration with its fee split and
// creation history entry, and queues the influencer notification.
func (s *Service) Create(ctx context.Context, p CreateParams) (Collaboration, error) {
	ctx, span := s.tracer.Start(ctx, "collaboration.Create")
	defer span.End()

	c, err := s.create(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Collaboration{}, err
	}
	span.SetAttributes(attribute.String("collaboration.id", c.ID))
	return c, nil
}

func (s *Service) create(ctx context.Context, p CreateParams) (Collaboration, error) {
	campaignID := strings.TrimSpace(p.CampaignID)
	brandID := strings.TrimSpace(p.BrandID)
	influencerID := strings.TrimSpace(p.InfluencerID)
	if campaignID == "" || brandID == "" || influencerID == "" {
		return Collaboration{}, fmt.Errorf("%w: campaign, brand and influencer ids are required", ErrInvalidInput)
	}
	if brandID == influencerID {
		return Collaboration{}, fmt.Errorf("%w: brand and influencer must differ", ErrInvalidInput)
	}
	split, err := s.fees.Split(p.Amount)
	if err != nil {
		return Collaboration{}, err
	}
	if err := validateSchedule(p.StartDate, p.EndDate, p.ContentDueDate); err != nil {
		return Collaboration{}, err
	}
	createdBy := strings.TrimSpace(p.CreatedBy)
	if createdBy == "" {
		createdBy = brandID
	}

	now := s.now().UTC()
	c := Collaboration{
		ID:               s.idGenerator(),
		CampaignID:       campaignID,
		BrandID:          brandID,
		InfluencerID:     influencerID,
		AgreedAmount:     split.Amount,
		PlatformFee:      split.PlatformFee,
		InfluencerPayout: split.InfluencerPayout,
		StartDate:        utcPtr(p.StartDate),
		EndDate:          utcPtr(p.EndDate),
		ContentDueDate:   utcPtr(p.ContentDueDate),
		Status:           StatusProposalSent,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	entry := newHistoryEntry(s.idGenerator(), c, nil, "", createdBy, strings.TrimSpace(p.Message), Details{}, now)

	msg, err := outbox.NewMessage(c.ID, TopicCreated, CreatedEvent{
		CollaborationID: c.ID,
		CampaignID:      c.CampaignID,
		BrandID:         c.BrandID,
		InfluencerID:    c.InfluencerID,
		Message:         entry.Reason,
	}, now)
	if err != nil {
		return Collaboration{}, err
	}

	if err := s.store.Insert(ctx, c, entry, []outbox.Message{msg}); err != nil {
		return Collaboration{}, fmt.Errorf("collaboration: insert: %w", err)
	}
	log.Printf("[collaboration][service] created id=%s campaign=%s brand=%s influencer=%s amount=%s fee=%s",
		c.ID, c.CampaignID, c.BrandID, c.InfluencerID, c.AgreedAmount.StringFixed(2), c.PlatformFee.StringFixed(2))

	c.History = []StatusHistoryEntry{entry}
	return c, nil
}

// Transition validates and applies one action. Lost races surface as
// ErrConcurrentModification and are never retried here.
func (s *Service) Transition(ctx context.Context, p TransitionParams) (Collaboration, error) {
	ctx, span := s.tracer.Start(ctx, "collaboration.Transition", trace.WithAttributes(
		attribute.String("collaboration.id", p.CollaborationID),
		attribute.String("collaboration.action", string(p.Action)),
		attribute.String("actor.role", string(p.Role)),
	))
	defer span.End()

	c, err := s.transition(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("[collaboration][service] transition rejected id=%s action=%s role=%s: %v",
			p.CollaborationID, p.Action, p.Role, err)
		return Collaboration{}, err
	}
	span.SetAttributes(attribute.String("collaboration.status", string(c.Status)))
	return c, nil
}

func (s *Service) transition(ctx context.Context, p TransitionParams) (Collaboration, error) {
	if strings.TrimSpace(p.CollaborationID) == "" {
		return Collaboration{}, fmt.Errorf("%w: collaboration id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.ActorID) == "" {
		return Collaboration{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}

	current, err := s.store.Load(ctx, p.CollaborationID)
	if err != nil {
		return Collaboration{}, err
	}

	rule, ok := Lookup(current.Status, p.Action)
	if !ok {
		return Collaboration{}, &TransitionError{From: current.Status, Action: p.Action}
	}
	if err := authorize(rule, p.Role); err != nil {
		return Collaboration{}, err
	}
	if err := p.Details.Validate(p.Action); err != nil {
		return Collaboration{}, err
	}
	if err := checkGuard(ctx, rule.Guard, s.contracts, current.ID); err != nil {
		return Collaboration{}, err
	}
	// Read before the swap: once it commits, nothing may fail the call.
	prior, err := s.store.History(ctx, current.ID)
	if err != nil {
		return Collaboration{}, fmt.Errorf("collaboration: load history: %w", err)
	}

	now := s.now().UTC()
	next, err := s.apply(current, rule, p.Details, now)
	if err != nil {
		return Collaboration{}, err
	}
	from := current.Status
	entry := newHistoryEntry(s.idGenerator(), next, &from, p.Action, strings.TrimSpace(p.ActorID), strings.TrimSpace(p.Reason), p.Details, now)

	messages, err := s.effects(current, next, p, now)
	if err != nil {
		return Collaboration{}, err
	}

	if err := s.store.CompareAndSwap(ctx, current.Snapshot(), next, entry, messages); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return Collaboration{}, err
		}
		return Collaboration{}, fmt.Errorf("collaboration: compare and swap: %w", err)
	}
	log.Printf("[collaboration][service] transition id=%s %s -> %s action=%s actor=%s version=%d",
		next.ID, from, next.Status, p.Action, entry.ChangedBy, next.Version)

	next.History = appendHistory(prior, current.Version, entry)
	return next, nil
}

// appendHistory keeps the entries up to version and adds entry. A swap that
// succeeded proves nothing newer was committed in between.
func appendHistory(prior []StatusHistoryEntry, version int64, entry StatusHistoryEntry) []StatusHistoryEntry {
	out := make([]StatusHistoryEntry, 0, len(prior)+1)
	for _, e := range prior {
		if e.Seq <= version {
			out = append(out, e)
		}
	}
	return append(out, entry)
}

func (s *Service) apply(current Collaboration, rule Rule, d Details, now time.Time) (Collaboration, error) {
	next := current
	next.History = nil
	next.Status = rule.To
	next.Version = current.Version + 1
	next.UpdatedAt = now

	if d.Counter != nil {
		split, err := s.fees.Split(d.Counter.Amount)
		if err != nil {
			return Collaboration{}, err
		}
		next.AgreedAmount = split.Amount
		next.PlatformFee = split.PlatformFee
		next.InfluencerPayout = split.InfluencerPayout
		if d.Counter.StartDate != nil {
			next.StartDate = utcPtr(d.Counter.StartDate)
		}
		if d.Counter.EndDate != nil {
			next.EndDate = utcPtr(d.Counter.EndDate)
		}
		if d.Counter.ContentDueDate != nil {
			next.ContentDueDate = utcPtr(d.Counter.ContentDueDate)
		}
		if err := validateSchedule(next.StartDate, next.EndDate, next.ContentDueDate); err != nil {
			return Collaboration{}, err
		}
	}

	switch rule.To {
	case StatusCompleted:
		next.CompletedAt = &now
	case StatusCancelled:
		next.CancelledAt = &now
	}
	return next, nil
}

func (s *Service) effects(current, next Collaboration, p TransitionParams, now time.Time) ([]outbox.Message, error) {
	messages, err := statusChanges(StatusChangedEvent{
		CollaborationID: next.ID,
		BrandID:         next.BrandID,
		InfluencerID:    next.InfluencerID,
		From:            current.Status,
		To:              next.Status,
		Action:          p.Action,
		ActorID:         strings.TrimSpace(p.ActorID),
		Reason:          strings.TrimSpace(p.Reason),
	}, now)
	if err != nil {
		return nil, err
	}

	if p.Details.Contract != nil {
		msg, err := outbox.NewMessage(next.ID, TopicContractSent, contract.IssueRequest{
			CollaborationID: next.ID,
			DocumentRef:     strings.TrimSpace(p.Details.Contract.DocumentRef),
		}, now)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if kind, ok := EscrowFor(current.Status, next.Status, p.Action); ok {
		msg, err := outbox.NewMessage(next.ID, TopicEscrow, escrowInstruction(next, kind), now)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Get returns the collaboration with its full history.
func (s *Service) Get(ctx context.Context, id string) (Collaboration, error) {
	if strings.TrimSpace(id) == "" {
		return Collaboration{}, fmt.Errorf("%w: collaboration id is required", ErrInvalidInput)
	}
	c, err := s.store.Load(ctx, id)
	if err != nil {
		return Collaboration{}, err
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return Collaboration{}, fmt.Errorf("collaboration: load history: %w", err)
	}
	c.History = history
	return c, nil
}

// AvailableActions lists what role may do next on collaboration id.
func (s *Service) AvailableActions(ctx context.Context, id string, role auth.Role) ([]Action, error) {
	c, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return AvailableActions(c.Status, role), nil
}

func validateSchedule(start, end, due *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidInput)
	}
	if due != nil && start != nil && due.Before(*start) {
		return fmt.Errorf("%w: content due date before start date", ErrInvalidInput)
	}
	if due != nil && end != nil && due.After(*end) {
		return fmt.Errorf("%w: content due date after end date", ErrInvalidInput)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
