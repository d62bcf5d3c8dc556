package dynamo

import (
	"encoding/json"
	"fmt"
	"time"

	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/escrow"
	"collabflow/outbox"

	"github.com/shopspring/decimal"
)

// Timestamps are stored as unix milliseconds so they sort as numbers in key
// conditions. Amounts are decimal strings.

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMillis(*t)
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMillis(*v)
	return &t
}

type collaborationItem struct {
	ID               string `dynamodbav:"id"`
	CampaignID       string `dynamodbav:"campaign_id"`
	BrandID          string `dynamodbav:"brand_id"`
	InfluencerID     string `dynamodbav:"influencer_id"`
	AgreedAmount     string `dynamodbav:"agreed_amount"`
	PlatformFee      string `dynamodbav:"platform_fee"`
	InfluencerPayout string `dynamodbav:"influencer_payout"`
	StartDate        *int64 `dynamodbav:"start_date,omitempty"`
	EndDate          *int64 `dynamodbav:"end_date,omitempty"`
	ContentDueDate   *int64 `dynamodbav:"content_due_date,omitempty"`
	Status           string `dynamodbav:"status"`
	Version          int64  `dynamodbav:"version"`
	CompletedAt      *int64 `dynamodbav:"completed_at,omitempty"`
	CancelledAt      *int64 `dynamodbav:"cancelled_at,omitempty"`
	CreatedAt        int64  `dynamodbav:"created_at"`
	UpdatedAt        int64  `dynamodbav:"updated_at"`
}

func toCollaborationItem(c collaboration.Collaboration) collaborationItem {
	return collaborationItem{
		ID:               c.ID,
		CampaignID:       c.CampaignID,
		BrandID:          c.BrandID,
		InfluencerID:     c.InfluencerID,
		AgreedAmount:     c.AgreedAmount.StringFixed(2),
		PlatformFee:      c.PlatformFee.StringFixed(2),
		InfluencerPayout: c.InfluencerPayout.StringFixed(2),
		StartDate:        millisPtr(c.StartDate),
		EndDate:          millisPtr(c.EndDate),
		ContentDueDate:   millisPtr(c.ContentDueDate),
		Status:           string(c.Status),
		Version:          c.Version,
		CompletedAt:      millisPtr(c.CompletedAt),
		CancelledAt:      millisPtr(c.CancelledAt),
		CreatedAt:        toMillis(c.CreatedAt),
		UpdatedAt:        toMillis(c.UpdatedAt),
	}
}

func fromCollaborationItem(it collaborationItem) (collaboration.Collaboration, error) {
	c := collaboration.Collaboration{
		ID:             it.ID,
		CampaignID:     it.CampaignID,
		BrandID:        it.BrandID,
		InfluencerID:   it.InfluencerID,
		StartDate:      timePtr(it.StartDate),
		EndDate:        timePtr(it.EndDate),
		ContentDueDate: timePtr(it.ContentDueDate),
		Status:         collaboration.Status(it.Status),
		Version:        it.Version,
		CompletedAt:    timePtr(it.CompletedAt),
		CancelledAt:    timePtr(it.CancelledAt),
		CreatedAt:      fromMillis(it.CreatedAt),
		UpdatedAt:      fromMillis(it.UpdatedAt),
	}
	var err error
	if c.AgreedAmount, err = decimal.NewFromString(it.AgreedAmount); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("agreed_amount: %w", err)
	}
	if c.PlatformFee, err = decimal.NewFromString(it.PlatformFee); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("platform_fee: %w", err)
	}
	if c.InfluencerPayout, err = decimal.NewFromString(it.InfluencerPayout); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("influencer_payout: %w", err)
	}
	return c, nil
}

type historyItem struct {
	CollaborationID string  `dynamodbav:"collaboration_id"`
	Seq             int64   `dynamodbav:"seq"`
	ID              string  `dynamodbav:"id"`
	FromStatus      *string `dynamodbav:"from_status,omitempty"`
	ToStatus        string  `dynamodbav:"to_status"`
	Action          string  `dynamodbav:"action"`
	ChangedBy       string  `dynamodbav:"changed_by"`
	Reason          string  `dynamodbav:"reason"`
	DetailsJSON     string  `dynamodbav:"details_json"`
	CreatedAt       int64   `dynamodbav:"created_at"`
}

func toHistoryItem(e collaboration.StatusHistoryEntry) (historyItem, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return historyItem{}, fmt.Errorf("marshal details: %w", err)
	}
	it := historyItem{
		CollaborationID: e.CollaborationID,
		Seq:             e.Seq,
		ID:              e.ID,
		ToStatus:        string(e.ToStatus),
		Action:          string(e.Action),
		ChangedBy:       e.ChangedBy,
		Reason:          e.Reason,
		DetailsJSON:     string(details),
		CreatedAt:       toMillis(e.CreatedAt),
	}
	if e.FromStatus != nil {
		from := string(*e.FromStatus)
		it.FromStatus = &from
	}
	return it, nil
}

func fromHistoryItem(it historyItem) (collaboration.StatusHistoryEntry, error) {
	e := collaboration.StatusHistoryEntry{
		ID:              it.ID,
		CollaborationID: it.CollaborationID,
		Seq:             it.Seq,
		ToStatus:        collaboration.Status(it.ToStatus),
		Action:          collaboration.Action(it.Action),
		ChangedBy:       it.ChangedBy,
		Reason:          it.Reason,
		CreatedAt:       fromMillis(it.CreatedAt),
	}
	if it.FromStatus != nil {
		from := collaboration.Status(*it.FromStatus)
		e.FromStatus = &from
	}
	if it.DetailsJSON != "" {
		if err := json.Unmarshal([]byte(it.DetailsJSON), &e.Details); err != nil {
			return collaboration.StatusHistoryEntry{}, fmt.Errorf("decode details: %w", err)
		}
	}
	return e, nil
}

type outboxItem struct {
	ID             string `dynamodbav:"id"`
	AggregateID    string `dynamodbav:"aggregate_id"`
	Topic          string `dynamodbav:"topic"`
	PayloadJSON    string `dynamodbav:"payload_json"`
	Status         string `dynamodbav:"status"`
	AttemptCount   int    `dynamodbav:"attempt_count"`
	NextAttemptAt  int64  `dynamodbav:"next_attempt_at"`
	LeaseOwner     string `dynamodbav:"lease_owner"`
	LeaseExpiresAt *int64 `dynamodbav:"lease_expires_at,omitempty"`
	LastError      string `dynamodbav:"last_error"`
	CreatedAt      int64  `dynamodbav:"created_at"`
	DeliveredAt    *int64 `dynamodbav:"delivered_at,omitempty"`
}

func toOutboxItem(m outbox.Message) outboxItem {
	status := m.Status
	if status == "" {
		status = outbox.StatusPending
	}
	return outboxItem{
		ID:             m.ID,
		AggregateID:    m.AggregateID,
		Topic:          m.Topic,
		PayloadJSON:    string(m.Payload),
		Status:         string(status),
		AttemptCount:   m.Attempts,
		NextAttemptAt:  toMillis(m.NextAttemptAt),
		LeaseOwner:     m.LeaseOwner,
		LeaseExpiresAt: millisPtr(m.LeaseExpiresAt),
		LastError:      m.LastError,
		CreatedAt:      toMillis(m.CreatedAt),
		DeliveredAt:    millisPtr(m.DeliveredAt),
	}
}

func fromOutboxItem(it outboxItem) outbox.Message {
	return outbox.Message{
		ID:             it.ID,
		AggregateID:    it.AggregateID,
		Topic:          it.Topic,
		Payload:        []byte(it.PayloadJSON),
		Status:         outbox.Status(it.Status),
		Attempts:       it.AttemptCount,
		NextAttemptAt:  fromMillis(it.NextAttemptAt),
		LeaseOwner:     it.LeaseOwner,
		LeaseExpiresAt: timePtr(it.LeaseExpiresAt),
		LastError:      it.LastError,
		CreatedAt:      fromMillis(it.CreatedAt),
		DeliveredAt:    timePtr(it.DeliveredAt),
	}
}

type contractItem struct {
	CollaborationID    string `dynamodbav:"collaboration_id"`
	DocumentRef        string `dynamodbav:"document_ref"`
	BrandSignedAt      *int64 `dynamodbav:"brand_signed_at,omitempty"`
	InfluencerSignedAt *int64 `dynamodbav:"influencer_signed_at,omitempty"`
	IssuedAt           int64  `dynamodbav:"issued_at"`
	UpdatedAt          int64  `dynamodbav:"updated_at"`
}

func toContractItem(c contract.Contract) contractItem {
	return contractItem{
		CollaborationID:    c.CollaborationID,
		DocumentRef:        c.DocumentRef,
		BrandSignedAt:      millisPtr(c.BrandSignedAt),
		InfluencerSignedAt: millisPtr(c.InfluencerSignedAt),
		IssuedAt:           toMillis(c.IssuedAt),
		UpdatedAt:          toMillis(c.UpdatedAt),
	}
}

func fromContractItem(it contractItem) contract.Contract {
	return contract.Contract{
		CollaborationID:    it.CollaborationID,
		DocumentRef:        it.DocumentRef,
		BrandSignedAt:      timePtr(it.BrandSignedAt),
		InfluencerSignedAt: timePtr(it.InfluencerSignedAt),
		IssuedAt:           fromMillis(it.IssuedAt),
		UpdatedAt:          fromMillis(it.UpdatedAt),
	}
}

type holdItem struct {
	CollaborationID   string `dynamodbav:"collaboration_id"`
	ProviderPaymentID string `dynamodbav:"provider_payment_id"`
	Amount            string `dynamodbav:"amount"`
	State             string `dynamodbav:"state"`
	UpdatedAt         int64  `dynamodbav:"updated_at"`
}

func toHoldItem(h escrow.Hold) holdItem {
	return holdItem{
		CollaborationID:   h.CollaborationID,
		ProviderPaymentID: h.ProviderPaymentID,
		Amount:            h.Amount.StringFixed(2),
		State:             string(h.State),
		UpdatedAt:         toMillis(h.UpdatedAt),
	}
}

func fromHoldItem(it holdItem) (escrow.Hold, error) {
	amount, err := decimal.NewFromString(it.Amount)
	if err != nil {
		return escrow.Hold{}, fmt.Errorf("hold amount: %w", err)
	}
	return escrow.Hold{
		CollaborationID:   it.CollaborationID,
		ProviderPaymentID: it.ProviderPaymentID,
		Amount:            amount,
		State:             escrow.HoldState(it.State),
		UpdatedAt:         fromMillis(it.UpdatedAt),
	}, nil
}
