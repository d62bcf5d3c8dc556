package collaboration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"collabflow/contract"
	"collabflow/escrow"
	"collabflow/notify"
	"collabflow/outbox"
)

const (
	TopicCreated       = "collaboration.created"
	TopicStatusChanged = "collaboration.status_changed"
	TopicContractSent  = "contract.sent"
	TopicEscrow        = "escrow.instruction"
)

// CreatedEvent is the payload of TopicCreated.
type CreatedEvent struct {
	CollaborationID string `json:"collaboration_id"`
	CampaignID      string `json:"campaign_id"`
	BrandID         string `json:"brand_id"`
	InfluencerID    string `json:"influencer_id"`
	Message         string `json:"message,omitempty"`
}

// StatusChangedEvent is the payload of TopicStatusChanged. Each party gets
// its own message, so a redelivery only reaches the recipient that failed.
type StatusChangedEvent struct {
	CollaborationID string `json:"collaboration_id"`
	RecipientID     string `json:"recipient_id"`
	BrandID         string `json:"brand_id"`
	InfluencerID    string `json:"influencer_id"`
	From            Status `json:"from"`
	To              Status `json:"to"`
	Action          Action `json:"action"`
	ActorID         string `json:"actor_id"`
	Reason          string `json:"reason,omitempty"`
}

// heldStatuses are the states in which brand funds sit in escrow.
var heldStatuses = map[Status]bool{
	StatusContractSigned: true,
	StatusInProduction:   true,
	StatusInReview:       true,
	StatusDisputed:       true,
}

// EscrowFor returns the escrow movement a transition requires, if any.
func EscrowFor(from, to Status, action Action) (escrow.Kind, bool) {
	switch {
	case to == StatusContractSigned && from != StatusContractSigned:
		return escrow.KindHold, true
	case to == StatusCompleted:
		return escrow.KindRelease, true
	case action == ActionRefund:
		return escrow.KindRefund, true
	case to == StatusCancelled && heldStatuses[from]:
		return escrow.KindRefund, true
	default:
		return "", false
	}
}

// statusChanges builds one TopicStatusChanged message per party.
func statusChanges(ev StatusChangedEvent, now time.Time) ([]outbox.Message, error) {
	out := make([]outbox.Message, 0, 2)
	for _, recipient := range []string{ev.BrandID, ev.InfluencerID} {
		ev.RecipientID = recipient
		msg, err := outbox.NewMessage(ev.CollaborationID, TopicStatusChanged, ev, now)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func escrowInstruction(c Collaboration, kind escrow.Kind) escrow.Instruction {
	return escrow.Instruction{
		CollaborationID:  c.ID,
		Kind:             kind,
		BrandID:          c.BrandID,
		InfluencerID:     c.InfluencerID,
		Amount:           c.AgreedAmount,
		PlatformFee:      c.PlatformFee,
		InfluencerPayout: c.InfluencerPayout,
	}
}

// NotificationHandler delivers one collaboration event to one party.
// Delivery failures only affect the outbox message, never the collaboration.
func NotificationHandler(n notify.Notifier) outbox.HandlerFunc {
	return func(ctx context.Context, msg outbox.Message) error {
		switch msg.Topic {
		case TopicCreated:
			var ev CreatedEvent
			if err := msg.Decode(&ev); err != nil {
				return err
			}
			return n.Notify(ctx, ev.InfluencerID, notify.Event{
				Type:            msg.Topic,
				CollaborationID: ev.CollaborationID,
				To:              string(StatusProposalSent),
				ActorID:         ev.BrandID,
				Message:         ev.Message,
			})
		case TopicStatusChanged:
			var ev StatusChangedEvent
			if err := msg.Decode(&ev); err != nil {
				return err
			}
			if strings.TrimSpace(ev.RecipientID) == "" {
				return fmt.Errorf("%w: status change for %s has no recipient", outbox.ErrPermanent, ev.CollaborationID)
			}
			return n.Notify(ctx, ev.RecipientID, notify.Event{
				Type:            msg.Topic,
				CollaborationID: ev.CollaborationID,
				From:            string(ev.From),
				To:              string(ev.To),
				Action:          string(ev.Action),
				ActorID:         ev.ActorID,
				Message:         ev.Reason,
			})
		default:
			return fmt.Errorf("%w: notification handler got topic %s", outbox.ErrPermanent, msg.Topic)
		}
	}
}

// EscrowHandler forwards escrow instructions to the wallet gateway.
func EscrowHandler(gw escrow.Gateway) outbox.HandlerFunc {
	return func(ctx context.Context, msg outbox.Message) error {
		var instr escrow.Instruction
		if err := msg.Decode(&instr); err != nil {
			return err
		}
		return gw.Execute(ctx, instr)
	}
}

// ContractIssueHandler records the contract document a brand sent.
func ContractIssueHandler(issuer interface {
	Issue(ctx context.Context, req contract.IssueRequest) (contract.Contract, error)
}) outbox.HandlerFunc {
	return func(ctx context.Context, msg outbox.Message) error {
		var req contract.IssueRequest
		if err := msg.Decode(&req); err != nil {
			return err
		}
		_, err := issuer.Issue(ctx, req)
		return err
	}
}
