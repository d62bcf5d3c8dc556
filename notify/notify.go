package notify

import (
	"context"
	"log"
	"strings"
)

// Event is the payload delivered to one recipient.
type Event struct {
	Type            string `json:"type"`
	CollaborationID string `json:"collaboration_id"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	Action          string `json:"action,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, event Event) error
}

// LogNotifier writes notifications to the process log. It stands in for the
// email/push channel, which lives outside this service.
type LogNotifier struct {
	Printf func(format string, args ...any)
}

func (n LogNotifier) Notify(_ context.Context, recipientID string, event Event) error {
	printf := n.Printf
	if printf == nil {
		printf = log.Printf
	}
	msg := strings.TrimSpace(event.Message)
	printf("[notify] recipient=%s type=%s collaboration=%s from=%s to=%s action=%s message=%q",
		recipientID, event.Type, event.CollaborationID, event.From, event.To, event.Action, msg)
	return nil
}
