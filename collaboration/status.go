package collaboration

import (
	"fmt"
	"strings"

	"collabflow/auth"
)

// Status is a collaboration lifecycle state.
type Status string

const (
	StatusProposalSent   Status = "PROPOSAL_SENT"
	StatusNegotiation    Status = "NEGOTIATION"
	StatusContractSigned Status = "CONTRACT_SIGNED"
	StatusInProduction   Status = "IN_PRODUCTION"
	StatusInReview       Status = "IN_REVIEW"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusDisputed       Status = "DISPUTED"
)

// Statuses lists every lifecycle state in lifecycle order.
var Statuses = []Status{
	StatusProposalSent,
	StatusNegotiation,
	StatusContractSigned,
	StatusInProduction,
	StatusInReview,
	StatusCompleted,
	StatusCancelled,
	StatusDisputed,
}

// ParseStatus normalizes raw into a known Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(ActionsFrom(s)) == 0
}

// Action is an event a participant may request against a collaboration.
type Action string

const (
	ActionAccept          Action = "ACCEPT"
	ActionReject          Action = "REJECT"
	ActionCounter         Action = "COUNTER"
	ActionSendContract    Action = "SEND_CONTRACT"
	ActionSign            Action = "SIGN"
	ActionStartProduction Action = "START_PRODUCTION"
	ActionSubmitContent   Action = "SUBMIT_CONTENT"
	ActionSubmitRevision  Action = "SUBMIT_REVISION"
	ActionApprove         Action = "APPROVE"
	ActionRequestRevision Action = "REQUEST_REVISION"
	ActionPublish         Action = "PUBLISH"
	ActionReleasePayment  Action = "RELEASE_PAYMENT"
	ActionResolve         Action = "RESOLVE"
	ActionRefund          Action = "REFUND"
	ActionCancel          Action = "CANCEL"
	ActionDispute         Action = "DISPUTE"
)

// Actions lists every action. ActionsFrom and AvailableActions keep this order.
var Actions = []Action{
	ActionAccept,
	ActionReject,
	ActionCounter,
	ActionSendContract,
	ActionSign,
	ActionStartProduction,
	ActionSubmitContent,
	ActionSubmitRevision,
	ActionApprove,
	ActionRequestRevision,
	ActionPublish,
	ActionReleasePayment,
	ActionResolve,
	ActionRefund,
	ActionCancel,
	ActionDispute,
}

// ParseAction normalizes raw into a known Action.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
}

// Eligibility is the set of roles a transition row admits.
type Eligibility string

const (
	EligibleBrand      Eligibility = "brand"
	EligibleInfluencer Eligibility = "influencer"
	EligibleAdmin      Eligibility = "admin"
	EligibleAny        Eligibility = "any"
)

// Permits reports whether role may invoke a row with this eligibility.
// Admins may invoke every row.
func (e Eligibility) Permits(role auth.Role) bool {
	switch role {
	case auth.RoleAdmin:
		return true
	case auth.RoleBrand:
		return e == EligibleAny || e == EligibleBrand
	case auth.RoleInfluencer:
		return e == EligibleAny || e == EligibleInfluencer
	default:
		return false
	}
}
