package collaboration

import "fmt"

// Guard is a precondition evaluated after role checks and before commit.
type Guard int

const (
	GuardNone Guard = iota
	// GuardContractSigned requires both parties to have signed the contract.
	GuardContractSigned
)

// Rule is one row of the transition table.
type Rule struct {
	From     Status
	Action   Action
	To       Status
	Eligible Eligibility
	Guard    Guard
}

type transitionKey struct {
	from   Status
	action Action
}

// rules is the single source of truth for legal moves. Terminal states have
// no rows, so nothing can leave them.
var rules = []Rule{
	{From: StatusProposalSent, Action: ActionAccept, To: StatusNegotiation, Eligible: EligibleInfluencer},
	{From: StatusProposalSent, Action: ActionCounter, To: StatusNegotiation, Eligible: EligibleAny},
	{From: StatusProposalSent, Action: ActionReject, To: StatusCancelled, Eligible: EligibleInfluencer},
	{From: StatusProposalSent, Action: ActionCancel, To: StatusCancelled, Eligible: EligibleBrand},

	{From: StatusNegotiation, Action: ActionCounter, To: StatusNegotiation, Eligible: EligibleAny},
	{From: StatusNegotiation, Action: ActionSendContract, To: StatusNegotiation, Eligible: EligibleBrand},
	{From: StatusNegotiation, Action: ActionSign, To: StatusContractSigned, Eligible: EligibleAny, Guard: GuardContractSigned},
	{From: StatusNegotiation, Action: ActionReject, To: StatusCancelled, Eligible: EligibleAny},
	{From: StatusNegotiation, Action: ActionCancel, To: StatusCancelled, Eligible: EligibleAny},

	{From: StatusContractSigned, Action: ActionStartProduction, To: StatusInProduction, Eligible: EligibleInfluencer, Guard: GuardContractSigned},
	{From: StatusContractSigned, Action: ActionCancel, To: StatusCancelled, Eligible: EligibleAny},

	{From: StatusInProduction, Action: ActionSubmitContent, To: StatusInReview, Eligible: EligibleInfluencer},
	{From: StatusInProduction, Action: ActionSubmitRevision, To: StatusInReview, Eligible: EligibleInfluencer},
	{From: StatusInProduction, Action: ActionPublish, To: StatusInReview, Eligible: EligibleInfluencer},
	{From: StatusInProduction, Action: ActionCancel, To: StatusCancelled, Eligible: EligibleAdmin},

	{From: StatusInReview, Action: ActionApprove, To: StatusCompleted, Eligible: EligibleBrand},
	{From: StatusInReview, Action: ActionRequestRevision, To: StatusInProduction, Eligible: EligibleBrand},
	{From: StatusInReview, Action: ActionDispute, To: StatusDisputed, Eligible: EligibleAny},
	{From: StatusInReview, Action: ActionReleasePayment, To: StatusCompleted, Eligible: EligibleAdmin},
	{From: StatusInReview, Action: ActionCancel, To: StatusCancelled, Eligible: EligibleAdmin},

	{From: StatusDisputed, Action: ActionResolve, To: StatusInReview, Eligible: EligibleAdmin},
	{From: StatusDisputed, Action: ActionReleasePayment, To: StatusCompleted, Eligible: EligibleAdmin},
	{From: StatusDisputed, Action: ActionRefund, To: StatusCancelled, Eligible: EligibleAdmin},
}

var table = indexRules(rules)

func indexRules(rs []Rule) map[transitionKey]Rule {
	out := make(map[transitionKey]Rule, len(rs))
	for _, r := range rs {
		key := transitionKey{from: r.From, action: r.Action}
		if _, dup := out[key]; dup {
			panic(fmt.Sprintf("collaboration: duplicate transition %s/%s", r.From, r.Action))
		}
		out[key] = r
	}
	return out
}

// Lookup returns the row for (from, action), if one exists.
func Lookup(from Status, action Action) (Rule, bool) {
	r, ok := table[transitionKey{from: from, action: action}]
	return r, ok
}

// Rules returns a copy of the transition table in declaration order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// ActionsFrom lists every action with a row leaving from, regardless of role.
func ActionsFrom(from Status) []Action {
	var out []Action
	for _, a := range Actions {
		if _, ok := Lookup(from, a); ok {
			out = append(out, a)
		}
	}
	return out
}
