package collaboration

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Details carries the action-specific payload of a transition. At most one
// branch is set, and it must match the action.
type Details struct {
	Counter    *CounterOffer `json:"counter,omitempty"`
	Contract   *ContractRef  `json:"contract,omitempty"`
	Submission *Submission   `json:"submission,omitempty"`
	Revision   *RevisionAsk  `json:"revision,omitempty"`
	Dispute    *DisputeClaim `json:"dispute,omitempty"`
	Resolution *Resolution   `json:"resolution,omitempty"`
}

// CounterOffer proposes a new amount and optionally new dates.
type CounterOffer struct {
	Amount         decimal.Decimal `json:"amount"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	ContentDueDate *time.Time      `json:"content_due_date,omitempty"`
}

// ContractRef points at the contract document the brand sent.
type ContractRef struct {
	DocumentRef string `json:"document_ref"`
}

// Submission links delivered content.
type Submission struct {
	URLs []string `json:"urls"`
	Note string   `json:"note,omitempty"`
}

type RevisionAsk struct {
	Notes string `json:"notes"`
}

type DisputeClaim struct {
	Claim string `json:"claim"`
}

type Resolution struct {
	Outcome string `json:"outcome"`
}

// IsZero reports whether no branch is set.
func (d Details) IsZero() bool {
	return d.Counter == nil && d.Contract == nil && d.Submission == nil &&
		d.Revision == nil && d.Dispute == nil && d.Resolution == nil
}

func (d Details) branches() []string {
	var set []string
	if d.Counter != nil {
		set = append(set, "counter")
	}
	if d.Contract != nil {
		set = append(set, "contract")
	}
	if d.Submission != nil {
		set = append(set, "submission")
	}
	if d.Revision != nil {
		set = append(set, "revision")
	}
	if d.Dispute != nil {
		set = append(set, "dispute")
	}
	if d.Resolution != nil {
		set = append(set, "resolution")
	}
	return set
}

// expectedBranch is the Details branch an action accepts, and whether it is required.
func expectedBranch(action Action) (string, bool) {
	switch action {
	case ActionCounter:
		return "counter", true
	case ActionSendContract:
		return "contract", true
	case ActionSubmitContent, ActionSubmitRevision, ActionPublish:
		return "submission", true
	case ActionRequestRevision:
		return "revision", false
	case ActionDispute:
		return "dispute", false
	case ActionResolve, ActionRefund:
		return "resolution", false
	default:
		return "", false
	}
}

// Validate checks that d fits action.
func (d Details) Validate(action Action) error {
	set := d.branches()
	if len(set) > 1 {
		return fmt.Errorf("%w: only one details branch may be set, got %s", ErrInvalidDetails, strings.Join(set, ","))
	}
	want, required := expectedBranch(action)
	if len(set) == 0 {
		if required {
			return fmt.Errorf("%w: %s requires %s details", ErrInvalidDetails, action, want)
		}
		return nil
	}
	if set[0] != want {
		return fmt.Errorf("%w: %s does not accept %s details", ErrInvalidDetails, action, set[0])
	}

	switch {
	case d.Counter != nil:
		if !d.Counter.Amount.IsPositive() {
			return fmt.Errorf("%w: counter amount must be greater than zero", ErrInvalidAmount)
		}
	case d.Contract != nil:
		if strings.TrimSpace(d.Contract.DocumentRef) == "" {
			return fmt.Errorf("%w: contract document_ref is required", ErrInvalidDetails)
		}
	case d.Submission != nil:
		if len(d.Submission.URLs) == 0 {
			return fmt.Errorf("%w: submission needs at least one url", ErrInvalidDetails)
		}
		for _, raw := range d.Submission.URLs {
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return fmt.Errorf("%w: submission url %q is not an absolute http(s) url", ErrInvalidDetails, raw)
			}
		}
	}
	return nil
}
