package collaboration

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collaboration is a paid engagement between a brand and an influencer
// under a campaign.
type Collaboration struct {
	ID               string
	CampaignID       string
	BrandID          string
	InfluencerID     string
	AgreedAmount     decimal.Decimal
	PlatformFee      decimal.Decimal
	InfluencerPayout decimal.Decimal
	StartDate        *time.Time
	EndDate          *time.Time
	ContentDueDate   *time.Time
	Status           Status
	Version          int64
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// History is populated by Service reads, oldest first.
	History []StatusHistoryEntry
}

// Snapshot is the state a writer observed before computing its transition.
type Snapshot struct {
	Status  Status
	Version int64
}

// Snapshot returns the compare-and-swap precondition for c.
func (c Collaboration) Snapshot() Snapshot {
	return Snapshot{Status: c.Status, Version: c.Version}
}

// StatusHistoryEntry is one immutable audit record. FromStatus is nil only
// for the creation entry.
type StatusHistoryEntry struct {
	ID              string
	CollaborationID string
	Seq             int64
	FromStatus      *Status
	ToStatus        Status
	Action          Action
	ChangedBy       string
	Reason          string
	Details         Details
	CreatedAt       time.Time
}
