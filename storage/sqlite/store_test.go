package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"collabflow/auth"
	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/escrow"
	"collabflow/outbox"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "collabflow.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabflow.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_ = first.Close()
	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	_ = second.Close()
}

func TestExtractUpMigration(t *testing.T) {
	got := extractUpMigration("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;")
	if got != "\nCREATE TABLE a (x);\n" {
		t.Fatalf("extractUpMigration = %q", got)
	}
	if got := extractUpMigration("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("no markers = %q", got)
	}
}

func TestServiceLifecycleOnSQLite(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	contracts := contract.NewService(s)
	svc := collaboration.NewService(s, contracts, collaboration.DefaultFeeCalculator())

	due := t0.Add(72 * time.Hour)
	c, err := svc.Create(ctx, collaboration.CreateParams{
		CampaignID:     "campaign-1",
		BrandID:        "brand-1",
		InfluencerID:   "influencer-1",
		Amount:         decimal.RequireFromString("1234.56"),
		ContentDueDate: &due,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := s.Load(ctx, c.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.PlatformFee.Equal(decimal.RequireFromString("123.46")) || !loaded.InfluencerPayout.Equal(decimal.RequireFromString("1111.10")) {
		t.Fatalf("split = %s/%s", loaded.PlatformFee, loaded.InfluencerPayout)
	}
	if loaded.ContentDueDate == nil || !loaded.ContentDueDate.Equal(due) {
		t.Fatalf("content due = %v", loaded.ContentDueDate)
	}

	transition := func(role auth.Role, action collaboration.Action, details collaboration.Details) (collaboration.Collaboration, error) {
		return svc.Transition(ctx, collaboration.TransitionParams{
			CollaborationID: c.ID,
			ActorID:         string(role) + "-1",
			Role:            role,
			Action:          action,
			Details:         details,
		})
	}

	if _, err := transition(auth.RoleInfluencer, collaboration.ActionAccept, collaboration.Details{}); err != nil {
		t.Fatalf("ACCEPT: %v", err)
	}
	if _, err := transition(auth.RoleBrand, collaboration.ActionSendContract, collaboration.Details{
		Contract: &collaboration.ContractRef{DocumentRef: "doc-1"},
	}); err != nil {
		t.Fatalf("SEND_CONTRACT: %v", err)
	}
	if _, err := transition(auth.RoleBrand, collaboration.ActionSign, collaboration.Details{}); !errors.Is(err, collaboration.ErrContractNotFullySigned) {
		t.Fatalf("SIGN before signatures err = %v", err)
	}

	if _, err := contracts.Issue(ctx, contract.IssueRequest{CollaborationID: c.ID, DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for _, p := range []contract.Party{contract.PartyBrand, contract.PartyInfluencer} {
		if _, err := contracts.Sign(ctx, c.ID, p); err != nil {
			t.Fatalf("Sign %s: %v", p, err)
		}
	}
	signed, err := transition(auth.RoleBrand, collaboration.ActionSign, collaboration.Details{})
	if err != nil {
		t.Fatalf("SIGN: %v", err)
	}
	if signed.Status != collaboration.StatusContractSigned || signed.Version != 4 {
		t.Fatalf("after SIGN = %s v%d", signed.Status, signed.Version)
	}

	history, err := s.History(ctx, c.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 || history[0].FromStatus != nil {
		t.Fatalf("history = %+v", history)
	}
	if history[2].Details.Contract == nil || history[2].Details.Contract.DocumentRef != "doc-1" {
		t.Fatalf("contract details lost: %+v", history[2].Details)
	}
	if status, err := collaboration.ReplayStatus(history); err != nil || status != collaboration.StatusContractSigned {
		t.Fatalf("ReplayStatus = %s, %v", status, err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM collaboration_status_history WHERE collaboration_id = ?`, c.ID); err == nil {
		t.Fatal("history delete should be rejected")
	}
}

func TestCompareAndSwapRejectsStaleSnapshot(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	c := collaboration.Collaboration{
		ID: "c1", CampaignID: "k", BrandID: "b", InfluencerID: "i",
		AgreedAmount: decimal.RequireFromString("100"), PlatformFee: decimal.RequireFromString("10"), InfluencerPayout: decimal.RequireFromString("90"),
		Status: collaboration.StatusProposalSent, Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}
	first := collaboration.StatusHistoryEntry{ID: "h1", CollaborationID: "c1", Seq: 1, ToStatus: c.Status, ChangedBy: "b", CreatedAt: t0}
	if err := s.Insert(ctx, c, first, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, c, first, nil); !errors.Is(err, collaboration.ErrConcurrentModification) {
		t.Fatalf("duplicate Insert err = %v", err)
	}

	next := c
	next.Status, next.Version = collaboration.StatusNegotiation, 2
	from := collaboration.StatusProposalSent
	entry := collaboration.StatusHistoryEntry{ID: "h2", CollaborationID: "c1", Seq: 2, FromStatus: &from, ToStatus: next.Status, Action: collaboration.ActionAccept, ChangedBy: "i", CreatedAt: t0}
	if err := s.CompareAndSwap(ctx, c.Snapshot(), next, entry, nil); err != nil {
		t.Fatalf("CAS: %v", err)
	}
	entry.ID = "h3"
	if err := s.CompareAndSwap(ctx, c.Snapshot(), next, entry, nil); !errors.Is(err, collaboration.ErrConcurrentModification) {
		t.Fatalf("stale CAS err = %v", err)
	}
	if _, err := s.Load(ctx, "missing"); !errors.Is(err, collaboration.ErrCollaborationNotFound) {
		t.Fatalf("Load missing err = %v", err)
	}
}

func TestOutboxLeaseLifecycle(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	c := collaboration.Collaboration{
		ID: "c1", AgreedAmount: decimal.RequireFromString("100"), PlatformFee: decimal.RequireFromString("10"), InfluencerPayout: decimal.RequireFromString("90"),
		Status: collaboration.StatusProposalSent, Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}
	msg, err := outbox.NewMessage("c1", collaboration.TopicCreated, map[string]string{"k": "v"}, t0)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	entry := collaboration.StatusHistoryEntry{ID: "h1", CollaborationID: "c1", Seq: 1, ToStatus: c.Status, CreatedAt: t0}
	if err := s.Insert(ctx, c, entry, []outbox.Message{msg}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	leased, err := s.Lease(ctx, "w1", 10, t0, time.Minute)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Lease = %+v, %v", leased, err)
	}
	if leased[0].Attempts != 1 || leased[0].LeaseOwner != "w1" || string(leased[0].Payload) != `{"k":"v"}` {
		t.Fatalf("leased = %+v", leased[0])
	}
	if again, _ := s.Lease(ctx, "w2", 10, t0, time.Minute); len(again) != 0 {
		t.Fatal("message leased twice")
	}
	if err := s.MarkDelivered(ctx, msg.ID, "w2", t0); !errors.Is(err, outbox.ErrLeaseLost) {
		t.Fatalf("foreign ack err = %v", err)
	}

	reclaimed, _ := s.Lease(ctx, "w2", 10, t0.Add(2*time.Minute), time.Minute)
	if len(reclaimed) != 1 || reclaimed[0].Attempts != 2 {
		t.Fatalf("reclaimed = %+v", reclaimed)
	}
	if err := s.MarkRetry(ctx, msg.ID, "w2", t0.Add(time.Hour), "boom"); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	if early, _ := s.Lease(ctx, "w1", 10, t0.Add(10*time.Minute), time.Minute); len(early) != 0 {
		t.Fatal("retry leased before next attempt")
	}
	due, _ := s.Lease(ctx, "w1", 10, t0.Add(time.Hour), time.Minute)
	if len(due) != 1 || due[0].LastError != "boom" {
		t.Fatalf("due = %+v", due)
	}
	if err := s.MarkDead(ctx, msg.ID, "w1", "gave up", t0.Add(time.Hour)); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}
	if none, _ := s.Lease(ctx, "w1", 10, t0.Add(48*time.Hour), time.Minute); len(none) != 0 {
		t.Fatal("dead message leased")
	}
}

func TestRecordSignatureIdempotency(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	if _, err := s.RecordSignature(ctx, "c1", contract.PartyBrand, t0, "evt-0"); !errors.Is(err, contract.ErrNotFound) {
		t.Fatalf("missing contract err = %v", err)
	}
	if err := s.UpsertContract(ctx, contract.Contract{CollaborationID: "c1", DocumentRef: "doc", IssuedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("UpsertContract: %v", err)
	}
	// The key from the failed attempt was rolled back.
	c, err := s.RecordSignature(ctx, "c1", contract.PartyBrand, t0.Add(time.Minute), "evt-0")
	if err != nil {
		t.Fatalf("RecordSignature: %v", err)
	}
	if c.BrandSignedAt == nil || c.IsFullySigned() {
		t.Fatalf("contract = %+v", c)
	}
	if _, err := s.RecordSignature(ctx, "c1", contract.PartyBrand, t0.Add(time.Hour), "evt-0"); !errors.Is(err, contract.ErrDuplicateIdempotencyKey) {
		t.Fatalf("duplicate err = %v", err)
	}
	c, err = s.RecordSignature(ctx, "c1", contract.PartyBrand, t0.Add(time.Hour), "evt-1")
	if err != nil {
		t.Fatalf("second brand signature: %v", err)
	}
	if !c.BrandSignedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("first signature must stick, got %v", c.BrandSignedAt)
	}
	c, err = s.RecordSignature(ctx, "c1", contract.PartyInfluencer, t0.Add(2*time.Hour), "evt-2")
	if err != nil || !c.IsFullySigned() {
		t.Fatalf("influencer signature = %+v, %v", c, err)
	}
}

func TestHoldsRoundTrip(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	if _, err := s.GetHold(ctx, "c1"); !errors.Is(err, escrow.ErrNoHold) {
		t.Fatalf("GetHold missing err = %v", err)
	}
	h := escrow.Hold{CollaborationID: "c1", ProviderPaymentID: "mp-1", Amount: decimal.RequireFromString("250.5"), State: escrow.HoldStateHeld, UpdatedAt: t0}
	if err := s.PutHold(ctx, h); err != nil {
		t.Fatalf("PutHold: %v", err)
	}
	h.State = escrow.HoldStateCaptured
	if err := s.PutHold(ctx, h); err != nil {
		t.Fatalf("PutHold update: %v", err)
	}
	got, err := s.GetHold(ctx, "c1")
	if err != nil {
		t.Fatalf("GetHold: %v", err)
	}
	if got.State != escrow.HoldStateCaptured || !got.Amount.Equal(h.Amount) || got.ProviderPaymentID != "mp-1" {
		t.Fatalf("hold = %+v", got)
	}
}
