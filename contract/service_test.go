package contract

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeRepo struct {
	contracts map[string]Contract
	keys      map[string]bool
	upserts   int
	recorded  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{contracts: map[string]Contract{}, keys: map[string]bool{}}
}

func (f *fakeRepo) GetContract(_ context.Context, id string) (Contract, error) {
	c, ok := f.contracts[id]
	if !ok {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) UpsertContract(_ context.Context, c Contract) error {
	f.upserts++
	f.contracts[c.CollaborationID] = c
	return nil
}

func (f *fakeRepo) RecordSignature(_ context.Context, id string, party Party, at time.Time, key string) (Contract, error) {
	if key != "" && f.keys[key] {
		return Contract{}, ErrDuplicateIdempotencyKey
	}
	c, ok := f.contracts[id]
	if !ok {
		return Contract{}, ErrNotFound
	}
	f.recorded++
	switch party {
	case PartyBrand:
		if c.BrandSignedAt == nil {
			c.BrandSignedAt = &at
		}
	case PartyInfluencer:
		if c.InfluencerSignedAt == nil {
			c.InfluencerSignedAt = &at
		}
	}
	f.contracts[id] = c
	if key != "" {
		f.keys[key] = true
	}
	return c, nil
}

func fixedClock() time.Time { return time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC) }

func TestIssueIsIdempotentPerDocument(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo).WithClock(fixedClock)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, IssueRequest{CollaborationID: "c1", DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Sign(ctx, "c1", PartyBrand); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	again, err := svc.Issue(ctx, IssueRequest{CollaborationID: "c1", DocumentRef: "doc-1"})
	if err != nil {
		t.Fatalf("re-Issue: %v", err)
	}
	if repo.upserts != 1 || again.BrandSignedAt == nil {
		t.Fatalf("re-issuing the same document must keep signatures (upserts=%d)", repo.upserts)
	}

	replaced, err := svc.Issue(ctx, IssueRequest{CollaborationID: "c1", DocumentRef: "doc-2"})
	if err != nil {
		t.Fatalf("Issue doc-2: %v", err)
	}
	if replaced.BrandSignedAt != nil || replaced.DocumentRef != "doc-2" {
		t.Fatalf("new document must clear signatures: %+v", replaced)
	}
}

func TestIssueRequiresFields(t *testing.T) {
	svc := NewService(newFakeRepo())
	if _, err := svc.Issue(context.Background(), IssueRequest{CollaborationID: "c1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
}

func TestIsFullySigned(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo).WithClock(fixedClock)
	ctx := context.Background()

	signed, err := svc.IsFullySigned(ctx, "nothing-issued")
	if err != nil || signed {
		t.Fatalf("missing contract = %t, %v", signed, err)
	}
	if _, err := svc.Issue(ctx, IssueRequest{CollaborationID: "c1", DocumentRef: "doc"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Sign(ctx, "c1", PartyInfluencer); err != nil {
		t.Fatalf("Sign influencer: %v", err)
	}
	if signed, _ := svc.IsFullySigned(ctx, "c1"); signed {
		t.Fatal("one signature must not count as fully signed")
	}
	if _, err := svc.Sign(ctx, "c1", PartyBrand); err != nil {
		t.Fatalf("Sign brand: %v", err)
	}
	if signed, _ := svc.IsFullySigned(ctx, "c1"); !signed {
		t.Fatal("expected fully signed")
	}
}

func TestSignWithoutContract(t *testing.T) {
	svc := NewService(newFakeRepo())
	if _, err := svc.Sign(context.Background(), "c1", PartyBrand); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.Sign(context.Background(), "c1", Party("notary")); !errors.Is(err, ErrUnknownParty) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleSignatureWebhook_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo).WithClock(fixedClock)
	ctx := context.Background()
	if _, err := svc.Issue(ctx, IssueRequest{CollaborationID: "c1", DocumentRef: "doc"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ev := SignatureEvent{CollaborationID: "c1", Party: PartyBrand, IdempotencyKey: "evt-1"}
	if err := svc.HandleSignatureWebhook(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleSignatureWebhook(ctx, ev); err != nil {
		t.Fatalf("replay should be swallowed, got %v", err)
	}
	if repo.recorded != 1 {
		t.Fatalf("recorded = %d, want 1", repo.recorded)
	}
}

func TestHandleSignatureWebhook_Validation(t *testing.T) {
	svc := NewService(newFakeRepo())
	if err := svc.HandleSignatureWebhook(context.Background(), SignatureEvent{CollaborationID: "c1", Party: PartyBrand}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing key err = %v", err)
	}
	if err := svc.HandleSignatureWebhook(context.Background(), SignatureEvent{IdempotencyKey: "k", Party: PartyBrand}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing collaboration err = %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"collaboration_id":"c1","party":"brand"}`)
	h := http.Header{}
	h.Set(SignatureHeader, Sign(body, "s3cret"))

	ok, err := VerifySignature(h, body, "s3cret")
	if err != nil || !ok {
		t.Fatalf("valid signature = %t, %v", ok, err)
	}
	if ok, _ := VerifySignature(h, append(body, ' '), "s3cret"); ok {
		t.Fatal("tampered body must not verify")
	}
	h.Set(SignatureHeader, "zz-not-hex")
	if ok, _ := VerifySignature(h, body, "s3cret"); ok {
		t.Fatal("non-hex signature must not verify")
	}
	if _, err := VerifySignature(h, body, " "); err == nil {
		t.Fatal("empty secret must error")
	}
}

func TestParseSignatureEventPrefersHeaderID(t *testing.T) {
	h := http.Header{}
	h.Set(EventIDHeader, "hdr-1")
	ev, err := ParseSignatureEvent(h, []byte(`{"collaboration_id":"c1","party":"influencer","event_id":"body-1"}`))
	if err != nil {
		t.Fatalf("ParseSignatureEvent: %v", err)
	}
	if ev.IdempotencyKey != "hdr-1" || ev.Party != PartyInfluencer {
		t.Fatalf("event = %+v", ev)
	}
	if _, err := ParseSignatureEvent(http.Header{}, []byte("{")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad json err = %v", err)
	}
}
