package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabflow/auth"
	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/storage/memory"
)

type stubVerifier map[string]auth.Identity

func (v stubVerifier) VerifyToken(token string) (auth.Identity, error) {
	id, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

var tokens = stubVerifier{
	"brand-token":      {UserID: "brand-1", Role: auth.RoleBrand},
	"influencer-token": {UserID: "influencer-1", Role: auth.RoleInfluencer},
	"admin-token":      {UserID: "admin-1", Role: auth.RoleAdmin},
	"other-brand":      {UserID: "brand-2", Role: auth.RoleBrand},
	"other-influencer": {UserID: "influencer-2", Role: auth.RoleInfluencer},
}

const webhookSecret = "whsec"

type testServer struct {
	handler   http.Handler
	contracts *contract.Service
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	store := memory.New()
	contracts := contract.NewService(store)
	engine := collaboration.NewService(store, contracts, collaboration.DefaultFeeCalculator())
	return testServer{
		handler:   NewServer(engine, contracts, tokens, webhookSecret).Routes(),
		contracts: contracts,
	}
}

func (ts testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (ts testServer) create(t *testing.T) collaborationResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/collaborations", "brand-token",
		`{"campaignId":"camp-1","influencerId":"influencer-1","amount":"1500.00","message":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[collaborationResponse](t, rec)
}

func TestCreateCollaboration(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.create(t)
	if resp.BrandID != "brand-1" || resp.Status != "PROPOSAL_SENT" || resp.Version != 1 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.PlatformFee != "150.00" || resp.InfluencerPayout != "1350.00" {
		t.Fatalf("split = %s/%s", resp.PlatformFee, resp.InfluencerPayout)
	}
}

func TestCreateCollaborationRejections(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name  string
		token string
		body  string
		want  int
	}{
		{name: "no token", body: `{}`, want: http.StatusUnauthorized},
		{name: "bad token", token: "forged", body: `{}`, want: http.StatusUnauthorized},
		{name: "influencer", token: "influencer-token", body: `{"campaignId":"c","influencerId":"i","amount":"10"}`, want: http.StatusForbidden},
		{name: "other brand", token: "brand-token", body: `{"campaignId":"c","brandId":"brand-2","influencerId":"i","amount":"10"}`, want: http.StatusForbidden},
		{name: "unknown field", token: "brand-token", body: `{"campaign":"c"}`, want: http.StatusBadRequest},
		{name: "zero amount", token: "brand-token", body: `{"campaignId":"c","influencerId":"i","amount":"0"}`, want: http.StatusBadRequest},
		{name: "sub-cent amount", token: "brand-token", body: `{"campaignId":"c","influencerId":"i","amount":"10.001"}`, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/collaborations", tc.token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTransitionFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)
	base := "/api/collaborations/" + c.ID

	rec := ts.do(t, http.MethodGet, base+"/actions", "influencer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("actions: expected 200, got %d", rec.Code)
	}
	actions := decode[struct{ Items []string }](t, rec)
	if len(actions.Items) == 0 || actions.Items[0] != "ACCEPT" {
		t.Fatalf("influencer actions = %v", actions.Items)
	}

	if rec := ts.do(t, http.MethodPost, base+"/transitions", "brand-token", `{"action":"ACCEPT"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("brand ACCEPT: expected 403, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/transitions", "influencer-token", `{"action":"APPROVE"}`); rec.Code != http.StatusConflict {
		t.Fatalf("APPROVE from PROPOSAL_SENT: expected 409, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/transitions", "influencer-token", `{"action":"LAUNCH"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, base+"/transitions", "influencer-token",
		`{"action":"COUNTER","reason":"rate card","details":{"counter":{"amount":"2000"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("COUNTER: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	countered := decode[collaborationResponse](t, rec)
	if countered.Status != "NEGOTIATION" || countered.AgreedAmount != "2000.00" || countered.PlatformFee != "200.00" {
		t.Fatalf("after counter: %+v", countered)
	}

	rec = ts.do(t, http.MethodPost, base+"/transitions", "brand-token",
		`{"action":"SEND_CONTRACT","details":{"contract":{"document_ref":"doc-9"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("SEND_CONTRACT: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/transitions", "brand-token", `{"action":"SIGN"}`); rec.Code != http.StatusConflict {
		t.Fatalf("SIGN unsigned: expected 409, got %d", rec.Code)
	}

	// The dispatcher issues the contract in production; do it directly here.
	if _, err := ts.contracts.Issue(context.Background(), contract.IssueRequest{CollaborationID: c.ID, DocumentRef: "doc-9"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for _, token := range []string{"brand-token", "influencer-token"} {
		if rec := ts.do(t, http.MethodPost, base+"/contract/sign", token, ""); rec.Code != http.StatusOK {
			t.Fatalf("sign with %s: expected 200, got %d", token, rec.Code)
		}
	}
	if rec := ts.do(t, http.MethodPost, base+"/contract/sign", "admin-token", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("admin sign: expected 403, got %d", rec.Code)
	}
	contractResp := decode[contractResponse](t, ts.do(t, http.MethodGet, base+"/contract", "brand-token", ""))
	if !contractResp.FullySigned {
		t.Fatalf("contract = %+v", contractResp)
	}

	rec = ts.do(t, http.MethodPost, base+"/transitions", "brand-token", `{"action":"SIGN"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("SIGN: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got := decode[collaborationResponse](t, ts.do(t, http.MethodGet, base, "admin-token", ""))
	if got.Status != "CONTRACT_SIGNED" || got.Version != 4 || len(got.History) != 4 {
		t.Fatalf("collaboration = %+v", got)
	}
	if got.History[1].Reason != "rate card" || got.History[0].FromStatus != nil {
		t.Fatalf("history = %+v", got.History)
	}
}

func TestOutsidersCannotTouchCollaboration(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)
	base := "/api/collaborations/" + c.ID
	if _, err := ts.contracts.Issue(context.Background(), contract.IssueRequest{CollaborationID: c.ID, DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	requests := []struct {
		method, path, body string
	}{
		{http.MethodGet, base, ""},
		{http.MethodGet, base + "/actions", ""},
		{http.MethodPost, base + "/transitions", `{"action":"ACCEPT"}`},
		{http.MethodPost, base + "/transitions", `{"action":"CANCEL"}`},
		{http.MethodGet, base + "/contract", ""},
		{http.MethodPost, base + "/contract/sign", ""},
	}
	for _, token := range []string{"other-brand", "other-influencer"} {
		for _, req := range requests {
			t.Run(token+" "+req.method+" "+strings.TrimPrefix(req.path, base)+req.body, func(t *testing.T) {
				rec := ts.do(t, req.method, req.path, token, req.body)
				if rec.Code != http.StatusForbidden {
					t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
				}
				if body := decode[errorBody](t, rec); body.Error.Code != "FORBIDDEN" {
					t.Fatalf("error body = %+v", body)
				}
			})
		}
	}

	got, err := ts.contracts.Get(context.Background(), c.ID)
	if err != nil || got.BrandSignedAt != nil || got.InfluencerSignedAt != nil {
		t.Fatalf("contract after outsider attempts = %+v, %v", got, err)
	}
	after := decode[collaborationResponse](t, ts.do(t, http.MethodGet, base, "admin-token", ""))
	if after.Status != "PROPOSAL_SENT" || after.Version != 1 {
		t.Fatalf("collaboration after outsider attempts = %+v", after)
	}
	if rec := ts.do(t, http.MethodGet, base, "influencer-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("own influencer: expected 200, got %d", rec.Code)
	}
}

func TestGetCollaborationNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/collaborations/missing", "brand-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("error body = %+v", body)
	}
}

func TestSignatureWebhook(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)
	if _, err := ts.contracts.Issue(context.Background(), contract.IssueRequest{CollaborationID: c.ID, DocumentRef: "doc"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"collaboration_id": c.ID,
		"party":            "influencer",
		"signed_at":        time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	send := func(signature, eventID string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/esign", bytes.NewReader(body))
		req.Header.Set(contract.SignatureHeader, signature)
		req.Header.Set(contract.EventIDHeader, eventID)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("deadbeef", "evt-1"); code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", code)
	}
	sig := contract.Sign(body, webhookSecret)
	if code := send(sig, "evt-1"); code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", code)
	}
	if code := send(sig, "evt-1"); code != http.StatusOK {
		t.Fatalf("redelivery: expected 200, got %d", code)
	}
	got, err := ts.contracts.Get(context.Background(), c.ID)
	if err != nil || got.InfluencerSignedAt == nil || got.BrandSignedAt != nil {
		t.Fatalf("contract = %+v, %v", got, err)
	}
}

type failingCollaborations struct {
	CollaborationService
	err error
}

func (f failingCollaborations) Get(context.Context, string) (collaboration.Collaboration, error) {
	return collaboration.Collaboration{}, f.err
}

func TestDomainErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{collaboration.ErrConcurrentModification, http.StatusConflict},
		{&collaboration.PermissionError{Role: auth.RoleBrand, Action: collaboration.ActionAccept}, http.StatusForbidden},
		{&collaboration.TransitionError{From: collaboration.StatusCompleted, Action: collaboration.ActionCancel}, http.StatusConflict},
		{collaboration.ErrInvalidDetails, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := NewServer(failingCollaborations{err: tc.err}, nil, tokens, "").Routes()
			req := httptest.NewRequest(http.MethodGet, "/api/collaborations/c1", nil)
			req.Header.Set("Authorization", "Bearer admin-token")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestHandlerServesHealth(t *testing.T) {
	h := NewServer(nil, nil, tokens, "").Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
