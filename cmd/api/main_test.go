package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabflow/config"
	"collabflow/escrow"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:        ":0",
		ShutdownTimeout: time.Second,
		StoreDriver:     config.DriverMemory,
		CommissionRate:  "0.10",
		JWTSecret:       testSecret,
		WebhookSecret:   "whsec",
		MercadoPagoMock: true,
		Dispatcher: config.Dispatcher{
			Consumer:      "test",
			PollInterval:  10 * time.Millisecond,
			LeaseTTL:      time.Minute,
			BatchSize:     50,
			MaxAttempts:   3,
			RetryBackoff:  time.Millisecond,
			RetryMaxDelay: time.Millisecond,
		},
	}
}

func mintToken(t *testing.T, userID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func call(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewAppRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "cassandra"
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNewAppRejectsBadCommission(t *testing.T) {
	cfg := testConfig()
	cfg.CommissionRate = "1.5"
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for commission rate above 1")
	}
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	rec := call(t, a.handler, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	a := newTestApp(t)
	rec := call(t, a.handler, http.MethodPost, "/api/collaborations", "not-a-jwt", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDispatcherDrivesContractAndEscrow(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	brand := mintToken(t, "brand-1", "brand")
	influencer := mintToken(t, "influencer-1", "influencer")

	rec := call(t, a.handler, http.MethodPost, "/api/collaborations", brand,
		`{"campaignId":"camp-1","influencerId":"influencer-1","amount":"1234.56"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID               string `json:"id"`
		PlatformFee      string `json:"platformFee"`
		InfluencerPayout string `json:"influencerPayout"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.PlatformFee != "123.46" || created.InfluencerPayout != "1111.10" {
		t.Fatalf("fee split = %+v", created)
	}
	base := "/api/collaborations/" + created.ID

	steps := []struct {
		token, body string
	}{
		{influencer, `{"action":"ACCEPT"}`},
		{brand, `{"action":"SEND_CONTRACT","details":{"contract":{"document_ref":"doc-1"}}}`},
	}
	for _, s := range steps {
		if rec := call(t, a.handler, http.MethodPost, base+"/transitions", s.token, s.body); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", s.body, rec.Code, rec.Body.String())
		}
	}

	if rec := call(t, a.handler, http.MethodGet, base+"/contract", brand, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("contract before dispatch: expected 404, got %d", rec.Code)
	}
	n, err := a.dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 messages (created, 2 status changes per party, contract), got %d", n)
	}

	for _, token := range []string{brand, influencer} {
		if rec := call(t, a.handler, http.MethodPost, base+"/contract/sign", token, ""); rec.Code != http.StatusOK {
			t.Fatalf("sign: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	if rec := call(t, a.handler, http.MethodPost, base+"/transitions", brand, `{"action":"SIGN"}`); rec.Code != http.StatusOK {
		t.Fatalf("SIGN: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := a.holds.GetHold(ctx, created.ID); !errors.Is(err, escrow.ErrNoHold) {
		t.Fatalf("hold before dispatch: %v", err)
	}
	if _, err := a.dispatcher.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	hold, err := a.holds.GetHold(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetHold: %v", err)
	}
	if hold.State != escrow.HoldStateHeld || hold.Amount.StringFixed(2) != "1234.56" {
		t.Fatalf("hold = %+v", hold)
	}

	if n, err := a.dispatcher.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("drained outbox: n=%d err=%v", n, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}
