package contract

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	EventIDHeader   = "X-Event-Id"
)

// VerifySignature checks the hex HMAC-SHA256 of rawBody in the X-Signature
// header.
func VerifySignature(headers http.Header, rawBody []byte, secret string) (bool, error) {
	if strings.TrimSpace(secret) == "" {
		return false, fmt.Errorf("contract: webhook secret is empty")
	}
	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return false, nil
	}
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), provided), nil
}

// Sign returns the hex signature a provider would send for rawBody.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseSignatureEvent decodes a webhook body. The X-Event-Id header wins
// over an event_id in the body.
func ParseSignatureEvent(headers http.Header, rawBody []byte) (SignatureEvent, error) {
	var ev SignatureEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return SignatureEvent{}, fmt.Errorf("%w: decode body: %v", ErrInvalidRequest, err)
	}
	if id := strings.TrimSpace(headers.Get(EventIDHeader)); id != "" {
		ev.IdempotencyKey = id
	}
	return ev, nil
}
