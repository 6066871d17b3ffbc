package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the HTTP header carrying the webhook signature,
// formatted "t=<unix seconds>,v1=<hex hmac>". The mac covers "<t>.<body>"
// so a replayed body cannot be re-stamped with a fresh timestamp.
const SignatureHeader = "X-Payprov-Signature"

// signatureTolerance bounds the age of a signed delivery.
const signatureTolerance = 5 * time.Minute

var ErrSignatureInvalid = errors.New("webhook signature invalid")

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

// WebhookPayload is the processor's delivery format. EventID is unique per
// provider and is the dedup key; SessionID links back to the payment row.
type WebhookPayload struct {
	EventID     string `json:"id"`
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	IntentID    string `json:"payment_intent_id"`
	AmountCents int64  `json:"amount_cents"`
	ReceiptURL  string `json:"receipt_url,omitempty"`
	Partial     bool   `json:"partial,omitempty"`
}

// ParseWebhook decodes the raw delivery body. It deliberately does no
// signature work so the caller can record the delivery before verifying.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("provider: decode webhook: %w", err)
	}

	if p.EventID == "" || p.Type == "" {
		return nil, errors.New("provider: webhook missing id or type")
	}

	return &p, nil
}

// VerifySignature recomputes the mac over the raw body and compares in
// constant time. Any failure is a hard reject; the caller must not change
// state for a delivery that fails here.
func VerifySignature(secret, body []byte, header string, now time.Time) error {
	if len(secret) == 0 {
		return errors.New("provider: webhook secret is empty")
	}
	if header == "" {
		return ErrSignatureInvalid
	}

	var ts int64
	var sigHex string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureInvalid
			}
			ts = parsed
		case "v1":
			sigHex = v
		}
	}

	if ts == 0 || sigHex == "" {
		return ErrSignatureInvalid
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrSignatureInvalid
	}

	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)

	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return ErrSignatureInvalid
	}

	return nil
}

// SignBody produces a header value the test suite and the local provider
// stub can stamp deliveries with.
func SignBody(secret, body []byte, now time.Time) string {
	ts := now.Unix()
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
