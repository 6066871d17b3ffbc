package provider

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("whsec_test")

func TestVerifySignatureRoundtrip(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment.succeeded","session_id":"cs_1"}`)
	now := time.Now()

	header := SignBody(testSecret, body, now)

	assert.NoError(t, VerifySignature(testSecret, body, header, now))
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	header := SignBody([]byte("other"), body, now)

	assert.ErrorIs(t, VerifySignature(testSecret, body, header, now), ErrSignatureInvalid)
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"id":"evt_1","amount_cents":1000}`)
	now := time.Now()

	header := SignBody(testSecret, body, now)
	tampered := []byte(`{"id":"evt_1","amount_cents":9000}`)

	assert.ErrorIs(t, VerifySignature(testSecret, tampered, header, now), ErrSignatureInvalid)
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	signedAt := time.Now()

	header := SignBody(testSecret, body, signedAt)

	// Outside the tolerance window in both directions.
	assert.ErrorIs(t,
		VerifySignature(testSecret, body, header, signedAt.Add(6*time.Minute)),
		ErrSignatureInvalid)
	assert.ErrorIs(t,
		VerifySignature(testSecret, body, header, signedAt.Add(-6*time.Minute)),
		ErrSignatureInvalid)
}

func TestVerifySignatureRejectsRestampedTimestamp(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	header := SignBody(testSecret, body, now.Add(-10*time.Minute))

	// Splice a fresh timestamp onto the old mac.
	var oldTS int64
	var sig string
	_, err := fmt.Sscanf(header, "t=%d,v1=%s", &oldTS, &sig)
	require.NoError(t, err)

	restamped := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig)

	assert.ErrorIs(t, VerifySignature(testSecret, body, restamped, now), ErrSignatureInvalid)
}

func TestVerifySignatureMalformedHeaders(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	cases := []string{
		"",
		"v1=deadbeef",
		"t=123",
		"t=notanumber,v1=deadbeef",
		fmt.Sprintf("t=%d,v1=nothex", now.Unix()),
	}

	for _, header := range cases {
		assert.Error(t, VerifySignature(testSecret, body, header, now), header)
	}
}

func TestVerifySignatureRequiresSecret(t *testing.T) {
	body := []byte(`{}`)
	now := time.Now()
	header := SignBody(testSecret, body, now)

	assert.Error(t, VerifySignature(nil, body, header, now))
}

func TestParseWebhook(t *testing.T) {
	p, err := ParseWebhook([]byte(`{
		"id": "evt_42",
		"type": "payment.succeeded",
		"session_id": "cs_9",
		"payment_intent_id": "pi_3",
		"amount_cents": 2500,
		"receipt_url": "https://pay.example/r/1"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "evt_42", p.EventID)
	assert.Equal(t, EventPaymentSucceeded, p.Type)
	assert.Equal(t, "cs_9", p.SessionID)
	assert.Equal(t, "pi_3", p.IntentID)
	assert.Equal(t, int64(2500), p.AmountCents)
	assert.False(t, p.Partial)
}

func TestParseWebhookRejectsMissingFields(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"type":"payment.succeeded"}`))
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`{"id":"evt_1"}`))
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}
