package checkin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxoffice-dev/boxoffice/internal/qrtoken"
)

func newTestService(t *testing.T) (*Service, *qrtoken.Codec) {
	t.Helper()

	codec, err := qrtoken.New([]byte("scan-test-secret"))
	require.NoError(t, err)

	// Token validation happens before the database is touched, so these
	// tests never need a store.
	return New(nil, codec), codec
}

func TestScanRejectsTamperedToken(t *testing.T) {
	svc, codec := newTestService(t)

	signed, err := codec.Sign(qrtoken.Payload{Token: "tok", EventID: 1})
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"

	_, err = svc.Scan(context.Background(), ScanInput{RawToken: tampered, EventID: 1})
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestScanRejectsForeignSecret(t *testing.T) {
	svc, _ := newTestService(t)

	foreign, err := qrtoken.New([]byte("some-other-secret"))
	require.NoError(t, err)

	signed, err := foreign.Sign(qrtoken.Payload{Token: "tok", EventID: 1})
	require.NoError(t, err)

	_, err = svc.Scan(context.Background(), ScanInput{RawToken: signed, EventID: 1})
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestScanRejectsExpiredToken(t *testing.T) {
	svc, codec := newTestService(t)

	signed, err := codec.Sign(qrtoken.Payload{
		Token:   "tok",
		EventID: 1,
		Exp:     time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = svc.Scan(context.Background(), ScanInput{RawToken: signed, EventID: 1})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestScanRejectsEmptyToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Scan(context.Background(), ScanInput{RawToken: "   ", EventID: 1})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestDecodeLegacyBareToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, payload, err := svc.decode("plain-legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "plain-legacy-token", token)
	assert.Nil(t, payload)
}

func TestDecodeSignedToken(t *testing.T) {
	svc, codec := newTestService(t)

	signed, err := codec.Sign(qrtoken.Payload{Token: "inner", EventID: 33})
	require.NoError(t, err)

	token, payload, err := svc.decode(signed)
	require.NoError(t, err)
	assert.Equal(t, "inner", token)
	require.NotNil(t, payload)
	assert.Equal(t, int64(33), payload.EventID)
}
