package payments

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	redisrepo "github.com/boxoffice-dev/boxoffice/internal/repository/redis"
)

func TestHandleWebhookRejectsMalformedBody(t *testing.T) {
	// Parsing fails before any transaction is opened, so no store is needed.
	svc := New(nil, nil, nil, nil, nil, nil, slog.Default(), Config{
		WebhookSecret: []byte("whsec"),
	})

	err := svc.HandleWebhook(context.Background(), []byte("not json"), "t=1,v1=00")
	assert.ErrorIs(t, err, ErrMalformedDelivery)

	err = svc.HandleWebhook(context.Background(), []byte(`{"type":"payment.succeeded"}`), "t=1,v1=00")
	assert.ErrorIs(t, err, ErrMalformedDelivery)
}

func TestWebhookOutcomeLabels(t *testing.T) {
	assert.Equal(t, "duplicate", webhookOutcome(ErrDuplicateDelivery))
	assert.Equal(t, "signature_invalid", webhookOutcome(ErrSignatureInvalid))
	assert.Equal(t, "unknown_session", webhookOutcome(ErrPaymentNotFound))
	assert.Equal(t, "error", webhookOutcome(assert.AnError))
}

func TestCreateCheckoutSessionContendedLock(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	idem := redisrepo.NewIdempotencyStore(rdb, time.Hour)
	svc := New(nil, nil, idem, nil, nil, nil, slog.Default(), Config{
		WebhookSecret: []byte("whsec"),
	})

	orderID := uuid.New()
	key := redisrepo.KeyIdemCheckout(orderID.String())

	// Another caller holds the lock the whole time and has saved no result
	// yet; the contender is bounced without a second acquire attempt.
	mock.ExpectGet(key).SetVal("LOCK")
	mock.ExpectSetNX(key, "LOCK", svc.cfg.CheckoutLockTTL).SetVal(false)
	mock.ExpectGet(key).SetVal("LOCK")
	mock.ExpectGet(key).SetVal("LOCK")

	_, err := svc.CreateCheckoutSession(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCheckoutSessionRetriesVanishedLock(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	idem := redisrepo.NewIdempotencyStore(rdb, time.Hour)
	svc := New(nil, nil, idem, nil, nil, nil, slog.Default(), Config{
		WebhookSecret: []byte("whsec"),
	})

	orderID := uuid.New()
	key := redisrepo.KeyIdemCheckout(orderID.String())

	// The first acquire loses, but by the time we look the holder's lock
	// has expired without a saved result, so the acquire is retried once.
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, "LOCK", svc.cfg.CheckoutLockTTL).SetVal(false)
	mock.ExpectGet(key).RedisNil()
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, "LOCK", svc.cfg.CheckoutLockTTL).SetVal(false)

	_, err := svc.CreateCheckoutSession(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigDefaults(t *testing.T) {
	svc := New(nil, nil, nil, nil, nil, nil, slog.Default(), Config{})

	assert.Equal(t, "usd", svc.cfg.Currency)
	assert.NotZero(t, svc.cfg.CheckoutLockTTL)
	assert.NotZero(t, svc.cfg.CheckoutResultTTL)
}
