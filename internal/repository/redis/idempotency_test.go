package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyAcquireLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemCheckout("11111111-1111-1111-1111-111111111111")

	mock.ExpectSetNX(key, "LOCK", 30*time.Second).SetVal(true)

	ok, err := store.AcquireLock(context.Background(), key, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyLockContended(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemCheckout("order-1")

	mock.ExpectSetNX(key, "LOCK", 30*time.Second).SetVal(false)

	ok, err := store.AcquireLock(context.Background(), key, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencySaveAndGetResult(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemCheckout("order-2")
	payload := `{"session_id":"cs_1","url":"https://pay.example/cs_1"}`

	mock.ExpectSet(key, "RES:"+payload, time.Hour).SetVal("OK")
	require.NoError(t, store.SaveResult(context.Background(), key, payload))

	mock.ExpectGet(key).SetVal("RES:" + payload)

	got, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyGetResultWhileLocked(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemCheckout("order-3")

	// The lock marker is not a result.
	mock.ExpectGet(key).SetVal("LOCK")

	_, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectGet(key).SetVal("LOCK")

	locked, err := store.IsLocked(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestIdempotencyGetResultMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemCheckout("order-4")

	mock.ExpectGet(key).RedisNil()

	_, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectGet(key).RedisNil()

	locked, err := store.IsLocked(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestIdempotencyRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemCheckout("order-5")

	mock.ExpectDel(key).SetVal(1)

	assert.NoError(t, store.Release(context.Background(), key))
	assert.NoError(t, mock.ExpectationsWereMet())
}
