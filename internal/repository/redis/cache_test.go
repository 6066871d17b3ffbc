package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type availabilityDoc struct {
	TicketTypeID int64 `json:"ticket_type_id"`
	Available    int64 `json:"available"`
}

func TestCacheGetOrSetJSONLoadsOnce(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db)

	key := KeyTicketTypeAvailability(7)
	doc := availabilityDoc{TicketTypeID: 7, Available: 12}

	mock.ExpectGet(key).RedisNil()
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, `{"ticket_type_id":7,"available":12}`, 10*time.Second).SetVal("OK")

	calls := 0
	got, err := GetOrSetJSON(context.Background(), c, key, 10*time.Second,
		func(ctx context.Context) (availabilityDoc, error) {
			calls++
			return doc, nil
		})
	require.NoError(t, err)
	assert.Equal(t, doc, got)
	assert.Equal(t, 1, calls)
}

func TestCacheGetOrSetJSONHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db)

	key := KeyTicketTypeAvailability(9)

	mock.ExpectGet(key).SetVal(`{"ticket_type_id":9,"available":3}`)

	got, err := GetOrSetJSON(context.Background(), c, key, 10*time.Second,
		func(ctx context.Context) (availabilityDoc, error) {
			t.Fatal("loader must not run on a cache hit")
			return availabilityDoc{}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Available)
}

func TestCacheInvalidateTicketType(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db)

	mock.ExpectDel(KeyTicketTypeAvailability(5)).SetVal(1)

	assert.NoError(t, c.InvalidateTicketType(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}
