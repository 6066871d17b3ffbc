package orders_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	"github.com/boxoffice-dev/boxoffice/internal/service/inventory"
	"github.com/boxoffice-dev/boxoffice/internal/service/orders"
)

// These tests need a migrated database; set TEST_POSTGRES_DSN to run them.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func newOrderService(t *testing.T, pool *pgxpool.Pool, cfg orders.Config) (*orders.Service, *postgresrepo.Store) {
	t.Helper()

	store := postgresrepo.NewStore(pool)
	ledger := inventory.New(store, nil)

	return orders.New(store, ledger, nil, nil, nil, cfg), store
}

func createEvent(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO events(title, starts_at, ends_at)
		 VALUES ($1, now() + interval '1 day', now() + interval '2 days')
		 RETURNING id`,
		fmt.Sprintf("test event %s", uuid.NewString()),
	).Scan(&id)
	require.NoError(t, err)

	return id
}

func createTicketType(
	t *testing.T,
	pool *pgxpool.Pool,
	eventID int64,
	total *int64,
	perUser, perOrder int64,
) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO ticket_types(event_id, name, price_cents, quantity_total,
		                          per_user_limit, per_order_limit, active)
		 VALUES ($1, 'general', 2500, $2, $3, $4, TRUE)
		 RETURNING id`,
		eventID, total, perUser, perOrder,
	).Scan(&id)
	require.NoError(t, err)

	return id
}

func int64p(v int64) *int64 { return &v }

func TestAddItemNeverOversells(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(10), 0, 0)

	const buyers = 25

	var succeeded int64
	var insufficient int64

	g := new(errgroup.Group)
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		i := i
		g.Go(func() error {
			o, err := svc.Create(ctx, eventID, domain.Purchaser{
				Email: fmt.Sprintf("buyer-%d-%s@example.com", i, uuid.NewString()),
			})
			if err != nil {
				return err
			}
			_, err = svc.AddItem(ctx, o.ID, typeID, 1, "")
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	for err := range results {
		var short *inventory.InsufficientInventoryError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &short):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, int64(10), succeeded)
	assert.Equal(t, int64(buyers-10), insufficient)
}

func TestPerOrderLimit(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(100), 0, 2)

	o, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, o.ID, typeID, 3, "")

	var limit *inventory.LimitExceededError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, inventory.LimitPerOrder, limit.Scope)
	assert.Equal(t, int64(2), limit.Limit)

	// Resizing within the cap is fine.
	_, err = svc.AddItem(ctx, o.ID, typeID, 2, "")
	assert.NoError(t, err)
}

func TestPerUserLimitAcrossOrders(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(100), 3, 0)

	email := uniqueEmail()

	first, err := svc.Create(ctx, eventID, domain.Purchaser{Email: email})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, first.ID, typeID, 2, "")
	require.NoError(t, err)

	second, err := svc.Create(ctx, eventID, domain.Purchaser{Email: email})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, second.ID, typeID, 2, "")

	var limit *inventory.LimitExceededError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, inventory.LimitPerUser, limit.Scope)

	// One more unit stays inside the cap.
	_, err = svc.AddItem(ctx, second.ID, typeID, 1, "")
	assert.NoError(t, err)
}

func TestExpiredReservationFreesCapacityWithoutSweep(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{HoldTTL: time.Second})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(5), 0, 0)

	hoarder, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, hoarder.ID, typeID, 5, "")
	require.NoError(t, err)

	buyer, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, buyer.ID, typeID, 1, "")
	var short *inventory.InsufficientInventoryError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(0), short.Available)

	// The dead hold stops counting the moment it expires, sweep or not.
	time.Sleep(1200 * time.Millisecond)

	_, err = svc.AddItem(ctx, buyer.ID, typeID, 1, "")
	assert.NoError(t, err)
}

func TestRemoveItemReturnsCapacity(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(3), 0, 0)

	first, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)
	it, err := svc.AddItem(ctx, first.ID, typeID, 3, "")
	require.NoError(t, err)

	second, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, second.ID, typeID, 1, "")
	require.Error(t, err)

	require.NoError(t, svc.RemoveItem(ctx, first.ID, it.ID))

	_, err = svc.AddItem(ctx, second.ID, typeID, 1, "")
	assert.NoError(t, err)
}

func TestCancelIsTerminal(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(10), 0, 0)

	o, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, o.ID, typeID, 2, "")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)

	_, err = svc.AddItem(ctx, o.ID, typeID, 1, "")
	assert.ErrorIs(t, err, orders.ErrOrderNotEditable)

	_, err = svc.Cancel(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrIllegalTransition)
}

func TestTotalsFollowItemMutations(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(100), 0, 0)

	o, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)

	it, err := svc.AddItem(ctx, o.ID, typeID, 2, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), it.LineTotalCents)

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Order.Totals.SubtotalCents)
	assert.Equal(t, int64(5000), got.Order.Totals.TotalCents)

	_, err = svc.UpdateItem(ctx, o.ID, it.ID, 4)
	require.NoError(t, err)

	got, err = svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.Order.Totals.SubtotalCents)

	require.NoError(t, svc.RemoveItem(ctx, o.ID, it.ID))

	got, err = svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Order.Totals.SubtotalCents)
}

func TestPriceSnapshotSurvivesRepricing(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(100), 0, 0)

	o, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)

	it, err := svc.AddItem(ctx, o.ID, typeID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), it.UnitPriceCents)

	_, err = pool.Exec(ctx,
		`UPDATE ticket_types SET price_cents = 9900 WHERE id = $1`, typeID)
	require.NoError(t, err)

	// Resizing keeps the add-time price.
	resized, err := svc.UpdateItem(ctx, o.ID, it.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), resized.UnitPriceCents)
	assert.Equal(t, int64(5000), resized.LineTotalCents)
}

func TestSweepExpiresOverdueOrders(t *testing.T) {
	pool := testPool(t)
	svc, _ := newOrderService(t, pool, orders.Config{OrderTTL: time.Second})
	ctx := context.Background()

	eventID := createEvent(t, pool)
	typeID := createTicketType(t, pool, eventID, int64p(10), 0, 0)

	o, err := svc.Create(ctx, eventID, domain.Purchaser{Email: uniqueEmail()})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, o.ID, typeID, 2, "")
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)

	require.NoError(t, svc.Sweep(ctx))

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExpired, got.Order.Status)

	var live int64
	err = pool.QueryRow(ctx,
		`SELECT count(*) FROM reservations WHERE order_id = $1`, o.ID,
	).Scan(&live)
	require.NoError(t, err)
	assert.Zero(t, live)
}

func uniqueEmail() string {
	return fmt.Sprintf("u-%s@example.com", uuid.NewString())
}
