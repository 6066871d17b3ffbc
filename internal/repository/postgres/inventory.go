package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
)

// InventoryRepo reads the inventory ledger inputs for a ticket type. Every
// mutating caller must first take the row lock via LockTicketType so two
// transactions cannot both observe the last unit as available.
type InventoryRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *InventoryRepo) With(db DB) *InventoryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *InventoryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const ticketTypeColumns = `id, event_id, name, price_cents, quantity_total,
	per_user_limit, per_order_limit, active, sales_start_at, sales_end_at,
	created_at, updated_at`

func scanTicketType(row interface{ Scan(dest ...any) error }) (*domain.TicketType, error) {
	var t domain.TicketType
	err := row.Scan(
		&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.QuantityTotal,
		&t.PerUserLimit, &t.PerOrderLimit, &t.Active, &t.SalesStartAt,
		&t.SalesEndAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LockTicketType takes a pessimistic blocking lock on the ticket type row
// and returns it. The lock is held until the surrounding transaction ends.
func (r *InventoryRepo) LockTicketType(ctx context.Context, id int64) (*domain.TicketType, error) {
	const op = "postgres.InventoryRepo.LockTicketType"

	db := r.handle()

	t, err := scanTicketType(db.QueryRow(ctx,
		`SELECT `+ticketTypeColumns+`
       	 FROM ticket_types WHERE id = $1
     	 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// GetTicketType reads a ticket type without locking it. Advisory reads only.
func (r *InventoryRepo) GetTicketType(ctx context.Context, id int64) (*domain.TicketType, error) {
	const op = "postgres.InventoryRepo.GetTicketType"

	db := r.handle()

	t, err := scanTicketType(db.QueryRow(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// CountActiveTickets returns the number of issued, still-active tickets of
// the type. Cancelled and refunded tickets have returned to the pool.
func (r *InventoryRepo) CountActiveTickets(ctx context.Context, ticketTypeID int64) (int64, error) {
	const op = "postgres.InventoryRepo.CountActiveTickets"

	db := r.handle()

	var n int64
	err := db.QueryRow(ctx,
		`SELECT count(*) FROM tickets
      	 WHERE ticket_type_id = $1 AND status = 'active'`,
		ticketTypeID,
	).Scan(&n)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

// SumLiveReservations sums live hold quantities for the type. Rows past
// expires_at are treated as non-existent even before the sweep deletes them.
// excludeOrder removes one order's own hold from the sum, so an order that
// is resizing its item is not blocked by its previous claim.
func (r *InventoryRepo) SumLiveReservations(
	ctx context.Context,
	ticketTypeID int64,
	excludeOrder uuid.UUID,
) (int64, error) {
	const op = "postgres.InventoryRepo.SumLiveReservations"

	db := r.handle()

	var n int64
	err := db.QueryRow(ctx,
		`SELECT coalesce(sum(quantity), 0) FROM reservations
      	 WHERE ticket_type_id = $1
        	AND expires_at > now()
        	AND ($2::uuid IS NULL OR order_id <> $2)`,
		ticketTypeID, nullableUUID(excludeOrder),
	).Scan(&n)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

// CountPurchaserClaims returns the purchaser's active ticket count plus live
// reservation quantity for the type, excluding the order being mutated.
// Authenticated buyers are matched by user id, guests by email; the two are
// never OR-ed together.
func (r *InventoryRepo) CountPurchaserClaims(
	ctx context.Context,
	ticketTypeID int64,
	userID *int64,
	email *string,
	excludeOrder uuid.UUID,
) (int64, error) {
	const op = "postgres.InventoryRepo.CountPurchaserClaims"

	db := r.handle()

	var n int64
	err := db.QueryRow(ctx,
		`SELECT
         	(SELECT count(*)
            	FROM tickets t
            	JOIN orders o ON o.id = t.order_id
           	 WHERE t.ticket_type_id = $1
             	AND t.status = 'active'
             	AND (($2::bigint IS NOT NULL AND o.user_id = $2)
               	  OR ($2::bigint IS NULL AND o.email = $3)))
       	 +
         	(SELECT coalesce(sum(res.quantity), 0)
            	FROM reservations res
            	JOIN orders o ON o.id = res.order_id
           	 WHERE res.ticket_type_id = $1
             	AND res.expires_at > now()
             	AND res.order_id <> $4
             	AND (($2::bigint IS NOT NULL AND o.user_id = $2)
               	  OR ($2::bigint IS NULL AND o.email = $3)))`,
		ticketTypeID, userID, email, excludeOrder,
	).Scan(&n)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
