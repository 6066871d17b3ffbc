package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
)

// ReservationRepo manages inventory holds. One hold row exists per
// (order, ticket type) pair; the quantity on it is the order's whole claim.
type ReservationRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ReservationRepo) With(db DB) *ReservationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ReservationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Upsert creates or replaces the order's hold on a ticket type. Callers must
// have passed the ledger check under the ticket type row lock first.
func (r *ReservationRepo) Upsert(
	ctx context.Context,
	ticketTypeID int64,
	orderID uuid.UUID,
	quantity int64,
	ttl time.Duration,
) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.Upsert"

	db := r.handle()

	res := domain.Reservation{
		ID:           uuid.New(),
		TicketTypeID: ticketTypeID,
		OrderID:      orderID,
		Quantity:     quantity,
		ExpiresAt:    time.Now().Add(ttl),
	}

	err := db.QueryRow(ctx,
		`INSERT INTO reservations(id, ticket_type_id, order_id, quantity, expires_at)
       	 VALUES ($1, $2, $3, $4, $5)
     	 ON CONFLICT (order_id, ticket_type_id) DO UPDATE
        	SET quantity = EXCLUDED.quantity,
            	expires_at = EXCLUDED.expires_at,
            	updated_at = now()
     	 RETURNING id, created_at`,
		res.ID, ticketTypeID, orderID, quantity, res.ExpiresAt,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &res, nil
}

// DeleteByOrderAndType drops the order's hold on one ticket type. Used when
// an order item is removed.
func (r *ReservationRepo) DeleteByOrderAndType(
	ctx context.Context,
	orderID uuid.UUID,
	ticketTypeID int64,
) error {
	const op = "postgres.ReservationRepo.DeleteByOrderAndType"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`DELETE FROM reservations WHERE order_id = $1 AND ticket_type_id = $2`,
		orderID, ticketTypeID,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// DeleteByOrder drops every hold of an order: on cancel, on expiry, and on
// successful payment (issued tickets then account for the sale instead).
func (r *ReservationRepo) DeleteByOrder(ctx context.Context, orderID uuid.UUID) error {
	const op = "postgres.ReservationRepo.DeleteByOrder"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`DELETE FROM reservations WHERE order_id = $1`,
		orderID,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// ExpireReservations deletes holds past their expiry. Ledger reads already
// filter on expires_at, so this sweep only reclaims rows.
func (r *ReservationRepo) ExpireReservations(ctx context.Context) (int64, error) {
	const op = "postgres.ReservationRepo.ExpireReservations"

	db := r.handle()

	tag, err := db.Exec(ctx, `DELETE FROM reservations WHERE expires_at <= now()`)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}
