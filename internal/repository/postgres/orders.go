package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
)

type OrderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OrderRepo) With(db DB) *OrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const orderColumns = `id, event_id, user_id, email, status, subtotal_cents,
	discount_cents, fee_cents, tax_cents, total_cents, expires_at,
	created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.EventID, &o.UserID, &o.Email, &o.Status,
		&o.Totals.SubtotalCents, &o.Totals.DiscountCents, &o.Totals.FeeCents,
		&o.Totals.TaxCents, &o.Totals.TotalCents, &o.ExpiresAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) Create(
	ctx context.Context,
	eventID int64,
	purchaser domain.Purchaser,
	ttl time.Duration,
) (*domain.Order, error) {
	const op = "postgres.OrderRepo.Create"

	db := r.handle()

	o := domain.Order{
		ID:        uuid.New(),
		EventID:   eventID,
		UserID:    purchaser.UserID,
		Status:    domain.OrderDraft,
		ExpiresAt: time.Now().Add(ttl),
	}
	if purchaser.Email != "" {
		email := purchaser.Email
		o.Email = &email
	}

	err := db.QueryRow(ctx,
		`INSERT INTO orders(id, event_id, user_id, email, status, expires_at)
       	 VALUES ($1, $2, $3, $4, $5, $6)
     	 RETURNING created_at, updated_at`,
		o.ID, o.EventID, o.UserID, o.Email, o.Status, o.ExpiresAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &o, nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgres.OrderRepo.Get"

	db := r.handle()

	o, err := scanOrder(db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// GetForUpdate locks the order row for the rest of the transaction. Item
// mutations and status changes start here so they serialize per order.
func (r *OrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgres.OrderRepo.GetForUpdate"

	db := r.handle()

	o, err := scanOrder(db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// SetStatus is the single place allowed to flip the status column. It
// validates the change against the domain transition table under the row
// lock and rejects everything else.
func (r *OrderRepo) SetStatus(
	ctx context.Context,
	id uuid.UUID,
	to domain.OrderStatus,
) (*domain.Order, error) {
	const op = "postgres.OrderRepo.SetStatus"

	db := r.handle()

	var from domain.OrderStatus
	if err := db.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id,
	).Scan(&from); err != nil {
		return nil, wrapDBErr(op, err)
	}

	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%s: %s -> %s:%w", op, from, to, repository.ErrIllegalTransition)
	}

	o, err := scanOrder(db.QueryRow(ctx,
		`UPDATE orders SET status = $2, updated_at = now()
      	 WHERE id = $1
     	 RETURNING `+orderColumns,
		id, to,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

func (r *OrderRepo) ListItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	const op = "postgres.OrderRepo.ListItems"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, order_id, ticket_type_id, quantity, unit_price_cents,
            	line_total_cents, created_at, updated_at
       	 FROM order_items WHERE order_id = $1
      	 ORDER BY created_at`,
		orderID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.TicketTypeID, &it.Quantity,
			&it.UnitPriceCents, &it.LineTotalCents, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return items, nil
}

func (r *OrderRepo) GetItem(ctx context.Context, orderID, itemID uuid.UUID) (*domain.OrderItem, error) {
	const op = "postgres.OrderRepo.GetItem"

	db := r.handle()

	var it domain.OrderItem
	err := db.QueryRow(ctx,
		`SELECT id, order_id, ticket_type_id, quantity, unit_price_cents,
            	line_total_cents, created_at, updated_at
       	 FROM order_items WHERE id = $1 AND order_id = $2`,
		itemID, orderID,
	).Scan(
		&it.ID, &it.OrderID, &it.TicketTypeID, &it.Quantity,
		&it.UnitPriceCents, &it.LineTotalCents, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &it, nil
}

// UpsertItem creates the order's line for a ticket type or replaces its
// quantity. The unit price snapshot is written once on insert and never
// refreshed afterwards.
func (r *OrderRepo) UpsertItem(
	ctx context.Context,
	orderID uuid.UUID,
	ticketTypeID int64,
	quantity int64,
	unitPriceCents int64,
) (*domain.OrderItem, error) {
	const op = "postgres.OrderRepo.UpsertItem"

	db := r.handle()

	var it domain.OrderItem
	err := db.QueryRow(ctx,
		`INSERT INTO order_items(id, order_id, ticket_type_id, quantity,
                             	 unit_price_cents, line_total_cents)
       	 VALUES ($1, $2, $3, $4, $5, $4 * $5)
     	 ON CONFLICT (order_id, ticket_type_id) DO UPDATE
        	SET quantity = EXCLUDED.quantity,
            	line_total_cents = order_items.unit_price_cents * EXCLUDED.quantity,
            	updated_at = now()
     	 RETURNING id, order_id, ticket_type_id, quantity, unit_price_cents,
               	   line_total_cents, created_at, updated_at`,
		uuid.New(), orderID, ticketTypeID, quantity, unitPriceCents,
	).Scan(
		&it.ID, &it.OrderID, &it.TicketTypeID, &it.Quantity,
		&it.UnitPriceCents, &it.LineTotalCents, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &it, nil
}

func (r *OrderRepo) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	const op = "postgres.OrderRepo.DeleteItem"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM order_items WHERE id = $1 AND order_id = $2`,
		itemID, orderID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *OrderRepo) UpdateTotals(ctx context.Context, orderID uuid.UUID, t domain.Totals) error {
	const op = "postgres.OrderRepo.UpdateTotals"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE orders
        	SET subtotal_cents = $2, discount_cents = $3, fee_cents = $4,
            	tax_cents = $5, total_cents = $6, updated_at = now()
      	 WHERE id = $1`,
		orderID, t.SubtotalCents, t.DiscountCents, t.FeeCents,
		t.TaxCents, t.TotalCents,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// ListExpired returns DRAFT/PENDING orders past their deadline, locked and
// skipping rows another sweeper already holds.
func (r *OrderRepo) ListExpired(ctx context.Context, limit int) ([]uuid.UUID, error) {
	const op = "postgres.OrderRepo.ListExpired"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id FROM orders
      	 WHERE status IN ('draft', 'pending') AND expires_at <= now()
      	 ORDER BY expires_at
      	 LIMIT $1
      	 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErr(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return ids, nil
}
