package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
)

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const ticketColumns = `id, event_id, order_id, order_item_id, ticket_type_id,
	attendee_id, token, signed_token, short_code, status, issued_at`

func scanTicket(row interface{ Scan(dest ...any) error }) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(
		&t.ID, &t.EventID, &t.OrderID, &t.OrderItemID, &t.TicketTypeID,
		&t.AttendeeID, &t.Token, &t.SignedToken, &t.ShortCode, &t.Status,
		&t.IssuedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertAttendee resolves the purchaser to an attendee row. Insert with
// ON CONFLICT on email plus RETURNING replaces the old first-row-wins
// find-or-create query.
func (r *TicketRepo) UpsertAttendee(ctx context.Context, a *domain.Attendee) error {
	const op = "postgres.TicketRepo.UpsertAttendee"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO attendees(user_id, email, name)
       	 VALUES ($1, $2, $3)
     	 ON CONFLICT (email) WHERE email <> '' DO UPDATE
        	SET user_id = coalesce(attendees.user_id, EXCLUDED.user_id),
            	name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name
                        	ELSE attendees.name END,
            	updated_at = now()
     	 RETURNING id, user_id, name, created_at, updated_at`,
		a.UserID, a.Email, a.Name,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// UpsertAttendeeByUser covers guest-less orders that carry only a user id.
// It targets the partial unique index on user_id for rows without an email.
func (r *TicketRepo) UpsertAttendeeByUser(ctx context.Context, a *domain.Attendee) error {
	const op = "postgres.TicketRepo.UpsertAttendeeByUser"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO attendees(user_id, email, name)
       	 VALUES ($1, '', $2)
     	 ON CONFLICT (user_id) WHERE email = '' DO UPDATE
        	SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name
                        	ELSE attendees.name END,
            	updated_at = now()
     	 RETURNING id, name, created_at, updated_at`,
		a.UserID, a.Name,
	).Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *TicketRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.ListByOrder"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+ticketColumns+`
       	 FROM tickets WHERE order_id = $1
      	 ORDER BY issued_at, id`,
		orderID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return tickets, nil
}

// BatchInsert writes minted tickets in one round trip. Each insert carries
// ON CONFLICT DO NOTHING so a unique collision on token or short_code skips
// the row instead of aborting the transaction; the returned indexes name the
// tickets that were skipped so the caller can remint them.
func (r *TicketRepo) BatchInsert(ctx context.Context, tickets []domain.Ticket) ([]int, error) {
	const op = "postgres.TicketRepo.BatchInsert"

	db := r.handle()

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(id, event_id, order_id, order_item_id,
                             	 ticket_type_id, attendee_id, token,
                             	 signed_token, short_code, status)
         	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
     	 	 ON CONFLICT DO NOTHING
     	 	 RETURNING id`,
			t.ID, t.EventID, t.OrderID, t.OrderItemID, t.TicketTypeID,
			t.AttendeeID, t.Token, t.SignedToken, t.ShortCode, t.Status,
		)
	}

	results := db.SendBatch(ctx, batch)

	var skipped []int
	for i := range tickets {
		var id uuid.UUID
		err := results.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			skipped = append(skipped, i)
			continue
		}
		if err != nil {
			_ = results.Close()
			return nil, wrapDBErr(op, err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return skipped, nil
}

// UpdateStatusByOrder flips every ticket of an order, used on refunds.
func (r *TicketRepo) UpdateStatusByOrder(
	ctx context.Context,
	orderID uuid.UUID,
	status domain.TicketStatus,
) (int64, error) {
	const op = "postgres.TicketRepo.UpdateStatusByOrder"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE tickets SET status = $2, updated_at = now() WHERE order_id = $1`,
		orderID, status,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

// LockByToken takes a non-blocking lock on the ticket row. SKIP LOCKED means
// a scanner that loses the race observes no row at all; the follow-up
// unlocked probe tells ErrRowLocked apart from ErrNotFound so the caller can
// ask the operator to retry instead of reporting a bad ticket.
func (r *TicketRepo) LockByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.LockByToken"

	db := r.handle()

	t, err := scanTicket(db.QueryRow(ctx,
		`SELECT `+ticketColumns+`
       	 FROM tickets WHERE token = $1
     	 FOR UPDATE SKIP LOCKED`,
		token,
	))
	if err == nil {
		return t, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	var exists bool
	if probeErr := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE token = $1)`, token,
	).Scan(&exists); probeErr != nil {
		return nil, wrapDBErr(op, probeErr)
	}

	if exists {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrRowLocked)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
}

// GetCheckIn returns the redemption record of a ticket, if any.
func (r *TicketRepo) GetCheckIn(ctx context.Context, ticketID uuid.UUID) (*domain.CheckIn, error) {
	const op = "postgres.TicketRepo.GetCheckIn"

	db := r.handle()

	var c domain.CheckIn
	err := db.QueryRow(ctx,
		`SELECT id, ticket_id, event_id, actor, device_label, scanned_at
       	 FROM checkins WHERE ticket_id = $1`,
		ticketID,
	).Scan(&c.ID, &c.TicketID, &c.EventID, &c.Actor, &c.DeviceLabel, &c.ScannedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &c, nil
}

// InsertCheckIn records the redemption. The UNIQUE constraint on ticket_id
// backs up the in-lock pre-check: a race cannot produce two rows, only a
// 23505 that surfaces as ErrConflict.
func (r *TicketRepo) InsertCheckIn(ctx context.Context, c *domain.CheckIn) error {
	const op = "postgres.TicketRepo.InsertCheckIn"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO checkins(id, ticket_id, event_id, actor, device_label)
       	 VALUES ($1, $2, $3, $4, $5)
     	 RETURNING scanned_at`,
		c.ID, c.TicketID, c.EventID, c.Actor, c.DeviceLabel,
	).Scan(&c.ScannedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
