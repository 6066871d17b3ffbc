package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const paymentColumns = `id, order_id, provider_session_id, provider_intent_id,
	status, amount_cents, checkout_url, receipt_url, created_at, updated_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.ProviderSessionID, &p.ProviderIntentID,
		&p.Status, &p.AmountCents, &p.CheckoutURL, &p.ReceiptURL,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) Insert(ctx context.Context, p *domain.Payment) error {
	const op = "postgres.PaymentRepo.Insert"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO payments(id, order_id, provider_session_id,
                          	  provider_intent_id, status, amount_cents,
                          	  checkout_url, receipt_url)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
     	 RETURNING created_at, updated_at`,
		p.ID, p.OrderID, p.ProviderSessionID, p.ProviderIntentID,
		p.Status, p.AmountCents, p.CheckoutURL, p.ReceiptURL,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// GetPendingByOrder returns the most recent pending payment attempt of an
// order, if one exists.
func (r *PaymentRepo) GetPendingByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.GetPendingByOrder"

	db := r.handle()

	p, err := scanPayment(db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
       	 FROM payments
      	 WHERE order_id = $1 AND status = 'pending'
      	 ORDER BY created_at DESC
      	 LIMIT 1`,
		orderID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

// GetBySessionForUpdate locks the payment row matching a provider session id.
func (r *PaymentRepo) GetBySessionForUpdate(ctx context.Context, sessionID string) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.GetBySessionForUpdate"

	db := r.handle()

	p, err := scanPayment(db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
       	 FROM payments WHERE provider_session_id = $1
     	 FOR UPDATE`,
		sessionID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

// SetStatus updates a payment attempt. A partial unique index on
// payments(order_id) WHERE status = 'succeeded' keeps a second success out;
// the resulting 23505 surfaces as ErrConflict.
func (r *PaymentRepo) SetStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.PaymentStatus,
	intentID, receiptURL string,
) error {
	const op = "postgres.PaymentRepo.SetStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payments
        	SET status = $2,
            	provider_intent_id = CASE WHEN $3 <> '' THEN $3 ELSE provider_intent_id END,
            	receipt_url = CASE WHEN $4 <> '' THEN $4 ELSE receipt_url END,
            	updated_at = now()
      	 WHERE id = $1`,
		id, status, intentID, receiptURL,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// InsertWebhookEvent records a provider delivery. ON CONFLICT DO NOTHING on
// (provider, provider_event_id) makes the row the sole idempotency guard: a
// zero row count means the delivery was already processed.
func (r *PaymentRepo) InsertWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	const op = "postgres.PaymentRepo.InsertWebhookEvent"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`INSERT INTO webhook_events(id, provider, provider_event_id,
                                	event_type, signature_valid)
       	 VALUES ($1, $2, $3, $4, $5)
     	 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.ID, ev.Provider, ev.ProviderEventID, ev.EventType, ev.SignatureValid,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrDuplicateWebhook)
	}

	return nil
}

func (r *PaymentRepo) MarkWebhookHandled(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.PaymentRepo.MarkWebhookHandled"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE webhook_events
        	SET signature_valid = TRUE, handled_at = now()
      	 WHERE id = $1`,
		id,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
