package issuance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/monitoring"
	"github.com/boxoffice-dev/boxoffice/internal/notify"
	"github.com/boxoffice-dev/boxoffice/internal/qrtoken"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	"github.com/boxoffice-dev/boxoffice/internal/uow"
)

type Config struct {
	// TokenTTL is how long a signed QR token stays valid after issuance.
	// Zero means the token never expires.
	TokenTTL time.Duration
}

// Service converts a fully paid order into concrete redeemable tickets,
// exactly once. It is the second idempotency layer on top of the webhook
// dedup: any path may reach it more than once and gets the same tickets
// back.
type Service struct {
	store      *postgresrepo.Store
	codec      *qrtoken.Codec
	dispatcher notify.Dispatcher
	uow        *uow.UoW
	logger     *slog.Logger
	cfg        Config
}

func New(
	store *postgresrepo.Store,
	codec *qrtoken.Codec,
	dispatcher notify.Dispatcher,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if dispatcher == nil {
		dispatcher = notify.Noop{}
	}

	return &Service{
		store:      store,
		codec:      codec,
		dispatcher: dispatcher,
		uow:        uow.NewUoW(store),
		logger:     logger,
		cfg:        cfg,
	}
}

// IssueTicketsForOrder is the re-drivable entry point: ops tooling or a
// retried webhook can call it for any paid order.
func (s *Service) IssueTicketsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error) {
	const op = "service.issuance.IssueTicketsForOrder"

	var tickets []domain.Ticket

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		o, err := s.store.Orders().With(tx).GetForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if o.Status != domain.OrderPaid {
			return ErrOrderNotPaid
		}

		ts, err := s.IssueForOrderTx(ctx, tx, o, after)
		if err != nil {
			return err
		}

		tickets = ts

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return tickets, nil
}

// IssueForOrderTx mints tickets inside the caller's transaction. If the
// order already has tickets they are returned unchanged. The notification
// to the dispatcher is registered as an after-commit hook, so a slow or
// failing dispatcher can never roll issuance back.
func (s *Service) IssueForOrderTx(
	ctx context.Context,
	tx postgresrepo.DB,
	o *domain.Order,
	after func(uow.AfterCommit),
) ([]domain.Ticket, error) {
	const op = "service.issuance.IssueForOrderTx"

	existing, err := s.store.Tickets().With(tx).ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	attendee, err := s.resolveAttendee(ctx, tx, o)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	items, err := s.store.Orders().With(tx).ListItems(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var exp int64
	if s.cfg.TokenTTL > 0 {
		exp = time.Now().Add(s.cfg.TokenTTL).Unix()
	}

	var tickets []domain.Ticket
	for _, it := range items {
		for i := int64(0); i < it.Quantity; i++ {
			token := randomToken()

			signed, err := s.codec.Sign(qrtoken.Payload{
				Token:   token,
				EventID: o.EventID,
				Exp:     exp,
			})
			if err != nil {
				return nil, fmt.Errorf("%s:%w", op, err)
			}

			tickets = append(tickets, domain.Ticket{
				ID:           uuid.New(),
				EventID:      o.EventID,
				OrderID:      o.ID,
				OrderItemID:  it.ID,
				TicketTypeID: it.TicketTypeID,
				AttendeeID:   attendee.ID,
				Token:        token,
				SignedToken:  signed,
				ShortCode:    shortCode(),
				Status:       domain.TicketActive,
			})
		}
	}

	if len(tickets) == 0 {
		return nil, fmt.Errorf("%s: order has no items", op)
	}

	skipped, err := s.store.Tickets().With(tx).BatchInsert(ctx, tickets)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	// A skipped row means the random token or short code landed on one that
	// already exists. Remint those tickets with fresh codes; the insert path
	// never aborts the surrounding transaction.
	for attempt := 0; len(skipped) > 0; attempt++ {
		if attempt == 3 {
			return nil, fmt.Errorf("%s: ticket code collisions persisted after %d attempts", op, attempt)
		}

		retry := make([]domain.Ticket, len(skipped))
		for j, i := range skipped {
			t := tickets[i]
			t.Token = randomToken()
			t.ShortCode = shortCode()

			signed, err := s.codec.Sign(qrtoken.Payload{
				Token:   t.Token,
				EventID: o.EventID,
				Exp:     exp,
			})
			if err != nil {
				return nil, fmt.Errorf("%s:%w", op, err)
			}
			t.SignedToken = signed

			tickets[i] = t
			retry[j] = t
		}

		again, err := s.store.Tickets().With(tx).BatchInsert(ctx, retry)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		next := make([]int, len(again))
		for j, k := range again {
			next[j] = skipped[k]
		}
		skipped = next
	}

	monitoring.TicketsIssued(len(tickets))

	n := notify.Notification{
		Kind:        notify.KindTicketsIssued,
		OrderID:     o.ID.String(),
		EventID:     o.EventID,
		TicketCount: len(tickets),
	}
	if o.Email != nil {
		n.Email = *o.Email
	}

	after(func(ctx context.Context) {
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			s.logger.Warn("notification dispatch failed",
				"order_id", n.OrderID, "error", err)
		}
	})

	return tickets, nil
}

func (s *Service) resolveAttendee(
	ctx context.Context,
	tx postgresrepo.DB,
	o *domain.Order,
) (*domain.Attendee, error) {
	a := &domain.Attendee{UserID: o.UserID}
	if o.Email != nil {
		a.Email = *o.Email
	}

	repo := s.store.Tickets().With(tx)

	if a.Email != "" {
		if err := repo.UpsertAttendee(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	}

	if err := repo.UpsertAttendeeByUser(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// randomToken is the opaque per-ticket secret embedded in the QR payload.
func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// shortCode is the human-readable fallback printed on the ticket; the
// alphabet drops 0/O/1/I to keep it readable over the phone.
func shortCode() string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}

	return string(b)
}
