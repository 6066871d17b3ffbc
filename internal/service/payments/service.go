package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/monitoring"
	"github.com/boxoffice-dev/boxoffice/internal/notify"
	"github.com/boxoffice-dev/boxoffice/internal/provider"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	redisrepo "github.com/boxoffice-dev/boxoffice/internal/repository/redis"
	"github.com/boxoffice-dev/boxoffice/internal/service/issuance"
	"github.com/boxoffice-dev/boxoffice/internal/uow"
)

// CheckoutProvider is the slice of the processor client this service needs.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, params provider.CheckoutParams) (*provider.Session, error)
}

type Config struct {
	WebhookSecret []byte
	Currency      string
	SuccessURL    string
	CancelURL     string

	// CheckoutLockTTL bounds how long one caller may hold the per-order
	// session-creation lock; CheckoutResultTTL is how long a created session
	// is replayed to retries instead of creating a second one.
	CheckoutLockTTL   time.Duration
	CheckoutResultTTL time.Duration
}

// CheckoutSession is what the buyer-facing client receives back.
type CheckoutSession struct {
	PaymentID string `json:"payment_id"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Service owns the money side of an order: creating checkout sessions with
// the processor and absorbing its webhook deliveries exactly once.
type Service struct {
	store      *postgresrepo.Store
	provider   CheckoutProvider
	idem       *redisrepo.IdempotencyStore
	cache      *redisrepo.Cache
	issuer     *issuance.Service
	dispatcher notify.Dispatcher
	uow        *uow.UoW
	logger     *slog.Logger
	cfg        Config
}

func New(
	store *postgresrepo.Store,
	prov CheckoutProvider,
	idem *redisrepo.IdempotencyStore,
	cache *redisrepo.Cache,
	issuer *issuance.Service,
	dispatcher notify.Dispatcher,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.CheckoutLockTTL <= 0 {
		cfg.CheckoutLockTTL = 30 * time.Second
	}
	if cfg.CheckoutResultTTL <= 0 {
		cfg.CheckoutResultTTL = 10 * time.Minute
	}
	if dispatcher == nil {
		dispatcher = notify.Noop{}
	}

	return &Service{
		store:      store,
		provider:   prov,
		idem:       idem,
		cache:      cache,
		issuer:     issuer,
		dispatcher: dispatcher,
		uow:        uow.NewUoW(store),
		logger:     logger,
		cfg:        cfg,
	}
}

// CreateCheckoutSession takes the order to the processor. Concurrent calls
// for the same order are serialized through a Redis lock; retries inside the
// result TTL get the original session back instead of a second charge page.
func (s *Service) CreateCheckoutSession(ctx context.Context, orderID uuid.UUID) (*CheckoutSession, error) {
	const op = "service.payments.CreateCheckoutSession"

	if s.idem == nil {
		cs, err := s.createSession(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return cs, nil
	}

	key := redisrepo.KeyIdemCheckout(orderID.String())

	if cs, ok, err := s.cachedSession(ctx, key); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	} else if ok {
		return cs, nil
	}

	acquired, err := s.idem.AcquireLock(ctx, key, s.cfg.CheckoutLockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !acquired {
		// The lock holder may have finished between our read and SetNX.
		if cs, ok, err := s.cachedSession(ctx, key); err == nil && ok {
			return cs, nil
		}
		// A holder that crashed or let its lock expire leaves neither a
		// lock nor a result behind; take over instead of bouncing the
		// caller.
		if locked, lockErr := s.idem.IsLocked(ctx, key); lockErr == nil && !locked {
			acquired, err = s.idem.AcquireLock(ctx, key, s.cfg.CheckoutLockTTL)
			if err != nil {
				return nil, fmt.Errorf("%s:%w", op, err)
			}
		}
		if !acquired {
			return nil, fmt.Errorf("%s:%w", op, ErrCheckoutInProgress)
		}
	}

	cs, err := s.createSession(ctx, orderID)
	if err != nil {
		if relErr := s.idem.Release(ctx, key); relErr != nil {
			s.logger.Warn("checkout lock release failed",
				"order_id", orderID, "error", relErr)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if payload, err := json.Marshal(cs); err == nil {
		// Overwrites the LOCK value on the same key, which both stores the
		// result and releases the lock in one step.
		if saveErr := s.idem.SaveResult(ctx, key, string(payload)); saveErr != nil {
			s.logger.Warn("checkout result save failed",
				"order_id", orderID, "error", saveErr)
		}
	}

	return cs, nil
}

func (s *Service) cachedSession(ctx context.Context, key string) (*CheckoutSession, bool, error) {
	res, ok, err := s.idem.GetResult(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	var cs CheckoutSession
	if err := json.Unmarshal([]byte(res), &cs); err != nil {
		return nil, false, nil
	}

	return &cs, true, nil
}

func (s *Service) createSession(ctx context.Context, orderID uuid.UUID) (*CheckoutSession, error) {
	o, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if o.Status != domain.OrderDraft && o.Status != domain.OrderPending {
		return nil, ErrOrderNotPayable
	}

	// A pending attempt whose session is still live is the canonical one;
	// the buyer gets the same payment page back, not a second charge.
	if p, err := s.store.Payments().GetPendingByOrder(ctx, orderID); err == nil {
		if p.CheckoutURL != "" {
			return &CheckoutSession{
				PaymentID: p.ID.String(),
				SessionID: p.ProviderSessionID,
				URL:       p.CheckoutURL,
			}, nil
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	items, err := s.store.Orders().ListItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrOrderEmpty
	}

	lineItems := make([]provider.LineItem, 0, len(items))
	for _, it := range items {
		tt, err := s.store.Inventory().GetTicketType(ctx, it.TicketTypeID)
		if err != nil {
			return nil, err
		}
		lineItems = append(lineItems, provider.LineItem{
			Name:           tt.Name,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
		})
	}

	// The external call happens outside any database transaction; a hung
	// processor must not pin a connection or row locks.
	session, err := s.provider.CreateCheckoutSession(ctx, provider.CheckoutParams{
		OrderID:     o.ID.String(),
		AmountCents: o.Totals.TotalCents,
		Currency:    s.cfg.Currency,
		LineItems:   lineItems,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	payment := &domain.Payment{
		ID:                uuid.New(),
		OrderID:           o.ID,
		ProviderSessionID: session.ID,
		ProviderIntentID:  session.IntentID,
		Status:            domain.PaymentPending,
		AmountCents:       o.Totals.TotalCents,
		CheckoutURL:       session.URL,
	}

	err = s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		cur, err := s.store.Orders().With(tx).GetForUpdate(ctx, o.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if cur.Status != domain.OrderDraft && cur.Status != domain.OrderPending {
			return ErrOrderNotPayable
		}

		if err := s.store.Payments().With(tx).Insert(ctx, payment); err != nil {
			return err
		}

		if cur.Status == domain.OrderDraft {
			if _, err := s.store.Orders().With(tx).SetStatus(ctx, cur.ID, domain.OrderPending); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutSession{
		PaymentID: payment.ID.String(),
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

// HandleWebhook absorbs one provider delivery. The dedup guard row is
// inserted before the signature check: a hard signature reject surfaces an
// error, the transaction rolls back, and the guard row vanishes with it, so
// an invalid delivery changes nothing at all.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, sigHeader string) error {
	const op = "service.payments.HandleWebhook"

	payload, err := provider.ParseWebhook(body)
	if err != nil {
		monitoring.WebhookEvent("malformed")
		return fmt.Errorf("%s:%w: %w", op, ErrMalformedDelivery, err)
	}

	err = s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		ev := &domain.WebhookEvent{
			ID:              uuid.New(),
			Provider:        provider.Name,
			ProviderEventID: payload.EventID,
			EventType:       payload.Type,
		}

		if err := s.store.Payments().With(tx).InsertWebhookEvent(ctx, ev); err != nil {
			if errors.Is(err, repository.ErrDuplicateWebhook) {
				return ErrDuplicateDelivery
			}
			return err
		}

		if err := provider.VerifySignature(s.cfg.WebhookSecret, body, sigHeader, time.Now()); err != nil {
			return ErrSignatureInvalid
		}

		switch payload.Type {
		case provider.EventPaymentSucceeded:
			if err := s.applySucceeded(ctx, tx, payload, after); err != nil {
				return err
			}
		case provider.EventPaymentFailed:
			if err := s.applyFailed(ctx, tx, payload, after); err != nil {
				return err
			}
		case provider.EventPaymentRefunded:
			if err := s.applyRefunded(ctx, tx, payload, after); err != nil {
				return err
			}
		default:
			// Unknown event kinds are acknowledged so the provider stops
			// retrying them; the guard row records that we saw it.
			s.logger.Info("ignoring webhook event of unknown type",
				"event_id", payload.EventID, "type", payload.Type)
		}

		return s.store.Payments().With(tx).MarkWebhookHandled(ctx, ev.ID)
	})
	if err != nil {
		monitoring.WebhookEvent(webhookOutcome(err))
		return fmt.Errorf("%s:%w", op, err)
	}

	monitoring.WebhookEvent("handled")

	return nil
}

func (s *Service) applySucceeded(
	ctx context.Context,
	tx postgresrepo.DB,
	payload *provider.WebhookPayload,
	after func(uow.AfterCommit),
) error {
	p, o, err := s.lockPaymentAndOrder(ctx, tx, payload.SessionID)
	if err != nil {
		return err
	}

	if o.Status == domain.OrderPaid {
		// A replayed success under a fresh event id. Everything it asks for
		// already happened.
		return nil
	}

	if o.Status.Terminal() {
		// The money moved but the order is gone. Record the success so the
		// books match the processor and leave the refund to an operator.
		s.logger.Warn("payment succeeded for dead order, manual refund required",
			"order_id", o.ID, "order_status", o.Status, "session_id", payload.SessionID)
		return s.store.Payments().With(tx).SetStatus(
			ctx, p.ID, domain.PaymentSucceeded, payload.IntentID, payload.ReceiptURL)
	}

	if err := s.store.Payments().With(tx).SetStatus(
		ctx, p.ID, domain.PaymentSucceeded, payload.IntentID, payload.ReceiptURL,
	); err != nil {
		return err
	}

	if _, err := s.store.Orders().With(tx).SetStatus(ctx, o.ID, domain.OrderPaid); err != nil {
		return err
	}
	o.Status = domain.OrderPaid

	items, err := s.store.Orders().With(tx).ListItems(ctx, o.ID)
	if err != nil {
		return err
	}

	// The hold converts into owned tickets; the reservation rows go away and
	// the cached availability of every affected type is stale.
	if err := s.store.Reservations().With(tx).DeleteByOrder(ctx, o.ID); err != nil {
		return err
	}

	if _, err := s.issuer.IssueForOrderTx(ctx, tx, o, after); err != nil {
		return err
	}

	after(func(ctx context.Context) {
		for _, it := range items {
			s.invalidate(ctx, it.TicketTypeID)
		}
	})

	return nil
}

func (s *Service) applyFailed(
	ctx context.Context,
	tx postgresrepo.DB,
	payload *provider.WebhookPayload,
	after func(uow.AfterCommit),
) error {
	p, o, err := s.lockPaymentAndOrder(ctx, tx, payload.SessionID)
	if err != nil {
		return err
	}

	if p.Status != domain.PaymentPending {
		return nil
	}

	// The order stays pending: the buyer can start another attempt while
	// the reservation holds.
	if err := s.store.Payments().With(tx).SetStatus(
		ctx, p.ID, domain.PaymentFailed, payload.IntentID, "",
	); err != nil {
		return err
	}

	n := notify.Notification{
		Kind:    notify.KindPaymentFailed,
		OrderID: o.ID.String(),
		EventID: o.EventID,
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

	return nil
}

func (s *Service) applyRefunded(
	ctx context.Context,
	tx postgresrepo.DB,
	payload *provider.WebhookPayload,
	after func(uow.AfterCommit),
) error {
	_, o, err := s.lockPaymentAndOrder(ctx, tx, payload.SessionID)
	if err != nil {
		return err
	}

	target := domain.OrderRefunded
	if payload.Partial {
		target = domain.OrderPartiallyRefunded
	}

	if o.Status == target {
		return nil
	}

	if _, err := s.store.Orders().With(tx).SetStatus(ctx, o.ID, target); err != nil {
		if errors.Is(err, repository.ErrIllegalTransition) {
			s.logger.Warn("refund delivery for order not in paid state",
				"order_id", o.ID, "order_status", o.Status)
			return nil
		}
		return err
	}

	// Full refunds void every ticket; a partial refund keeps them live and
	// leaves per-ticket voiding to support tooling.
	if !payload.Partial {
		if _, err := s.store.Tickets().With(tx).UpdateStatusByOrder(
			ctx, o.ID, domain.TicketRefunded,
		); err != nil {
			return err
		}
	}

	items, err := s.store.Orders().With(tx).ListItems(ctx, o.ID)
	if err != nil {
		return err
	}

	n := notify.Notification{
		Kind:    notify.KindOrderRefunded,
		OrderID: o.ID.String(),
		EventID: o.EventID,
	}
	if o.Email != nil {
		n.Email = *o.Email
	}

	after(func(ctx context.Context) {
		for _, it := range items {
			s.invalidate(ctx, it.TicketTypeID)
		}
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			s.logger.Warn("notification dispatch failed",
				"order_id", n.OrderID, "error", err)
		}
	})

	return nil
}

func (s *Service) lockPaymentAndOrder(
	ctx context.Context,
	tx postgresrepo.DB,
	sessionID string,
) (*domain.Payment, *domain.Order, error) {
	p, err := s.store.Payments().With(tx).GetBySessionForUpdate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrPaymentNotFound
		}
		return nil, nil, err
	}

	o, err := s.store.Orders().With(tx).GetForUpdate(ctx, p.OrderID)
	if err != nil {
		return nil, nil, err
	}

	return p, o, nil
}

func (s *Service) invalidate(ctx context.Context, ticketTypeID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateTicketType(ctx, ticketTypeID)
	}
}

func webhookOutcome(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateDelivery):
		return "duplicate"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrPaymentNotFound):
		return "unknown_session"
	}

	return "error"
}
