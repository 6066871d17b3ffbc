package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/monitoring"
	redisx "github.com/boxoffice-dev/boxoffice/internal/redis"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	redisrepo "github.com/boxoffice-dev/boxoffice/internal/repository/redis"
	"github.com/boxoffice-dev/boxoffice/internal/service/inventory"
	"github.com/boxoffice-dev/boxoffice/internal/uow"
)

type Config struct {
	// HoldTTL bounds how long an order item holds inventory before payment.
	HoldTTL time.Duration
	// OrderTTL is how long a draft/pending order lives before the sweep
	// expires it.
	OrderTTL time.Duration
	// SweepBatch caps how many expired orders one sweep pass handles.
	SweepBatch int
}

// Service owns the order lifecycle: item mutations, totals, status
// transitions, and the expiry sweeps. Every inventory-affecting mutation
// runs in one transaction with the ledger check.
type Service struct {
	store   *postgresrepo.Store
	ledger  *inventory.Ledger
	cache   *redisrepo.Cache
	pubsub  *redisx.InventoryPubSub
	limiter *redisrepo.SlidingWindowLimiter
	uow     *uow.UoW
	cfg     Config
}

func New(
	store *postgresrepo.Store,
	ledger *inventory.Ledger,
	cache *redisrepo.Cache,
	pubsub *redisx.InventoryPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 10 * time.Minute
	}

	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 30 * time.Minute
	}

	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	return &Service{
		store:   store,
		ledger:  ledger,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		uow:     uow.NewUoW(store),
		cfg:     cfg,
	}
}

// Create opens a DRAFT order for the event. UserID may be nil for guest
// checkout as long as an email is present.
func (s *Service) Create(ctx context.Context, eventID int64, purchaser domain.Purchaser) (*domain.Order, error) {
	const op = "service.orders.Create"

	if purchaser.UserID == nil && purchaser.Email == "" {
		return nil, fmt.Errorf("%s: purchaser needs a user id or an email", op)
	}

	o, err := s.store.Orders().Create(ctx, eventID, purchaser, s.cfg.OrderTTL)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return o, nil
}

// AddItem puts quantity units of a ticket type on the order. The ledger
// check, the price snapshot, the hold and the totals update all commit or
// roll back together.
func (s *Service) AddItem(
	ctx context.Context,
	orderID uuid.UUID,
	ticketTypeID int64,
	quantity int64,
	rlKey string,
) (*domain.OrderItem, error) {
	const op = "service.orders.AddItem"

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: retry in %s:%w", op, retry, ErrRateLimited)
		}
	}

	var item *domain.OrderItem

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		o, err := s.editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		tt, _, err := s.ledger.EnsureCapacity(ctx, tx, o, ticketTypeID, quantity)
		if err != nil {
			monitoring.ReservationAttempt(reservationOutcome(err))
			return err
		}

		it, err := s.store.Orders().
			With(tx).
			UpsertItem(ctx, o.ID, tt.ID, quantity, tt.PriceCents)
		if err != nil {
			return err
		}

		// Unlimited types carry no hold; the ledger treats them as always
		// available.
		if tt.QuantityTotal != nil {
			if _, err := s.store.Reservations().
				With(tx).
				Upsert(ctx, tt.ID, o.ID, quantity, s.cfg.HoldTTL); err != nil {
				return err
			}
		}

		if err := s.recomputeTotals(ctx, tx, o); err != nil {
			return err
		}

		item = it

		monitoring.ReservationAttempt("ok")

		after(func(ctx context.Context) {
			s.invalidate(ctx, tt.ID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return item, nil
}

// UpdateItem resizes an existing line. The ledger check runs against the
// full new quantity with the order's previous hold excluded.
func (s *Service) UpdateItem(
	ctx context.Context,
	orderID, itemID uuid.UUID,
	quantity int64,
) (*domain.OrderItem, error) {
	const op = "service.orders.UpdateItem"

	var item *domain.OrderItem

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		o, err := s.editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		prev, err := s.store.Orders().With(tx).GetItem(ctx, o.ID, itemID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}

		tt, _, err := s.ledger.EnsureCapacity(ctx, tx, o, prev.TicketTypeID, quantity)
		if err != nil {
			monitoring.ReservationAttempt(reservationOutcome(err))
			return err
		}

		it, err := s.store.Orders().
			With(tx).
			UpsertItem(ctx, o.ID, tt.ID, quantity, tt.PriceCents)
		if err != nil {
			return err
		}

		if tt.QuantityTotal != nil {
			if _, err := s.store.Reservations().
				With(tx).
				Upsert(ctx, tt.ID, o.ID, quantity, s.cfg.HoldTTL); err != nil {
				return err
			}
		}

		if err := s.recomputeTotals(ctx, tx, o); err != nil {
			return err
		}

		item = it

		after(func(ctx context.Context) {
			s.invalidate(ctx, tt.ID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return item, nil
}

// RemoveItem drops a line and its hold, returning the capacity to the pool
// immediately.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	const op = "service.orders.RemoveItem"

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		o, err := s.editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		it, err := s.store.Orders().With(tx).GetItem(ctx, o.ID, itemID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}

		if err := s.store.Orders().With(tx).DeleteItem(ctx, o.ID, it.ID); err != nil {
			return err
		}

		if err := s.store.Reservations().
			With(tx).
			DeleteByOrderAndType(ctx, o.ID, it.TicketTypeID); err != nil {
			return err
		}

		if err := s.recomputeTotals(ctx, tx, o); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.invalidate(ctx, it.TicketTypeID)
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// CheckAvailability is the non-mutating probe behind POST
// orders/:id/items/check. It takes the same locks as AddItem so its answer
// is exact at the moment it returns, and writes nothing.
func (s *Service) CheckAvailability(
	ctx context.Context,
	orderID uuid.UUID,
	ticketTypeID int64,
	quantity int64,
) (int64, error) {
	const op = "service.orders.CheckAvailability"

	var available int64

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		_ func(uow.AfterCommit),
	) error {
		o, err := s.editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		_, avail, err := s.ledger.EnsureCapacity(ctx, tx, o, ticketTypeID, quantity)
		if err != nil {
			return err
		}

		available = avail

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return available, nil
}

// Cancel voids a draft/pending order and releases its holds atomically.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	const op = "service.orders.Cancel"

	var cancelled *domain.Order

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		items, err := s.store.Orders().With(tx).ListItems(ctx, orderID)
		if err != nil {
			return err
		}

		o, err := s.store.Orders().With(tx).SetStatus(ctx, orderID, domain.OrderCancelled)
		if err != nil {
			return mapStatusErr(err)
		}

		if err := s.store.Reservations().With(tx).DeleteByOrder(ctx, o.ID); err != nil {
			return err
		}

		cancelled = o

		after(func(ctx context.Context) {
			for _, it := range items {
				s.invalidate(ctx, it.TicketTypeID)
			}
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return cancelled, nil
}

// Get returns the order with its items and any issued tickets.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*domain.OrderWithItems, error) {
	const op = "service.orders.Get"

	o, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	items, err := s.store.Orders().ListItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	tickets, err := s.store.Tickets().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &domain.OrderWithItems{Order: *o, Items: items, Tickets: tickets}, nil
}

// Sweep reclaims expired reservations and expires overdue draft/pending
// orders. It is safe to run from several processes at once: the expired
// order query skips rows another sweeper holds.
func (s *Service) Sweep(ctx context.Context) error {
	const op = "service.orders.Sweep"

	released, err := s.store.Reservations().ExpireReservations(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	monitoring.SweepReclaimed("reservations", released)

	var expired int64
	err = s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		_ func(uow.AfterCommit),
	) error {
		ids, err := s.store.Orders().With(tx).ListExpired(ctx, s.cfg.SweepBatch)
		if err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := s.store.Orders().With(tx).SetStatus(ctx, id, domain.OrderExpired); err != nil {
				return err
			}
			if err := s.store.Reservations().With(tx).DeleteByOrder(ctx, id); err != nil {
				return err
			}
			expired++
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	monitoring.SweepReclaimed("orders", expired)

	return nil
}

func (s *Service) editableOrder(
	ctx context.Context,
	tx postgresrepo.DB,
	orderID uuid.UUID,
) (*domain.Order, error) {
	o, err := s.store.Orders().With(tx).GetForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if !o.Status.ItemsMutable() {
		return nil, ErrOrderNotEditable
	}

	return o, nil
}

func (s *Service) recomputeTotals(ctx context.Context, tx postgresrepo.DB, o *domain.Order) error {
	items, err := s.store.Orders().With(tx).ListItems(ctx, o.ID)
	if err != nil {
		return err
	}

	return s.store.Orders().With(tx).UpdateTotals(ctx, o.ID, domain.DeriveTotals(o.Totals, items))
}

func (s *Service) invalidate(ctx context.Context, ticketTypeID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateTicketType(ctx, ticketTypeID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishInventoryChanged(ctx, ticketTypeID)
	}
}

func mapStatusErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrOrderNotFound
	case errors.Is(err, repository.ErrIllegalTransition):
		return ErrIllegalTransition
	default:
		return err
	}
}

func reservationOutcome(err error) string {
	var insufficient *inventory.InsufficientInventoryError
	var limit *inventory.LimitExceededError

	switch {
	case errors.As(err, &insufficient):
		return "insufficient"
	case errors.As(err, &limit):
		return "limit"
	default:
		return "error"
	}
}
