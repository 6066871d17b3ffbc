package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	redisrepo "github.com/boxoffice-dev/boxoffice/internal/repository/redis"
)

// Ledger computes how many units of a ticket type are still sellable. The
// mutating path (EnsureCapacity) only runs inside a caller's transaction,
// under the ticket type row lock, so two buyers cannot both observe the
// last unit.
type Ledger struct {
	store    *postgresrepo.Store
	cache    *redisrepo.Cache
	cacheTTL time.Duration
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache) *Ledger {
	return &Ledger{
		store:    store,
		cache:    cache,
		cacheTTL: 10 * time.Second,
	}
}

// Availability is the advisory read model for a ticket type. Available is
// nil for unlimited types.
type Availability struct {
	TicketTypeID int64  `json:"ticket_type_id"`
	Available    *int64 `json:"available"`
	SalesOpen    bool   `json:"sales_open"`
}

// EnsureCapacity locks the ticket type row in tx and verifies that the
// order may claim quantity units: global availability first, then the
// per-order and per-user caps. It returns the locked ticket type so the
// caller can snapshot the unit price under the same lock, plus the units
// currently available (-1 for unlimited types).
func (l *Ledger) EnsureCapacity(
	ctx context.Context,
	tx postgresrepo.DB,
	order *domain.Order,
	ticketTypeID int64,
	quantity int64,
) (*domain.TicketType, int64, error) {
	const op = "service.inventory.EnsureCapacity"

	if quantity <= 0 {
		return nil, 0, fmt.Errorf("%s: quantity must be positive", op)
	}

	repo := l.store.Inventory().With(tx)

	tt, err := repo.LockTicketType(ctx, ticketTypeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, fmt.Errorf("%s:%w", op, ErrTicketTypeNotFound)
		}
		return nil, 0, fmt.Errorf("%s:%w", op, err)
	}

	if tt.EventID != order.EventID {
		return nil, 0, fmt.Errorf("%s: ticket type belongs to another event:%w", op, ErrTicketTypeNotFound)
	}

	if !tt.SalesOpen(time.Now()) {
		return nil, 0, fmt.Errorf("%s:%w", op, ErrSalesClosed)
	}

	available := int64(-1)
	if tt.QuantityTotal != nil {
		available, err = l.availableLocked(ctx, repo, tt, order.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("%s:%w", op, err)
		}
		if available < quantity {
			return nil, available, fmt.Errorf("%s:%w", op, &InsufficientInventoryError{Available: available})
		}
	}

	if tt.PerOrderLimit > 0 && quantity > tt.PerOrderLimit {
		return nil, available, fmt.Errorf("%s:%w", op, &LimitExceededError{
			Scope: LimitPerOrder,
			Limit: tt.PerOrderLimit,
		})
	}

	if tt.PerUserLimit > 0 {
		claimed, err := repo.CountPurchaserClaims(ctx, tt.ID, order.UserID, order.Email, order.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("%s:%w", op, err)
		}
		if claimed+quantity > tt.PerUserLimit {
			return nil, available, fmt.Errorf("%s:%w", op, &LimitExceededError{
				Scope: LimitPerUser,
				Limit: tt.PerUserLimit,
			})
		}
	}

	return tt, available, nil
}

// availableLocked assumes the ticket type row lock is held. The count
// excludes the order's own live hold so resizing an item is checked against
// the full requested quantity, not blocked by the order's previous claim.
func (l *Ledger) availableLocked(
	ctx context.Context,
	repo *postgresrepo.InventoryRepo,
	tt *domain.TicketType,
	orderID uuid.UUID,
) (int64, error) {
	sold, err := repo.CountActiveTickets(ctx, tt.ID)
	if err != nil {
		return 0, err
	}

	held, err := repo.SumLiveReservations(ctx, tt.ID, orderID)
	if err != nil {
		return 0, err
	}

	available := *tt.QuantityTotal - sold - held
	if available < 0 {
		available = 0
	}

	return available, nil
}

// Summary is the lock-free, cached availability read used by the public
// endpoint. It may run slightly behind a committing purchase; the locked
// path is the only authority for selling.
func (l *Ledger) Summary(ctx context.Context, ticketTypeID int64) (*Availability, error) {
	const op = "service.inventory.Summary"

	load := func(ctx context.Context) (*Availability, error) {
		repo := l.store.Inventory()

		tt, err := repo.GetTicketType(ctx, ticketTypeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrTicketTypeNotFound
			}
			return nil, err
		}

		a := &Availability{
			TicketTypeID: tt.ID,
			SalesOpen:    tt.SalesOpen(time.Now()),
		}

		if tt.QuantityTotal != nil {
			sold, err := repo.CountActiveTickets(ctx, tt.ID)
			if err != nil {
				return nil, err
			}
			held, err := repo.SumLiveReservations(ctx, tt.ID, uuid.Nil)
			if err != nil {
				return nil, err
			}
			available := *tt.QuantityTotal - sold - held
			if available < 0 {
				available = 0
			}
			a.Available = &available
		}

		return a, nil
	}

	if l.cache == nil {
		return load(ctx)
	}

	a, err := redisrepo.GetOrSetJSON(
		ctx,
		l.cache,
		redisrepo.KeyTicketTypeAvailability(ticketTypeID),
		l.cacheTTL,
		load,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return a, nil
}
