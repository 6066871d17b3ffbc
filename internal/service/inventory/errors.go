package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrSalesClosed        = errors.New("ticket type is not on sale")
)

// InsufficientInventoryError reports a failed ledger check together with the
// units still purchasable, so the caller can surface the real count instead
// of partially fulfilling.
type InsufficientInventoryError struct {
	Available int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: %d available", e.Available)
}

// LimitScope says which cap was hit; the HTTP layer messages the two
// differently.
type LimitScope string

const (
	LimitPerUser  LimitScope = "per_user"
	LimitPerOrder LimitScope = "per_order"
)

type LimitExceededError struct {
	Scope LimitScope
	Limit int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit of %d exceeded", e.Scope, e.Limit)
}
