package orders

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrItemNotFound      = errors.New("order item not found")
	ErrOrderNotEditable  = errors.New("order items can no longer be changed")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrRateLimited       = errors.New("rate limited")
)
