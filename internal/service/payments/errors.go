package payments

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderEmpty         = errors.New("order has no items")
	ErrOrderNotPayable    = errors.New("order cannot be paid in its current state")
	ErrCheckoutInProgress = errors.New("checkout session creation already in progress")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrMalformedDelivery  = errors.New("malformed webhook delivery")
	ErrSignatureInvalid   = errors.New("webhook signature invalid")

	// ErrDuplicateDelivery marks an already-processed webhook. The transport
	// acknowledges it with a success status so the provider stops retrying.
	ErrDuplicateDelivery = errors.New("webhook delivery already processed")
)
