package issuance

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderNotPaid  = errors.New("order is not paid")
)
