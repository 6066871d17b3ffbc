package repository

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRowLocked         = errors.New("row locked by another transaction")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrDuplicateWebhook  = errors.New("webhook event already recorded")
)
