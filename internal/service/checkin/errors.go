package checkin

import "errors"

var (
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrTicketLocked     = errors.New("ticket is being processed")
	ErrTicketNotActive  = errors.New("ticket is not active")
	ErrWrongEvent       = errors.New("ticket belongs to a different event")
)

// AlreadyCheckedInError carries the original scan so the gate can show the
// operator when and where the first redemption happened.
type AlreadyCheckedInError struct {
	Actor     string
	ScannedAt string
}

func (e *AlreadyCheckedInError) Error() string {
	return "ticket already checked in at " + e.ScannedAt
}
