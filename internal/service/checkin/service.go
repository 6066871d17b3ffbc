package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/monitoring"
	"github.com/boxoffice-dev/boxoffice/internal/qrtoken"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	"github.com/boxoffice-dev/boxoffice/internal/uow"
)

// ScanInput is one gate scan. EventID is the event the scanner is staffed
// for; a valid ticket for a different event is rejected, not redeemed.
type ScanInput struct {
	RawToken    string
	EventID     int64
	Actor       string
	DeviceLabel string
}

type ScanResult struct {
	Ticket    *domain.Ticket
	ScannedAt time.Time
}

// Service redeems tickets at the door. Signature and expiry checks happen
// before any database work so a flood of junk scans never reaches Postgres.
type Service struct {
	store *postgresrepo.Store
	codec *qrtoken.Codec
	uow   *uow.UoW
}

func New(store *postgresrepo.Store, codec *qrtoken.Codec) *Service {
	return &Service{
		store: store,
		codec: codec,
		uow:   uow.NewUoW(store),
	}
}

// Scan validates the presented token and records the redemption. Exactly one
// scan per ticket ever succeeds; every later attempt reports when and by
// whom the first one happened.
func (s *Service) Scan(ctx context.Context, in ScanInput) (*ScanResult, error) {
	const op = "service.checkin.Scan"

	token, payload, err := s.decode(in.RawToken)
	if err != nil {
		monitoring.Scan(scanOutcome(err))
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var res ScanResult

	err = s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		repo := s.store.Tickets().With(tx)

		t, err := repo.LockByToken(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrRowLocked):
				return ErrTicketLocked
			case errors.Is(err, repository.ErrNotFound):
				return ErrTicketNotFound
			}
			return err
		}

		// A signed payload naming another event means the QR was minted
		// for a different ticket body. Treat it like a bad signature.
		if payload != nil && payload.EventID != t.EventID {
			return ErrSignatureInvalid
		}

		if t.EventID != in.EventID {
			return ErrWrongEvent
		}

		if t.Status != domain.TicketActive {
			return ErrTicketNotActive
		}

		if prev, err := repo.GetCheckIn(ctx, t.ID); err == nil {
			return alreadyCheckedIn(prev)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		c := &domain.CheckIn{
			ID:          uuid.New(),
			TicketID:    t.ID,
			EventID:     t.EventID,
			Actor:       in.Actor,
			DeviceLabel: in.DeviceLabel,
		}
		if err := repo.InsertCheckIn(ctx, c); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				if prev, lookupErr := repo.GetCheckIn(ctx, t.ID); lookupErr == nil {
					return alreadyCheckedIn(prev)
				}
				return alreadyCheckedIn(&domain.CheckIn{ScannedAt: time.Now()})
			}
			return err
		}

		res = ScanResult{Ticket: t, ScannedAt: c.ScannedAt}

		return nil
	})
	if err != nil {
		monitoring.Scan(scanOutcome(err))
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	monitoring.Scan("accepted")

	return &res, nil
}

// decode accepts both the signed wire form and the legacy bare token that
// pre-dates signing. Bare tokens skip signature and expiry checks and rely
// on the database lookup alone.
func (s *Service) decode(raw string) (string, *qrtoken.Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, ErrTicketNotFound
	}

	if !strings.Contains(raw, ".") {
		return raw, nil, nil
	}

	p, err := s.codec.Verify(raw, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, qrtoken.ErrExpired):
			return "", nil, ErrTokenExpired
		default:
			return "", nil, ErrSignatureInvalid
		}
	}

	return p.Token, p, nil
}

func alreadyCheckedIn(prev *domain.CheckIn) error {
	return &AlreadyCheckedInError{
		Actor:     prev.Actor,
		ScannedAt: prev.ScannedAt.Format(time.RFC3339),
	}
}

func scanOutcome(err error) string {
	var dup *AlreadyCheckedInError

	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTicketNotFound):
		return "not_found"
	case errors.Is(err, ErrTicketLocked):
		return "locked"
	case errors.Is(err, ErrTicketNotActive):
		return "not_active"
	case errors.Is(err, ErrWrongEvent):
		return "wrong_event"
	case errors.As(err, &dup):
		return "duplicate"
	}

	return "error"
}
