package domain

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Event struct {
	ID     int64
	Title  string
	Starts time.Time
	Ends   time.Time
}

// TicketType is a priced, quantity-bounded admission category of an event.
// QuantityTotal == nil means unlimited inventory.
type TicketType struct {
	ID            int64
	EventID       int64
	Name          string
	PriceCents    int64
	QuantityTotal *int64
	PerUserLimit  int64
	PerOrderLimit int64
	Active        bool
	SalesStartAt  *time.Time
	SalesEndAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SalesOpen reports whether the type is active and inside its sales window.
func (t *TicketType) SalesOpen(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.SalesStartAt != nil && now.Before(*t.SalesStartAt) {
		return false
	}
	if t.SalesEndAt != nil && now.After(*t.SalesEndAt) {
		return false
	}
	return true
}

// Reservation is a time-boxed claim on inventory tied to an unpaid order.
// A reservation past ExpiresAt is dead even before the sweep deletes it.
type Reservation struct {
	ID           uuid.UUID
	TicketTypeID int64
	OrderID      uuid.UUID
	Quantity     int64
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Purchaser identifies who is buying. UserID is nil for guest checkout.
type Purchaser struct {
	UserID *int64
	Email  string
	Name   string
}

type Totals struct {
	SubtotalCents int64
	DiscountCents int64
	FeeCents      int64
	TaxCents      int64
	TotalCents    int64
}

type Order struct {
	ID        uuid.UUID
	EventID   int64
	UserID    *int64
	Email     *string
	Status    OrderStatus
	Totals    Totals
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem snapshots the unit price at add-time; later price edits to the
// ticket type never alter an existing order.
type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	TicketTypeID   int64
	Quantity       int64
	UnitPriceCents int64
	LineTotalCents int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Payment struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	ProviderSessionID string
	ProviderIntentID  string
	Status            PaymentStatus
	AmountCents       int64
	// CheckoutURL is the hosted payment page of the session. Kept so a
	// retry after the cached result expires can hand back the live session
	// instead of minting a second one.
	CheckoutURL string
	ReceiptURL  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebhookEvent is the idempotency record for provider deliveries. The
// (Provider, ProviderEventID) pair is unique; a second insert of the same
// pair is how a replayed delivery is detected.
type WebhookEvent struct {
	ID              uuid.UUID
	Provider        string
	ProviderEventID string
	EventType       string
	SignatureValid  bool
	HandledAt       *time.Time
	CreatedAt       time.Time
}

type Attendee struct {
	ID        int64
	UserID    *int64
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Ticket struct {
	ID           uuid.UUID
	EventID      int64
	OrderID      uuid.UUID
	OrderItemID  uuid.UUID
	TicketTypeID int64
	AttendeeID   int64
	Token        string
	SignedToken  string
	ShortCode    string
	Status       TicketStatus
	IssuedAt     time.Time
}

// CheckIn is the redemption record. At most one exists per ticket, enforced
// by a uniqueness constraint on TicketID.
type CheckIn struct {
	ID          uuid.UUID
	TicketID    uuid.UUID
	EventID     int64
	Actor       string
	DeviceLabel string
	ScannedAt   time.Time
}

type OrderWithItems struct {
	Order   Order
	Items   []OrderItem
	Tickets []Ticket
}
