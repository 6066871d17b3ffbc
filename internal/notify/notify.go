// Package notify hands finished fulfillment facts to the external
// notification dispatcher. Delivery is fire-and-forget: the core commits
// first and publishes after, and a publish failure is logged, never
// propagated back into the transaction.
package notify

import (
	"context"
)

const (
	KindTicketsIssued   = "tickets.issued"
	KindPaymentFailed   = "payment.failed"
	KindOrderRefunded   = "order.refunded"
)

type Notification struct {
	Kind        string `json:"kind"`
	OrderID     string `json:"order_id"`
	EventID     int64  `json:"event_id"`
	Email       string `json:"email,omitempty"`
	TicketCount int    `json:"ticket_count,omitempty"`
}

// Dispatcher is the external notification collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Noop drops notifications, used when no broker is configured.
type Noop struct{}

func (Noop) Dispatch(context.Context, Notification) error { return nil }
