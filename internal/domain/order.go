package domain

type OrderStatus string

const (
	OrderDraft             OrderStatus = "draft"
	OrderPending           OrderStatus = "pending"
	OrderPaid              OrderStatus = "paid"
	OrderCancelled         OrderStatus = "cancelled"
	OrderExpired           OrderStatus = "expired"
	OrderRefunded          OrderStatus = "refunded"
	OrderPartiallyRefunded OrderStatus = "partially_refunded"
)

// orderTransitions is the single source of truth for legal status changes.
// The payment flow always moves draft->pending before paid, so draft->paid
// is deliberately absent.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:   {OrderPending, OrderCancelled, OrderExpired},
	OrderPending: {OrderPaid, OrderCancelled, OrderExpired},
	OrderPaid:    {OrderRefunded, OrderPartiallyRefunded},
}

// CanTransition reports whether from -> to is a legal order status change.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition out of s exists.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// ItemsMutable reports whether order items may be added, updated or removed.
func (s OrderStatus) ItemsMutable() bool {
	return s == OrderDraft || s == OrderPending
}

// DeriveTotals recomputes order totals from item snapshots. Discount, fee
// and tax amounts come from the order row; this core never computes fee or
// tax schedules, it only keeps the sum consistent.
func DeriveTotals(prev Totals, items []OrderItem) Totals {
	var subtotal int64
	for _, it := range items {
		subtotal += it.LineTotalCents
	}

	t := Totals{
		SubtotalCents: subtotal,
		DiscountCents: prev.DiscountCents,
		FeeCents:      prev.FeeCents,
		TaxCents:      prev.TaxCents,
	}
	t.TotalCents = t.SubtotalCents - t.DiscountCents + t.FeeCents + t.TaxCents

	return t
}
