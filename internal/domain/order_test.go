package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"draft to pending", OrderDraft, OrderPending, true},
		{"draft to cancelled", OrderDraft, OrderCancelled, true},
		{"draft to expired", OrderDraft, OrderExpired, true},
		{"draft to paid skips pending", OrderDraft, OrderPaid, false},
		{"pending to paid", OrderPending, OrderPaid, true},
		{"pending to cancelled", OrderPending, OrderCancelled, true},
		{"pending to expired", OrderPending, OrderExpired, true},
		{"pending back to draft", OrderPending, OrderDraft, false},
		{"paid to refunded", OrderPaid, OrderRefunded, true},
		{"paid to partially refunded", OrderPaid, OrderPartiallyRefunded, true},
		{"paid to cancelled", OrderPaid, OrderCancelled, false},
		{"cancelled is final", OrderCancelled, OrderPending, false},
		{"expired is final", OrderExpired, OrderPaid, false},
		{"refunded is final", OrderRefunded, OrderPaid, false},
		{"same status is not a transition", OrderPending, OrderPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderDraft.Terminal())
	assert.False(t, OrderPending.Terminal())
	assert.False(t, OrderPaid.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.True(t, OrderExpired.Terminal())
	assert.True(t, OrderRefunded.Terminal())
	assert.True(t, OrderPartiallyRefunded.Terminal())
}

func TestOrderStatusItemsMutable(t *testing.T) {
	assert.True(t, OrderDraft.ItemsMutable())
	assert.True(t, OrderPending.ItemsMutable())
	assert.False(t, OrderPaid.ItemsMutable())
	assert.False(t, OrderCancelled.ItemsMutable())
	assert.False(t, OrderExpired.ItemsMutable())
}

func TestDeriveTotals(t *testing.T) {
	prev := Totals{DiscountCents: 500, FeeCents: 300, TaxCents: 200}

	items := []OrderItem{
		{Quantity: 2, UnitPriceCents: 2500, LineTotalCents: 5000},
		{Quantity: 1, UnitPriceCents: 1000, LineTotalCents: 1000},
	}

	got := DeriveTotals(prev, items)

	assert.Equal(t, int64(6000), got.SubtotalCents)
	assert.Equal(t, int64(500), got.DiscountCents)
	assert.Equal(t, int64(300), got.FeeCents)
	assert.Equal(t, int64(200), got.TaxCents)
	assert.Equal(t, int64(6000-500+300+200), got.TotalCents)
}

func TestDeriveTotalsEmptyOrder(t *testing.T) {
	got := DeriveTotals(Totals{FeeCents: 100}, nil)

	assert.Equal(t, int64(0), got.SubtotalCents)
	assert.Equal(t, int64(100), got.TotalCents)
}
