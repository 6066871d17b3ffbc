package httpgin

import (
	"time"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
)

type CreateOrderRequest struct {
	EventID int64  `json:"event_id" binding:"required"`
	UserID  *int64 `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

type AddItemRequest struct {
	TicketTypeID int64 `json:"ticket_type_id" binding:"required"`
	Quantity     int64 `json:"quantity" binding:"required,gt=0"`
}

type CheckItemRequest struct {
	TicketTypeID int64 `json:"ticket_type_id" binding:"required"`
	Quantity     int64 `json:"quantity" binding:"required,gt=0"`
}

type UpdateItemRequest struct {
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

type CreateCheckoutSessionRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
}

type ScanRequest struct {
	Token       string `json:"token" binding:"required"`
	EventID     int64  `json:"event_id" binding:"required"`
	Actor       string `json:"actor"`
	DeviceLabel string `json:"device_label"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Available accompanies insufficient-inventory rejections so the client
	// can offer the remaining quantity.
	Available *int64 `json:"available,omitempty"`
}

type OrderResponse struct {
	ID            string              `json:"id"`
	EventID       int64               `json:"event_id"`
	UserID        *int64              `json:"user_id,omitempty"`
	Email         *string             `json:"email,omitempty"`
	Status        string              `json:"status"`
	SubtotalCents int64               `json:"subtotal_cents"`
	DiscountCents int64               `json:"discount_cents"`
	FeeCents      int64               `json:"fee_cents"`
	TaxCents      int64               `json:"tax_cents"`
	TotalCents    int64               `json:"total_cents"`
	ExpiresAt     time.Time           `json:"expires_at"`
	CreatedAt     time.Time           `json:"created_at"`
	Items         []OrderItemResponse `json:"items,omitempty"`
	Tickets       []TicketResponse    `json:"tickets,omitempty"`
}

type OrderItemResponse struct {
	ID             string `json:"id"`
	TicketTypeID   int64  `json:"ticket_type_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type TicketResponse struct {
	ID           string    `json:"id"`
	TicketTypeID int64     `json:"ticket_type_id"`
	QR           string    `json:"qr"`
	ShortCode    string    `json:"short_code"`
	Status       string    `json:"status"`
	IssuedAt     time.Time `json:"issued_at"`
}

type CheckAvailabilityResponse struct {
	Available int64 `json:"available"`
	// Unlimited is set for types without a quantity cap; Available is
	// meaningless when it is true.
	Unlimited bool `json:"unlimited,omitempty"`
}

type ScanResponse struct {
	TicketID  string    `json:"ticket_id"`
	ShortCode string    `json:"short_code"`
	Status    string    `json:"status"`
	ScannedAt time.Time `json:"scanned_at"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:            o.ID.String(),
		EventID:       o.EventID,
		UserID:        o.UserID,
		Email:         o.Email,
		Status:        string(o.Status),
		SubtotalCents: o.Totals.SubtotalCents,
		DiscountCents: o.Totals.DiscountCents,
		FeeCents:      o.Totals.FeeCents,
		TaxCents:      o.Totals.TaxCents,
		TotalCents:    o.Totals.TotalCents,
		ExpiresAt:     o.ExpiresAt,
		CreatedAt:     o.CreatedAt,
	}
}

func toItemResponse(it *domain.OrderItem) OrderItemResponse {
	return OrderItemResponse{
		ID:             it.ID.String(),
		TicketTypeID:   it.TicketTypeID,
		Quantity:       it.Quantity,
		UnitPriceCents: it.UnitPriceCents,
		LineTotalCents: it.LineTotalCents,
	}
}

func toOrderWithItemsResponse(ow *domain.OrderWithItems) OrderResponse {
	resp := toOrderResponse(&ow.Order)

	for i := range ow.Items {
		resp.Items = append(resp.Items, toItemResponse(&ow.Items[i]))
	}

	for i := range ow.Tickets {
		t := &ow.Tickets[i]
		resp.Tickets = append(resp.Tickets, TicketResponse{
			ID:           t.ID.String(),
			TicketTypeID: t.TicketTypeID,
			QR:           t.SignedToken,
			ShortCode:    t.ShortCode,
			Status:       string(t.Status),
			IssuedAt:     t.IssuedAt,
		})
	}

	return resp
}
