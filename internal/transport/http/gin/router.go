package httpgin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/boxoffice-dev/boxoffice/internal/domain"
	"github.com/boxoffice-dev/boxoffice/internal/provider"
	"github.com/boxoffice-dev/boxoffice/internal/repository"
	"github.com/boxoffice-dev/boxoffice/internal/service"
	"github.com/boxoffice-dev/boxoffice/internal/service/checkin"
	"github.com/boxoffice-dev/boxoffice/internal/service/inventory"
	"github.com/boxoffice-dev/boxoffice/internal/service/orders"
	"github.com/boxoffice-dev/boxoffice/internal/service/payments"
)

const maxWebhookBody = 1 << 20

func NewRouter(
	svcs *service.Services,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health + metrics
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Orders
	r.POST("/orders", handleCreateOrder(svcs))
	r.GET("/orders/:id", handleGetOrder(svcs))
	r.POST("/orders/:id/cancel", handleCancelOrder(svcs))
	r.POST("/orders/:id/items", handleAddItem(svcs))
	r.POST("/orders/:id/items/check", handleCheckItem(svcs))
	r.PATCH("/orders/:id/items/:itemID", handleUpdateItem(svcs))
	r.DELETE("/orders/:id/items/:itemID", handleRemoveItem(svcs))

	// Payments
	r.POST("/payments/checkout-session", handleCreateCheckoutSession(svcs))
	r.POST("/webhooks/payment-provider", handlePaymentWebhook(svcs))

	// Check-in
	r.POST("/checkins/scan", handleScan(svcs))

	// Availability read model
	r.GET("/ticket-types/:id/availability", handleAvailability(svcs))

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Create order
// @Param    req body  CreateOrderRequest true "payload"
// @Success  201 {object} OrderResponse
// @Failure  400 {object} ErrorResponse
// @Router   /orders [post]
func handleCreateOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		o, err := svcs.Orders.Create(c.Request.Context(), req.EventID, domain.Purchaser{
			UserID: req.UserID,
			Email:  req.Email,
			Name:   req.Name,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, toOrderResponse(o))
	}
}

// @Summary  Get order with items and tickets
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} OrderResponse
// @Failure  404 {object} ErrorResponse
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		ow, err := svcs.Orders.Get(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toOrderWithItemsResponse(ow))
	}
}

// @Summary  Cancel order
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} OrderResponse
// @Failure  409 {object} ErrorResponse
// @Router   /orders/{id}/cancel [post]
func handleCancelOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		o, err := svcs.Orders.Cancel(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toOrderResponse(o))
	}
}

// @Summary  Add order item
// @Description Sets the order's line for the ticket type to the given
// @Description quantity. Posting a ticket type the order already holds
// @Description replaces that line's quantity rather than adding to it.
// @Param    id  path  string  true  "Order ID (uuid)"
// @Param    req body  AddItemRequest true "payload"
// @Success  201 {object} OrderItemResponse
// @Failure  409 {object} ErrorResponse "insufficient inventory / limits"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /orders/{id}/items [post]
func handleAddItem(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req AddItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		it, err := svcs.Orders.AddItem(
			c.Request.Context(),
			orderID,
			req.TicketTypeID,
			req.Quantity,
			"ip:"+c.ClientIP(),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, toItemResponse(it))
	}
}

// @Summary  Check availability for a prospective item
// @Param    id  path  string  true  "Order ID (uuid)"
// @Param    req body  CheckItemRequest true "payload"
// @Success  200 {object} CheckAvailabilityResponse
// @Failure  409 {object} ErrorResponse
// @Router   /orders/{id}/items/check [post]
func handleCheckItem(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req CheckItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		available, err := svcs.Orders.CheckAvailability(
			c.Request.Context(),
			orderID,
			req.TicketTypeID,
			req.Quantity,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := CheckAvailabilityResponse{Available: available}
		if available < 0 {
			resp = CheckAvailabilityResponse{Unlimited: true}
		}

		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Change item quantity
// @Param    id      path  string true "Order ID (uuid)"
// @Param    itemID  path  string true "Item ID (uuid)"
// @Param    req body  UpdateItemRequest true "payload"
// @Success  200 {object} OrderItemResponse
// @Failure  409 {object} ErrorResponse
// @Router   /orders/{id}/items/{itemID} [patch]
func handleUpdateItem(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		itemID, ok := parseUUIDParam(c, "itemID")
		if !ok {
			return
		}

		var req UpdateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		it, err := svcs.Orders.UpdateItem(c.Request.Context(), orderID, itemID, req.Quantity)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toItemResponse(it))
	}
}

// @Summary  Remove order item
// @Param    id      path  string true "Order ID (uuid)"
// @Param    itemID  path  string true "Item ID (uuid)"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Router   /orders/{id}/items/{itemID} [delete]
func handleRemoveItem(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		itemID, ok := parseUUIDParam(c, "itemID")
		if !ok {
			return
		}

		if err := svcs.Orders.RemoveItem(c.Request.Context(), orderID, itemID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary  Create checkout session (idempotent per order)
// @Param    req body  CreateCheckoutSessionRequest true "payload"
// @Success  201 {object} payments.CheckoutSession
// @Failure  409 {object} ErrorResponse "checkout already in progress"
// @Router   /payments/checkout-session [post]
func handleCreateCheckoutSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCheckoutSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		orderID, err := uuid.Parse(req.OrderID)
		if err != nil {
			badRequest(c, "invalid order_id")
			return
		}

		cs, err := svcs.Payments.CreateCheckoutSession(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, cs)
	}
}

// @Summary  Payment provider webhook
// @Success  200 {object} map[string]string
// @Failure  400 {object} ErrorResponse
// @Router   /webhooks/payment-provider [post]
func handlePaymentWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The signature covers the raw bytes, so the body must be read
		// before any JSON binding touches it.
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			badRequest(c, "unreadable body")
			return
		}

		err = svcs.Payments.HandleWebhook(
			c.Request.Context(),
			body,
			c.GetHeader(provider.SignatureHeader),
		)
		if err != nil {
			if errors.Is(err, payments.ErrDuplicateDelivery) {
				c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
				return
			}
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// @Summary  Scan ticket at the gate
// @Param    req body  ScanRequest true "payload"
// @Success  200 {object} ScanResponse
// @Failure  409 {object} ErrorResponse "already checked in / not active"
// @Router   /checkins/scan [post]
func handleScan(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.CheckIn.Scan(c.Request.Context(), checkin.ScanInput{
			RawToken:    req.Token,
			EventID:     req.EventID,
			Actor:       req.Actor,
			DeviceLabel: req.DeviceLabel,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ScanResponse{
			TicketID:  res.Ticket.ID.String(),
			ShortCode: res.Ticket.ShortCode,
			Status:    "checked_in",
			ScannedAt: res.ScannedAt,
		})
	}
}

// @Summary  Ticket type availability
// @Param    id  path  int  true  "Ticket type ID"
// @Success  200 {object} inventory.Availability
// @Router   /ticket-types/{id}/availability [get]
func handleAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketTypeID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		av, err := svcs.Inventory.Summary(c.Request.Context(), ticketTypeID)
		if err != nil {
			respondErr(c, err)
			return
		}

		// ETag + Cache-Control 15s, in line with the service-side cache TTL
		writeJSONWithCache(c, http.StatusOK, av, "public, max-age=15", true)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var insufficient *inventory.InsufficientInventoryError
	var limit *inventory.LimitExceededError
	var dupScan *checkin.AlreadyCheckedInError

	switch {
	// inventory ledger
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     "insufficient inventory",
			Available: &insufficient.Available,
		})
	case errors.As(err, &limit):
		c.JSON(http.StatusConflict, ErrorResponse{Error: limit.Error()})
	case errors.Is(err, inventory.ErrTicketTypeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket type not found"})
	case errors.Is(err, inventory.ErrSalesClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "sales closed"})

	// orders service
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
	case errors.Is(err, orders.ErrItemNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "item not found"})
	case errors.Is(err, orders.ErrOrderNotEditable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order is not editable"})
	case errors.Is(err, orders.ErrIllegalTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "illegal order state change"})
	case errors.Is(err, orders.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})

	// payments service
	case errors.Is(err, payments.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
	case errors.Is(err, payments.ErrOrderEmpty):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "order has no items"})
	case errors.Is(err, payments.ErrOrderNotPayable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order cannot be paid"})
	case errors.Is(err, payments.ErrCheckoutInProgress):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "checkout in progress"})
	case errors.Is(err, payments.ErrMalformedDelivery):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed delivery"})
	case errors.Is(err, payments.ErrSignatureInvalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "signature invalid"})
	case errors.Is(err, payments.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment not found"})

	// check-in service
	case errors.As(err, &dupScan):
		c.JSON(http.StatusConflict, ErrorResponse{Error: dupScan.Error()})
	case errors.Is(err, checkin.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "token signature invalid"})
	case errors.Is(err, checkin.ErrTokenExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "token expired"})
	case errors.Is(err, checkin.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
	case errors.Is(err, checkin.ErrTicketLocked):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket is being processed"})
	case errors.Is(err, checkin.ErrTicketNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket is not active"})
	case errors.Is(err, checkin.ErrWrongEvent):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket belongs to a different event"})

	// repository fallthrough
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict"})

	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
