// Package provider talks to the external payment processor: it creates
// checkout sessions and verifies/parses the processor's asynchronous result
// deliveries. The processor is a fallible collaborator; every call here can
// fail without corrupting order state.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const Name = "payprov"

type LineItem struct {
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

type CheckoutParams struct {
	OrderID     string     `json:"order_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	LineItems   []LineItem `json:"line_items"`
	SuccessURL  string     `json:"success_url,omitempty"`
	CancelURL   string     `json:"cancel_url,omitempty"`
}

// Session is the processor's handle for one payment attempt. URL is where
// the buyer is redirected to pay.
type Session struct {
	ID       string `json:"id"`
	IntentID string `json:"payment_intent_id"`
	URL      string `json:"url"`
}

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{Timeout: timeout},
	}
}

// CreateCheckoutSession forwards the order's line items to the processor and
// returns the session with its redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error) {
	const op = "provider.Client.CreateCheckoutSession"

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/v1/checkout/sessions",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s: provider returned %d", op, resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}

	if s.ID == "" || s.URL == "" {
		return nil, fmt.Errorf("%s: provider returned incomplete session", op)
	}

	return &s, nil
}
