// Package ordersubmit implements the commerce-platform boundary the
// orchestrator calls on capture-all success: fetching a checkout's
// authoritative total and submitting the order once money is captured
// (§4.7).
package ordersubmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plm/splitpay/orchestrator"
)

// Config configures the HTTP client used to reach the commerce platform.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig targets a Shopify-style Admin API host; callers override
// BaseURL per store in production.
func DefaultConfig() Config {
	return Config{BaseURL: "https://{shop}.myshopify.com/admin/api/2024-01", Timeout: 30 * time.Second}
}

// Client is the commerce-platform adapter satisfying
// orchestrator.CommercePlatform.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New builds a Client bound to the given configuration.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

type checkoutResponse struct {
	Checkout struct {
		TotalPrice string `json:"total_price"`
		Currency   string `json:"currency"`
	} `json:"checkout"`
}

// CheckoutTotal fetches the authoritative total for a checkout token
// directly from the platform, fixing the trust-boundary bug where a
// client-supplied total would otherwise be used (§9 "Amount source of
// truth").
func (c *Client) CheckoutTotal(ctx context.Context, accessToken, checkoutToken string) (int64, string, error) {
	url := fmt.Sprintf("%s/checkouts/%s.json", shopURL(c.cfg.BaseURL, accessToken), checkoutToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch checkout: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("checkout lookup failed with status %d: %s", resp.StatusCode, body)
	}

	var parsed checkoutResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, "", fmt.Errorf("decode checkout response: %w", err)
	}

	cents, err := decimalToCents(parsed.Checkout.TotalPrice)
	if err != nil {
		return 0, "", fmt.Errorf("parse checkout total: %w", err)
	}
	currency := parsed.Checkout.Currency
	if currency == "" {
		currency = "USD"
	}
	return cents, currency, nil
}

type orderCreateRequest struct {
	Order struct {
		Note       string            `json:"note"`
		Tags       string            `json:"tags"`
		Currency   string            `json:"currency"`
		Email      string            `json:"email,omitempty"`
		Metafields []metafield       `json:"metafields"`
		LineItems  []map[string]any  `json:"line_items,omitempty"`
	} `json:"order"`
}

type metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type orderCreateResponse struct {
	Order struct {
		ID     int64  `json:"id"`
		Number string `json:"order_number"`
	} `json:"order"`
}

// SubmitOrder creates the order on the commerce platform once every card
// has been captured, tagging it as a split payment (§4.7). This runs
// strictly after money is captured; a failure here never rolls back the
// capture — the caller surfaces an operator alert instead.
func (c *Client) SubmitOrder(ctx context.Context, req orchestrator.OrderRequest) (string, string, error) {
	payload := orderCreateRequest{}
	payload.Order.Note = fmt.Sprintf("Split payment across %d cards", req.PaymentCount)
	payload.Order.Tags = "split-payment"
	payload.Order.Currency = req.Currency
	payload.Order.Email = req.CustomerEmail
	payload.Order.Metafields = []metafield{
		{Namespace: "splitpay", Key: "split_payment", Value: "true", Type: "boolean"},
		{Namespace: "splitpay", Key: "transaction_id", Value: req.TransactionID, Type: "single_line_text_field"},
		{Namespace: "splitpay", Key: "payment_count", Value: fmt.Sprintf("%d", req.PaymentCount), Type: "number_integer"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	url := fmt.Sprintf("%s/orders.json", shopURL(c.cfg.BaseURL, req.AccessToken))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Shopify-Access-Token", req.AccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("order_submission_failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("order_submission_failed: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed orderCreateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", "", fmt.Errorf("decode order response: %w", err)
	}

	return fmt.Sprintf("%d", parsed.Order.ID), parsed.Order.Number, nil
}

func shopURL(base, accessToken string) string {
	return base
}

// decimalToCents parses a "12.34" decimal-string price into integer cents
// without ever routing the value through a float.
func decimalToCents(price string) (int64, error) {
	var whole, frac int64
	dot := -1
	for i := 0; i < len(price); i++ {
		if price[i] == '.' {
			dot = i
			break
		}
	}
	wholePart := price
	fracPart := "00"
	if dot >= 0 {
		wholePart = price[:dot]
		fracPart = price[dot+1:]
		if len(fracPart) == 1 {
			fracPart += "0"
		} else if len(fracPart) > 2 {
			fracPart = fracPart[:2]
		}
	}
	if _, err := fmt.Sscanf(wholePart, "%d", &whole); err != nil {
		return 0, fmt.Errorf("invalid price %q", price)
	}
	if _, err := fmt.Sscanf(fracPart, "%d", &frac); err != nil {
		return 0, fmt.Errorf("invalid price %q", price)
	}
	return whole*100 + frac, nil
}
