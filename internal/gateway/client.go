package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Checkout is a provider checkout session for a gateway-paid booking.
// The token is handed to the frontend to open the payment page.
type Checkout struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// OrderStatus is the provider's answer to a synchronous status query.
type OrderStatus struct {
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
}

// Client is the provider surface the engine depends on.  The HTTP
// implementation talks to the real provider; tests substitute a fake.
type Client interface {
	// CreateCheckout opens a checkout session for the order.  The order id
	// is the transaction's external uuid, never the internal id.
	CreateCheckout(ctx context.Context, orderID string, grossAmount int64) (*Checkout, error)
	// Status fetches the provider's current view of the order, used to
	// reconcile state when a webhook was missed.
	Status(ctx context.Context, orderID string) (*OrderStatus, error)
	// VerifyNotification validates a webhook's authenticity signature.
	VerifyNotification(n Notification) error
}

// HTTPClient implements Client against the provider's REST API using
// server-key basic authentication.
type HTTPClient struct {
	baseURL   string
	serverKey string
	http      *http.Client
}

// NewHTTPClient returns a Client bound to the provider base URL and
// server key.
func NewHTTPClient(baseURL, serverKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		serverKey: serverKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.serverKey+":"))
}

// CreateCheckout posts the order to the provider's snap endpoint and
// returns the checkout token and redirect URL.
func (c *HTTPClient) CreateCheckout(ctx context.Context, orderID string, grossAmount int64) (*Checkout, error) {
	body, err := json.Marshal(map[string]any{
		"transaction_details": map[string]any{
			"order_id":     orderID,
			"gross_amount": grossAmount,
		},
		"credit_card": map[string]any{"secure": true},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/snap/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: checkout returned %s", ErrUnavailable, resp.Status)
	}
	var out Checkout
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode checkout: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// Status queries the provider for the order's current state.
func (c *HTTPClient) Status(ctx context.Context, orderID string) (*OrderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/"+orderID+"/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status returned %s", ErrUnavailable, resp.Status)
	}
	var out OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode status: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// VerifyNotification validates the webhook signature with the client's
// server key.
func (c *HTTPClient) VerifyNotification(n Notification) error {
	return VerifyNotification(n, c.serverKey)
}
