// Package client is a Go client for the checkout service. It mirrors the
// browser widget's contract: it initiates payment sessions and reports
// completion for navigation purposes. Order state is decided server-side
// by the webhook receiver, never here.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type Item struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type Cart struct {
	Items    []Item `json:"items"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Email    string `json:"email,omitempty"` // guest flow only
}

// Session is an initiated checkout ready for the hosted payment widget.
type Session struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	TempOrderID     string `json:"tempOrderId,omitempty"`
}

type GuestResult struct {
	User struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Order                json.RawMessage `json:"order"`
	IsNewAccount         bool            `json:"isNewAccount"`
	ExistingOrdersMerged int             `json:"existingOrdersMerged"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// initiated sessions keyed by cart fingerprint, so re-rendering the
	// same cart reuses its session instead of minting duplicate pending
	// orders
	mu       sync.Mutex
	sessions map[string]*Session
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   make(map[string]*Session),
	}
}

// WithToken returns a copy of the client authenticated with a bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := New(c.baseURL)
	clone.token = token
	clone.httpClient = c.httpClient
	return clone
}

// StartCheckout initiates an authenticated checkout, reusing a cached
// session for an identical cart.
func (c *Client) StartCheckout(ctx context.Context, cart Cart) (*Session, error) {
	return c.startCheckout(ctx, cart, "/api/checkout/payment-intent")
}

// StartGuestCheckout initiates a guest checkout; cart.Email is required.
func (c *Client) StartGuestCheckout(ctx context.Context, cart Cart) (*Session, error) {
	if cart.Email == "" {
		return nil, fmt.Errorf("guest checkout requires an email")
	}
	return c.startCheckout(ctx, cart, "/checkout/guest/payment-intent")
}

func (c *Client) startCheckout(ctx context.Context, cart Cart, path string) (*Session, error) {
	key := cartFingerprint(cart)

	c.mu.Lock()
	if session, ok := c.sessions[key]; ok {
		c.mu.Unlock()
		return session, nil
	}
	c.mu.Unlock()

	body := map[string]interface{}{
		"items":    cart.Items,
		"amount":   cart.Amount,
		"currency": cart.Currency,
	}
	if cart.Email != "" {
		body["email"] = cart.Email
	}

	var session Session
	if err := c.post(ctx, path, body, &session); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[key] = &session
	c.mu.Unlock()
	return &session, nil
}

// CompleteGuestCheckout reports a widget-confirmed guest payment so the
// service can resolve the account. The cached session for the cart is
// discarded afterwards, matching the one-shot lifecycle of the browser's
// stored checkout intent.
func (c *Client) CompleteGuestCheckout(ctx context.Context, cart Cart, session *Session) (*GuestResult, error) {
	body := map[string]interface{}{
		"paymentIntentId": session.PaymentIntentID,
		"tempOrderId":     session.TempOrderID,
		"email":           cart.Email,
		"items":           cart.Items,
		"amount":          cart.Amount,
		"currency":        cart.Currency,
	}

	var result GuestResult
	if err := c.post(ctx, "/checkout/guest/complete", body, &result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	delete(c.sessions, cartFingerprint(cart))
	c.mu.Unlock()
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return json.Unmarshal(raw, out)
}

type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("checkout api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("checkout api: %d: %s", e.Status, e.Message)
}

// cartFingerprint hashes the canonical cart encoding; identical carts map to
// the same initiated session.
func cartFingerprint(cart Cart) string {
	payload, _ := json.Marshal(cart)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
