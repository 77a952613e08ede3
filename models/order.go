package models

import (
	"time"
)

// Order status values. Orders are created pending/unpaid and only the
// webhook receiver moves them into a terminal state.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"

	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)

type Order struct {
	ID                      int64       `json:"id"`
	UserID                  *int64      `json:"user_id"`
	TotalAmount             int64       `json:"total_amount"` // minor currency units
	Currency                string      `json:"currency"`
	Status                  string      `json:"status"`
	PaymentStatus           string      `json:"payment_status"`
	StripePaymentIntentID   string      `json:"stripe_payment_intent_id,omitempty"`
	StripeCheckoutSessionID string      `json:"stripe_checkout_session_id,omitempty"`
	Metadata                string      `json:"metadata,omitempty"` // raw JSON blob
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
	Items                   []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	OrderID     int64  `json:"order_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"` // minor currency units
}

// IsTerminal reports whether no further webhook transition is expected.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// CheckoutItem is a cart line as submitted by the client. Prices here label
// the order items; the settlement amount is always the processor's own record.
type CheckoutItem struct {
	ProductID   string `json:"product_id" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
	Price       int64  `json:"price" binding:"required,min=0"`
}

type CreatePaymentIntentRequest struct {
	Items       []CheckoutItem    `json:"items" binding:"required,min=1,dive"`
	Amount      int64             `json:"amount"`
	TotalAmount int64             `json:"totalAmount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// ChargeAmount resolves the amount|totalAmount alias the clients use.
func (r *CreatePaymentIntentRequest) ChargeAmount() int64 {
	if r.TotalAmount > 0 {
		return r.TotalAmount
	}
	return r.Amount
}

type GuestPaymentIntentRequest struct {
	CreatePaymentIntentRequest
	Email       string `json:"email" binding:"required,email"`
	TempOrderID string `json:"tempOrderId"`
}

type GuestCompleteRequest struct {
	PaymentIntentID string            `json:"paymentIntentId" binding:"required"`
	TempOrderID     string            `json:"tempOrderId"`
	Email           string            `json:"email" binding:"required,email"`
	Items           []CheckoutItem    `json:"items"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
}

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"` // never serialised
	EmailConfirmed bool      `json:"email_confirmed"`
	CreatedAt      time.Time `json:"created_at"`
}

type OrderResponse struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	TotalAmount   int64             `json:"total_amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []OrderItemDetail `json:"items"`
}

type OrderItemDetail struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Subtotal    int64  `json:"subtotal"`
}

// OrderEvent is the lifecycle message published to RabbitMQ after a
// transition commits.
type OrderEvent struct {
	OrderID  int64     `json:"order_id"`
	Type     string    `json:"type"` // created, completed, cancelled, payment_check
	Occurred time.Time `json:"occurred"`
}

// EmailJob is queued for the email worker; delivery itself is external.
type EmailJob struct {
	Template string `json:"template"`
	To       string `json:"to"`
	OrderID  int64  `json:"order_id,omitempty"`
}
