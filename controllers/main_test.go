package controllers

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"checkout-service/database"
	"checkout-service/models"
	"checkout-service/payments"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakePayments stands in for Stripe so handler tests stay offline.
type fakePayments struct {
	created      *stripe.PaymentIntent
	createErr    error
	createCalls  int
	lastMetadata map[string]string

	session    *stripe.CheckoutSession
	sessionErr error

	intent    *stripe.PaymentIntent
	intentErr error

	event    stripe.Event
	eventErr error
}

func (f *fakePayments) CreatePaymentIntent(amount int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	f.createCalls++
	f.lastMetadata = metadata
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakePayments) CreateCheckoutSession(items []payments.LineItem, currency string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	f.lastMetadata = metadata
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakePayments) GetPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intent, nil
}

func (f *fakePayments) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if f.eventErr != nil {
		return stripe.Event{}, f.eventErr
	}
	return f.event, nil
}

var errBadSignature = errors.New("signature mismatch")

// fakeBroker records published messages in place of RabbitMQ.
type fakeBroker struct {
	orderEvents []string // "type:orderID"
	delayed     []string
	emails      []models.EmailJob
}

func (b *fakeBroker) PublishOrderEvent(orderID int64, priority int, eventType string) error {
	b.orderEvents = append(b.orderEvents, fmt.Sprintf("%s:%d", eventType, orderID))
	return nil
}

func (b *fakeBroker) PublishDelayedEvent(orderID int64, delay time.Duration, eventType string) error {
	b.delayed = append(b.delayed, fmt.Sprintf("%s:%d", eventType, orderID))
	return nil
}

func (b *fakeBroker) PublishEmailJob(job models.EmailJob) error {
	b.emails = append(b.emails, job)
	return nil
}

func setupBroker(t *testing.T) *fakeBroker {
	t.Helper()
	broker := &fakeBroker{}
	prev := rabbitMQ
	rabbitMQ = broker
	t.Cleanup(func() { rabbitMQ = prev })
	return broker
}

func setupFake(t *testing.T) *fakePayments {
	t.Helper()
	fake := &fakePayments{}
	prev := paymentClient
	SetPaymentClient(fake)
	t.Cleanup(func() { paymentClient = prev })
	return fake
}

func setupMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = prev
		_ = db.Close()
	})
	return mock
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/stripe", HandleStripeWebhook)
	r.POST("/checkout/guest/payment-intent", CreateGuestPaymentIntent)
	r.POST("/checkout/guest/complete", CompleteGuestCheckout)

	auth := r.Group("/api")
	auth.Use(func(c *gin.Context) {
		c.Set("userID", int64(9))
		c.Next()
	})
	auth.POST("/checkout/payment-intent", CreatePaymentIntent)
	auth.POST("/checkout/session", CreateCheckoutSession)
	return r
}

func orderColumns() []string {
	return []string{
		"id", "user_id", "total_amount", "currency", "status", "payment_status",
		"stripe_payment_intent_id", "stripe_checkout_session_id", "metadata",
		"created_at", "updated_at",
	}
}

func orderRow(id int64, userID interface{}, status, paymentStatus, intentID, sessionID string) *sqlmock.Rows {
	now := time.Now()
	var intent, session interface{}
	if intentID != "" {
		intent = intentID
	}
	if sessionID != "" {
		session = sessionID
	}
	return sqlmock.NewRows(orderColumns()).
		AddRow(id, userID, 9900, "usd", status, paymentStatus, intent, session, "{}", now, now)
}

func userRow(id int64, email string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "email_confirmed", "created_at"}).
		AddRow(id, email, "$2a$10$hash", true, time.Now())
}
