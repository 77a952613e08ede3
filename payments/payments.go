// Package payments wraps the Stripe API behind a small client interface so
// handlers and tests do not talk to the network directly.
package payments

import (
	stripe "github.com/stripe/stripe-go/v82"
)

// LineItem is a cart line as the processor needs to see it.
type LineItem struct {
	Name     string
	Amount   int64 // unit price, minor currency units
	Quantity int64
}

// Client is the surface of the payment processor the service depends on.
type Client interface {
	// CreatePaymentIntent creates an intent carrying enough metadata to
	// reconstruct the order during reconciliation.
	CreatePaymentIntent(amount int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error)

	// CreateCheckoutSession creates a hosted-checkout session for the cart.
	CreateCheckoutSession(items []LineItem, currency string, metadata map[string]string) (*stripe.CheckoutSession, error)

	// GetPaymentIntent re-fetches the processor's authoritative record.
	GetPaymentIntent(id string) (*stripe.PaymentIntent, error)

	// ConstructWebhookEvent verifies the request signature against the raw
	// body and parses the event. Must be called before any other parsing.
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}
