package payments

import (
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

type StripeClient struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeClient(secretKey, webhookSecret, successURL, cancelURL string) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{
		api:           api,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

func (s *StripeClient) CreatePaymentIntent(amount int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return s.api.PaymentIntents.New(params)
}

func (s *StripeClient) CreateCheckoutSession(items []LineItem, currency string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return s.api.CheckoutSessions.New(params)
}

func (s *StripeClient) GetPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	return s.api.PaymentIntents.Get(id, nil)
}

func (s *StripeClient) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
}
