package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"checkout-service/database"
	"checkout-service/middlewares"
	"checkout-service/models"
	"checkout-service/payments"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// CreatePaymentIntent initiates checkout for an authenticated user: one
// Stripe payment intent plus one matching pending order.
func CreatePaymentIntent(c *gin.Context) {
	defer func() {
		ok := c.Writer.Status() >= 200 && c.Writer.Status() < 300
		middlewares.RecordCheckoutOperation("payment_intent", ok)
	}()

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	uid := userID.(int64)

	var req models.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount := req.ChargeAmount()
	if amount < cfg.MinChargeAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount below minimum charge"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = cfg.DefaultCurrency
	}

	metadata := intentMetadata(req.Items, req.Metadata)
	metadata["user_id"] = strconv.FormatInt(uid, 10)

	pi, err := paymentClient.CreatePaymentIntent(amount, currency, metadata)
	if err != nil {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": stripeErrorMessage(err)})
		return
	}

	createPendingOrder(database.CreateOrderParams{
		UserID:          &uid,
		TotalAmount:     amount,
		Currency:        currency,
		PaymentIntentID: pi.ID,
		Metadata:        marshalMetadata(metadata),
		Items:           req.Items,
	})

	c.JSON(http.StatusOK, gin.H{
		"clientSecret":    pi.ClientSecret,
		"paymentIntentId": pi.ID,
	})
}

// CreateGuestPaymentIntent is the unauthenticated initiator. The order is
// created without a user; the guest resolver attaches one after payment.
func CreateGuestPaymentIntent(c *gin.Context) {
	defer func() {
		ok := c.Writer.Status() >= 200 && c.Writer.Status() < 300
		middlewares.RecordCheckoutOperation("guest_payment_intent", ok)
	}()

	var req models.GuestPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount := req.ChargeAmount()
	if amount < cfg.MinChargeAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount below minimum charge"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = cfg.DefaultCurrency
	}

	tempOrderID := req.TempOrderID
	if tempOrderID == "" {
		tempOrderID = uuid.New().String()
	}

	metadata := intentMetadata(req.Items, req.Metadata)
	metadata["guest_checkout"] = "true"
	metadata["guest_email"] = req.Email
	metadata["temp_order_id"] = tempOrderID

	pi, err := paymentClient.CreatePaymentIntent(amount, currency, metadata)
	if err != nil {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": stripeErrorMessage(err)})
		return
	}

	createPendingOrder(database.CreateOrderParams{
		TotalAmount:     amount,
		Currency:        currency,
		PaymentIntentID: pi.ID,
		Metadata:        marshalMetadata(metadata),
		Items:           req.Items,
	})

	c.JSON(http.StatusOK, gin.H{
		"clientSecret":    pi.ClientSecret,
		"paymentIntentId": pi.ID,
		"tempOrderId":     tempOrderID,
	})
}

// CreateCheckoutSession is the hosted-page variant for authenticated users;
// the order is correlated by the checkout session id instead of the intent.
func CreateCheckoutSession(c *gin.Context) {
	defer func() {
		ok := c.Writer.Status() >= 200 && c.Writer.Status() < 300
		middlewares.RecordCheckoutOperation("checkout_session", ok)
	}()

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	uid := userID.(int64)

	var req models.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount := req.ChargeAmount()
	if amount < cfg.MinChargeAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount below minimum charge"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = cfg.DefaultCurrency
	}

	lineItems := make([]payments.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, payments.LineItem{
			Name:     item.ProductName,
			Amount:   item.Price,
			Quantity: int64(item.Quantity),
		})
	}

	metadata := intentMetadata(req.Items, req.Metadata)
	metadata["user_id"] = strconv.FormatInt(uid, 10)

	session, err := paymentClient.CreateCheckoutSession(lineItems, currency, metadata)
	if err != nil {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": stripeErrorMessage(err)})
		return
	}

	createPendingOrder(database.CreateOrderParams{
		UserID:            &uid,
		TotalAmount:       amount,
		Currency:          currency,
		CheckoutSessionID: session.ID,
		Metadata:          marshalMetadata(metadata),
		Items:             req.Items,
	})

	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"url":       session.URL,
	})
}

// createPendingOrder records the order side of the initiation. A store
// failure after the processor session exists must not fail the checkout:
// the order stays orphaned-pending and never transitions, which is the
// accepted trade-off here.
func createPendingOrder(params database.CreateOrderParams) {
	orderID, err := database.CreatePendingOrder(params)
	if err != nil {
		log.Printf("Failed to create pending order for %s%s: %v",
			params.PaymentIntentID, params.CheckoutSessionID, err)
		return
	}

	if rabbitMQ != nil {
		if err := rabbitMQ.PublishOrderEvent(orderID, 5, "created"); err != nil {
			log.Printf("Failed to publish order created event: %v", err)
		}
		// schedule the stale-pending sweep
		if err := rabbitMQ.PublishDelayedEvent(orderID, cfg.PendingOrderTTL, "payment_check"); err != nil {
			log.Printf("Failed to publish delayed payment check event: %v", err)
		}
	}
}

func intentMetadata(items []models.CheckoutItem, extra map[string]string) map[string]string {
	metadata := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		metadata[k] = v
	}
	if itemsJSON, err := json.Marshal(items); err == nil {
		metadata["items"] = string(itemsJSON)
	}
	if _, ok := metadata["source"]; !ok {
		metadata["source"] = "web_checkout"
	}
	return metadata
}

func marshalMetadata(metadata map[string]string) string {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(blob)
}

func stripeErrorMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return "Payment processor error"
}
