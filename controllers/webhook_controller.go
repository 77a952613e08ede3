package controllers

import (
	"encoding/json"
	"log"
	"net/http"

	"checkout-service/database"
	"checkout-service/middlewares"
	"checkout-service/models"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
)

// HandleStripeWebhook is the single reconciliation point of truth: only this
// handler moves an order out of pending. A non-2xx response makes Stripe
// redeliver, which is the only retry mechanism in the flow.
func HandleStripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read body"})
		return
	}

	// signature covers the exact bytes, so no parsing before this
	event, err := paymentClient.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Printf("Webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	switch string(event.Type) {
	case "payment_intent.succeeded":
		handleIntentSucceeded(c, event)
	case "payment_intent.payment_failed":
		handleIntentEvent(c, event, database.MarkOrderFailedByIntent)
	case "payment_intent.canceled":
		handleIntentEvent(c, event, database.MarkOrderCancelledByIntent)
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		handleSessionEvent(c, event, database.MarkOrderPaidBySession, "completed")
	case "checkout.session.async_payment_failed":
		handleSessionEvent(c, event, database.MarkOrderFailedBySession, "cancelled")
	case "checkout.session.expired":
		handleSessionEvent(c, event, database.MarkOrderExpiredBySession, "cancelled")
	default:
		// unknown events must ack cleanly or Stripe keeps retrying them
		middlewares.RecordWebhookEvent(string(event.Type), "skipped")
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func handleIntentSucceeded(c *gin.Context, event stripe.Event) {
	eventType := string(event.Type)

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		return
	}

	order, err := database.GetOrderByPaymentIntentID(pi.ID)
	if err != nil {
		// not found included: 5xx so Stripe retries instead of the order
		// being stuck pending forever
		middlewares.RecordWebhookEvent(eventType, "error")
		log.Printf("No order for payment intent %s: %v", pi.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Order not found"})
		return
	}

	applied, err := database.MarkOrderPaidByIntent(pi.ID)
	if err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update order"})
		return
	}

	// publish on the delivery that performed the transition, before guest
	// resolution can withhold the ack; a later redelivery is a no-op and
	// must not produce a second completed event
	if applied {
		publishLifecycleEvent(order.ID, "completed")
	}

	// guest orders get their account before the ack; a failure here returns
	// 5xx and Stripe's redelivery re-attempts the resolution
	if pi.Metadata["guest_checkout"] == "true" && order.UserID == nil {
		items := itemsFromMetadata(pi.Metadata)
		if _, err := resolveGuestPayment(&pi, pi.Metadata["guest_email"], items); err != nil {
			middlewares.RecordWebhookEvent(eventType, "error")
			log.Printf("Guest resolution failed for %s: %v", pi.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Guest account resolution failed"})
			return
		}
	}

	if applied {
		middlewares.RecordWebhookEvent(eventType, "applied")
	} else {
		middlewares.RecordWebhookEvent(eventType, "noop")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func handleIntentEvent(c *gin.Context, event stripe.Event, mark func(string) (bool, error)) {
	eventType := string(event.Type)

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		return
	}

	order, err := database.GetOrderByPaymentIntentID(pi.ID)
	if err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		log.Printf("No order for payment intent %s: %v", pi.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Order not found"})
		return
	}

	applied, err := mark(pi.ID)
	if err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update order"})
		return
	}

	if applied {
		middlewares.RecordWebhookEvent(eventType, "applied")
		publishLifecycleEvent(order.ID, "cancelled")
	} else {
		middlewares.RecordWebhookEvent(eventType, "noop")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func handleSessionEvent(c *gin.Context, event stripe.Event, mark func(string) (bool, error), lifecycle string) {
	eventType := string(event.Type)

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		return
	}

	order, err := database.GetOrderByCheckoutSessionID(session.ID)
	if err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		log.Printf("No order for checkout session %s: %v", session.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Order not found"})
		return
	}

	applied, err := mark(session.ID)
	if err != nil {
		middlewares.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update order"})
		return
	}

	if applied {
		middlewares.RecordWebhookEvent(eventType, "applied")
		publishLifecycleEvent(order.ID, lifecycle)
	} else {
		middlewares.RecordWebhookEvent(eventType, "noop")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func publishLifecycleEvent(orderID int64, eventType string) {
	if rabbitMQ == nil {
		return
	}
	priority := 5
	if eventType == "cancelled" {
		priority = 8
	}
	if err := rabbitMQ.PublishOrderEvent(orderID, priority, eventType); err != nil {
		log.Printf("Failed to publish order %s event: %v", eventType, err)
	}
}

func itemsFromMetadata(metadata map[string]string) []models.CheckoutItem {
	var items []models.CheckoutItem
	if raw := metadata["items"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			log.Printf("Malformed items metadata: %v", err)
		}
	}
	return items
}
