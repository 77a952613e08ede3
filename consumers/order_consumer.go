package consumers

import (
	"encoding/json"
	"log"

	"checkout-service/config"
	"checkout-service/database"
	"checkout-service/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

func StartOrderConsumer(ch *amqp.Channel, cfg *config.Config) {
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		"checkout-service", // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,
	)
	if err != nil {
		log.Fatalf("Failed to register consumer: %v", err)
	}

	go func() {
		for msg := range msgs {
			processOrderMessage(msg)
		}
	}()

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		"checkout-service-dlq", // consumer tag
		false,                  // auto-ack
		false,                  // exclusive
		false,                  // no-local
		false,                  // no-wait
		nil,
	)
	if err != nil {
		log.Printf("Failed to register DLQ consumer: %v", err)
	}

	go func() {
		for msg := range dlqMsgs {
			processDeadLetterMessage(msg)
		}
	}()
}

func StartEmailConsumer(ch *amqp.Channel, cfg *config.Config) {
	msgs, err := ch.Consume(
		cfg.EmailQueue,
		"checkout-service-email", // consumer tag
		false,                    // auto-ack
		false,                    // exclusive
		false,                    // no-local
		false,                    // no-wait
		nil,
	)
	if err != nil {
		log.Printf("Failed to register email consumer: %v", err)
		return
	}

	go func() {
		for msg := range msgs {
			processEmailJob(msg)
		}
	}()
}

func processOrderMessage(msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in message processing: %v", r)
		}
	}()

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		log.Printf("Invalid message format: %s", msg.Body)
		_ = msg.Nack(false, false) // dead-letter it, do not requeue
		return
	}

	log.Printf("Processing order event: ID=%d, Type=%s", event.OrderID, event.Type)

	switch event.Type {
	case "created":
		handleOrderCreated(event.OrderID)
	case "completed":
		handleOrderCompleted(event.OrderID)
	case "cancelled":
		handleOrderCancelled(event.OrderID)
	case "payment_check":
		handlePaymentCheck(event.OrderID)
	default:
		log.Printf("Unknown event type: %s", event.Type)
	}

	if err := msg.Ack(false); err != nil {
		log.Printf("Failed to ack message: %v", err)
	}
}

func processDeadLetterMessage(msg amqp.Delivery) {
	log.Printf("Received dead letter: %s", msg.Body)
	_ = msg.Ack(false)
}

// processEmailJob hands the job to the delivery provider. Delivery itself is
// an external service; here it is only logged.
func processEmailJob(msg amqp.Delivery) {
	var job models.EmailJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		log.Printf("Invalid email job: %s", msg.Body)
		_ = msg.Nack(false, false)
		return
	}

	log.Printf("Dispatching %s email to %s (order %d)", job.Template, job.To, job.OrderID)
	_ = msg.Ack(false)
}

func handleOrderCreated(orderID int64) {
	log.Printf("Handling order created: %d", orderID)
}

func handleOrderCompleted(orderID int64) {
	log.Printf("Handling order completed: %d", orderID)
}

func handleOrderCancelled(orderID int64) {
	log.Printf("Handling order cancelled: %d", orderID)
}

// handlePaymentCheck fires after the pending-order TTL. Orders that never
// received a terminal webhook are swept to cancelled; anything already
// terminal is left untouched.
func handlePaymentCheck(orderID int64) {
	cancelled, err := database.CancelIfPending(orderID)
	if err != nil {
		log.Printf("Failed payment check for order %d: %v", orderID, err)
		return
	}
	if cancelled {
		log.Printf("Auto-cancelled order %d due to non-payment", orderID)
	}
}
