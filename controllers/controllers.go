package controllers

import (
	"time"

	"checkout-service/config"
	"checkout-service/models"
	"checkout-service/payments"
)

// EventPublisher is the slice of the message broker the handlers use;
// *rabbitmq.RabbitMQ satisfies it.
type EventPublisher interface {
	PublishOrderEvent(orderID int64, priority int, eventType string) error
	PublishDelayedEvent(orderID int64, delay time.Duration, eventType string) error
	PublishEmailJob(job models.EmailJob) error
}

var (
	rabbitMQ      EventPublisher
	paymentClient payments.Client
	cfg           = config.LoadConfig()
)

func SetRabbitMQ(publisher EventPublisher) {
	rabbitMQ = publisher
}

func SetPaymentClient(client payments.Client) {
	paymentClient = client
}

// SetConfig overrides the process config, used by tests.
func SetConfig(c *config.Config) {
	cfg = c
}
