package rabbitmq

import (
	"encoding/json"
	"log"
	"time"

	"checkout-service/config"
	"checkout-service/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config
}

func NewRabbitMQ(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
	}, nil
}

func (r *RabbitMQ) SetupQueues() error {
	// dead letter exchange and queue
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.DeadLetterQueue+"_exchange",
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	_, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-queue-type": "classic",
		},
	)
	if err != nil {
		return err
	}

	if err := r.Channel.QueueBind(
		r.Cfg.DeadLetterQueue,
		"",
		r.Cfg.DeadLetterQueue+"_exchange",
		false,
		nil,
	); err != nil {
		return err
	}

	if err := r.Channel.ExchangeDeclare(
		r.Cfg.OrderExchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	// delayed exchange, needs the rabbitmq delayed-message plugin
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.DelayExchange,
		"x-delayed-message",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		log.Printf("Warning: Delayed exchange not supported: %v", err)
	}

	// main order event queue with priority and dead lettering
	_, err = r.Channel.QueueDeclare(
		r.Cfg.OrderQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-max-priority":            r.Cfg.MaxPriority,
			"x-dead-letter-exchange":    r.Cfg.DeadLetterQueue + "_exchange",
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	)
	if err != nil {
		return err
	}

	if err := r.Channel.QueueBind(
		r.Cfg.OrderQueue,
		"",
		r.Cfg.OrderExchange,
		false,
		nil,
	); err != nil {
		return err
	}

	if err := r.Channel.QueueBind(
		r.Cfg.OrderQueue,
		"",
		r.Cfg.DelayExchange,
		false,
		nil,
	); err != nil {
		log.Printf("Warning: could not bind delay exchange: %v", err)
	}

	// welcome-email jobs for newly created guest accounts
	_, err = r.Channel.QueueDeclare(
		r.Cfg.EmailQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    r.Cfg.DeadLetterQueue + "_exchange",
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	)
	return err
}

func (r *RabbitMQ) PublishOrderEvent(orderID int64, priority int, eventType string) error {
	body, err := json.Marshal(models.OrderEvent{
		OrderID:  orderID,
		Type:     eventType,
		Occurred: time.Now(),
	})
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Body:         body,
		Priority:     uint8(priority),
	}

	return r.Channel.Publish(
		r.Cfg.OrderExchange,
		"",
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (r *RabbitMQ) PublishDelayedEvent(orderID int64, delay time.Duration, eventType string) error {
	body, err := json.Marshal(models.OrderEvent{
		OrderID:  orderID,
		Type:     eventType,
		Occurred: time.Now(),
	})
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Body:         body,
		Headers: amqp.Table{
			"x-delay": delay.Milliseconds(),
		},
	}

	return r.Channel.Publish(
		r.Cfg.DelayExchange,
		"",
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (r *RabbitMQ) PublishEmailJob(job models.EmailJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Body:         body,
	}

	return r.Channel.Publish(
		"", // default exchange, routed by queue name
		r.Cfg.EmailQueue,
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		_ = r.Channel.Close()
	}
	if r.Conn != nil {
		_ = r.Conn.Close()
	}
}
