package main

import (
	"log"
	"net/http"

	"checkout-service/config"
	"checkout-service/consumers"
	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/middlewares"
	"checkout-service/payments"
	"checkout-service/rabbitmq"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := database.InitDB(); err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer database.CloseDB()

	cfg := config.LoadConfig()

	rmq, err := rabbitmq.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatalf("RabbitMQ initialization failed: %v", err)
	}
	defer rmq.Close()

	if err := rmq.SetupQueues(); err != nil {
		log.Fatalf("Failed to setup RabbitMQ queues: %v", err)
	}

	go consumers.StartOrderConsumer(rmq.Channel, cfg)
	go consumers.StartEmailConsumer(rmq.Channel, cfg)

	controllers.SetRabbitMQ(rmq)
	controllers.SetPaymentClient(payments.NewStripeClient(
		cfg.StripeSecretKey,
		cfg.StripeWebhookSecret,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
	))

	r := gin.Default()

	r.Use(middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// processor callbacks, signature-verified inside the handler
	r.POST("/webhooks/stripe", controllers.HandleStripeWebhook)

	// guest checkout does not require a session
	r.POST("/checkout/guest/payment-intent", controllers.CreateGuestPaymentIntent)
	r.POST("/checkout/guest/complete", controllers.CompleteGuestCheckout)

	authGroup := r.Group("/api")
	authGroup.Use(middlewares.AuthMiddleware())
	{
		authGroup.POST("/checkout/payment-intent", controllers.CreatePaymentIntent)
		authGroup.POST("/checkout/session", controllers.CreateCheckoutSession)
		authGroup.GET("/orders", controllers.GetUserOrders)
		authGroup.GET("/orders/:id", controllers.GetOrderDetails)
	}

	port := ":8080"
	log.Printf("Checkout service starting on port %s", port)
	if err := r.Run(port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
