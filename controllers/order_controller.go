package controllers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"checkout-service/database"
	"checkout-service/middlewares"

	"github.com/gin-gonic/gin"
)

func GetUserOrders(c *gin.Context) {
	defer func() {
		ok := c.Writer.Status() >= 200 && c.Writer.Status() < 300
		middlewares.RecordCheckoutOperation("list_orders", ok)
	}()

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	orders, err := database.GetOrdersByUserID(userID.(int64))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, orders)
}

func GetOrderDetails(c *gin.Context) {
	defer func() {
		ok := c.Writer.Status() >= 200 && c.Writer.Status() < 300
		middlewares.RecordCheckoutOperation("order_details", ok)
	}()

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := database.GetOrderDetails(orderID, userID.(int64))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, order)
}
