package database

import (
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/models"
)

// CreateOrderParams describes the pending order inserted alongside a freshly
// created processor session or intent. Exactly one of PaymentIntentID /
// CheckoutSessionID must be set.
type CreateOrderParams struct {
	UserID            *int64
	TotalAmount       int64
	Currency          string
	PaymentIntentID   string
	CheckoutSessionID string
	Metadata          string
	Items             []models.CheckoutItem
}

// CreatePendingOrder inserts the order and its items in one transaction so a
// half-written order can never be observed by the webhook receiver.
func CreatePendingOrder(p CreateOrderParams) (int64, error) {
	if (p.PaymentIntentID == "") == (p.CheckoutSessionID == "") {
		return 0, errors.New("exactly one correlation id must be set")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec(
		`INSERT INTO orders (user_id, total_amount, currency, status, payment_status,
			stripe_payment_intent_id, stripe_checkout_session_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		p.UserID, p.TotalAmount, p.Currency,
		models.OrderStatusPending, models.PaymentStatusUnpaid,
		nullable(p.PaymentIntentID), nullable(p.CheckoutSessionID), p.Metadata,
	)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	orderID, err := result.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	for _, item := range p.Items {
		_, err = tx.Exec(
			`INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
			 VALUES (?, ?, ?, ?, ?)`,
			orderID, item.ProductID, item.ProductName, item.Quantity, item.Price,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return orderID, nil
}

func GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	return getOrderByColumn("stripe_payment_intent_id", paymentIntentID)
}

func GetOrderByCheckoutSessionID(sessionID string) (*models.Order, error) {
	return getOrderByColumn("stripe_checkout_session_id", sessionID)
}

func getOrderByColumn(column string, value interface{}) (*models.Order, error) {
	var (
		order     models.Order
		userID    sql.NullInt64
		intentID  sql.NullString
		sessionID sql.NullString
	)
	query := fmt.Sprintf(
		`SELECT id, user_id, total_amount, currency, status, payment_status,
			stripe_payment_intent_id, stripe_checkout_session_id, metadata, created_at, updated_at
		 FROM orders WHERE %s = ?`, column)

	err := DB.QueryRow(query, value).Scan(
		&order.ID, &userID, &order.TotalAmount, &order.Currency,
		&order.Status, &order.PaymentStatus, &intentID, &sessionID,
		&order.Metadata, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		order.UserID = &userID.Int64
	}
	order.StripePaymentIntentID = intentID.String
	order.StripeCheckoutSessionID = sessionID.String
	return &order, nil
}

// transition applies a conditional status update keyed by a correlation id.
// The guard keeps terminal transitions idempotent: a redelivered event that
// matches zero rows is a no-op, never an error.
func transition(column, id, status, paymentStatus, guard string) (bool, error) {
	query := fmt.Sprintf(
		`UPDATE orders SET status = ?, payment_status = ?, updated_at = NOW()
		 WHERE %s = ? AND %s`, column, guard)

	result, err := DB.Exec(query, status, paymentStatus, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkOrderPaidByIntent completes an order on a succeeded payment intent.
// Re-applying success to a completed order changes nothing.
func MarkOrderPaidByIntent(paymentIntentID string) (bool, error) {
	return transition("stripe_payment_intent_id", paymentIntentID,
		models.OrderStatusCompleted, models.PaymentStatusPaid, "status <> 'completed'")
}

// MarkOrderFailedByIntent cancels an order on a failed payment. Only pending
// orders move: a completed order is never downgraded by a late failure.
func MarkOrderFailedByIntent(paymentIntentID string) (bool, error) {
	return transition("stripe_payment_intent_id", paymentIntentID,
		models.OrderStatusCancelled, models.PaymentStatusFailed, "status = 'pending'")
}

// MarkOrderCancelledByIntent cancels without a payment attempt
// (payment_intent.canceled), so payment_status stays unpaid.
func MarkOrderCancelledByIntent(paymentIntentID string) (bool, error) {
	return transition("stripe_payment_intent_id", paymentIntentID,
		models.OrderStatusCancelled, models.PaymentStatusUnpaid, "status = 'pending'")
}

func MarkOrderPaidBySession(sessionID string) (bool, error) {
	return transition("stripe_checkout_session_id", sessionID,
		models.OrderStatusCompleted, models.PaymentStatusPaid, "status <> 'completed'")
}

func MarkOrderFailedBySession(sessionID string) (bool, error) {
	return transition("stripe_checkout_session_id", sessionID,
		models.OrderStatusCancelled, models.PaymentStatusFailed, "status = 'pending'")
}

// MarkOrderExpiredBySession cancels an abandoned checkout session. Unpaid,
// not failed: no payment attempt necessarily occurred.
func MarkOrderExpiredBySession(sessionID string) (bool, error) {
	return transition("stripe_checkout_session_id", sessionID,
		models.OrderStatusCancelled, models.PaymentStatusUnpaid, "status = 'pending'")
}

// AttachOrderUser links a resolved guest account to its order. Conditional on
// user_id IS NULL so concurrent resolutions attach exactly once.
func AttachOrderUser(orderID, userID int64) (bool, error) {
	result, err := DB.Exec(
		`UPDATE orders SET user_id = ?, updated_at = NOW() WHERE id = ? AND user_id IS NULL`,
		userID, orderID,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CancelIfPending is the stale-order sweep used by the delayed payment_check
// consumer. Orders that already reached a terminal state are left alone.
func CancelIfPending(orderID int64) (bool, error) {
	result, err := DB.Exec(
		`UPDATE orders SET status = 'cancelled', updated_at = NOW()
		 WHERE id = ? AND status = 'pending'`,
		orderID,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func CountOrdersByUserID(userID int64) (int, error) {
	var count int
	err := DB.QueryRow(`SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

func GetOrderItems(orderID int64) ([]models.OrderItem, error) {
	rows, err := DB.Query(
		`SELECT order_id, product_id, product_name, quantity, price
		 FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetOrdersByUserID returns a user's orders with their items, newest first.
func GetOrdersByUserID(userID int64) ([]models.OrderResponse, error) {
	rows, err := DB.Query(
		`SELECT o.id, o.total_amount, o.currency, o.status, o.payment_status, o.created_at,
			oi.product_id, oi.product_name, oi.quantity, oi.price
		 FROM orders o
		 JOIN order_items oi ON o.id = oi.order_id
		 WHERE o.user_id = ?
		 ORDER BY o.created_at DESC, oi.product_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	ordersMap := make(map[int64]*models.OrderResponse)
	var ordered []int64
	for rows.Next() {
		var (
			orderID       int64
			totalAmount   int64
			currency      string
			status        string
			paymentStatus string
			createdAt     sql.NullTime
			item          models.OrderItemDetail
		)
		if err := rows.Scan(&orderID, &totalAmount, &currency, &status, &paymentStatus,
			&createdAt, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		if _, exists := ordersMap[orderID]; !exists {
			ordersMap[orderID] = &models.OrderResponse{
				ID:            orderID,
				UserID:        userID,
				TotalAmount:   totalAmount,
				Currency:      currency,
				Status:        status,
				PaymentStatus: paymentStatus,
				CreatedAt:     createdAt.Time,
				Items:         []models.OrderItemDetail{},
			}
			ordered = append(ordered, orderID)
		}
		item.Subtotal = item.Price * int64(item.Quantity)
		ordersMap[orderID].Items = append(ordersMap[orderID].Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]models.OrderResponse, 0, len(ordered))
	for _, id := range ordered {
		orders = append(orders, *ordersMap[id])
	}
	return orders, nil
}

// GetOrderDetails loads a single order scoped to its owner.
func GetOrderDetails(orderID, userID int64) (*models.OrderResponse, error) {
	var order models.OrderResponse
	err := DB.QueryRow(
		`SELECT id, user_id, total_amount, currency, status, payment_status, created_at
		 FROM orders WHERE id = ? AND user_id = ?`, orderID, userID).Scan(
		&order.ID, &order.UserID, &order.TotalAmount, &order.Currency,
		&order.Status, &order.PaymentStatus, &order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	items, err := GetOrderItems(orderID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		order.Items = append(order.Items, models.OrderItemDetail{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    item.Price * int64(item.Quantity),
		})
	}
	return &order, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
