package controllers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"checkout-service/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func succeededIntent(id, email string) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID:       id,
		Amount:   9900,
		Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{
			"guest_checkout": "true",
			"guest_email":    email,
		},
	}
}

func TestResolveGuestPaymentRejectsIncompletePayment(t *testing.T) {
	pi := succeededIntent("pi_1", "a@b.com")
	pi.Status = stripe.PaymentIntentStatusRequiresPaymentMethod

	_, err := resolveGuestPayment(pi, "a@b.com", nil)
	assert.ErrorIs(t, err, errPaymentIncomplete)
}

func TestResolveGuestPaymentRejectsNonGuestIntent(t *testing.T) {
	mock := setupMockDB(t)

	// a succeeded intent from the authenticated flow carries no guest
	// metadata; replaying its id must not resolve to any account
	pi := &stripe.PaymentIntent{
		ID:       "pi_auth",
		Amount:   9900,
		Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{"user_id": "7"},
	}

	_, err := resolveGuestPayment(pi, "attacker@evil.com", nil)
	assert.ErrorIs(t, err, errNotGuestPayment)
	assert.NoError(t, mock.ExpectationsWereMet(), "the store must not be consulted at all")
}

func TestResolveGuestPaymentRejectsMissingGuestEmail(t *testing.T) {
	mock := setupMockDB(t)

	pi := succeededIntent("pi_1", "")
	delete(pi.Metadata, "guest_email")

	_, err := resolveGuestPayment(pi, "a@b.com", nil)
	assert.ErrorIs(t, err, errEmailMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveGuestPaymentRejectsEmailMismatch(t *testing.T) {
	pi := succeededIntent("pi_1", "someone-else@b.com")

	_, err := resolveGuestPayment(pi, "a@b.com", nil)
	assert.ErrorIs(t, err, errEmailMismatch)
}

func TestResolveGuestPaymentShortCircuitsOnLinkedOrder(t *testing.T) {
	mock := setupMockDB(t)
	pi := succeededIntent("pi_1", "a@b.com")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_1").
		WillReturnRows(orderRow(42, 7, "completed", "paid", "pi_1", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(userRow(7, "a@b.com"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders WHERE user_id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	resolution, err := resolveGuestPayment(pi, "a@b.com", nil)
	require.NoError(t, err)

	assert.False(t, resolution.IsNewAccount)
	assert.Equal(t, int64(42), resolution.Order.ID)
	assert.Equal(t, int64(7), resolution.User.ID)
	assert.Equal(t, 2, resolution.ExistingOrdersMerged)
	assert.NoError(t, mock.ExpectationsWereMet(), "no account may be created on re-invocation")
}

func TestResolveGuestPaymentReusesExistingAccount(t *testing.T) {
	mock := setupMockDB(t)
	pi := succeededIntent("pi_1", "a@b.com")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_1").
		WillReturnRows(orderRow(42, nil, "completed", "paid", "pi_1", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = ?")).
		WithArgs("a@b.com").
		WillReturnRows(userRow(7, "a@b.com"))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("completed", "paid", "pi_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_1").
		WillReturnRows(orderRow(42, nil, "completed", "paid", "pi_1", ""))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET user_id")).
		WithArgs(int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders WHERE user_id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	resolution, err := resolveGuestPayment(pi, "a@b.com", nil)
	require.NoError(t, err)

	assert.False(t, resolution.IsNewAccount, "pre-existing account is reused, never recreated")
	require.NotNil(t, resolution.Order.UserID)
	assert.Equal(t, int64(7), *resolution.Order.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveGuestPaymentRebuildsMissingOrderFromIntent(t *testing.T) {
	mock := setupMockDB(t)
	pi := succeededIntent("pi_orphan", "a@b.com")
	items := []models.CheckoutItem{
		{ProductID: "v1", ProductName: "Resume Review", Quantity: 1, Price: 9900},
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_orphan").
		WillReturnError(sql.ErrNoRows)
	// rebuilt from the intent's authoritative amount
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(nil, int64(9900), "usd", "pending", "unpaid", "pi_orphan", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(50, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(int64(50), "v1", "Resume Review", 1, int64(9900)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = ?")).
		WithArgs("a@b.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("a@b.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("completed", "paid", "pi_orphan").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_orphan").
		WillReturnRows(orderRow(50, nil, "completed", "paid", "pi_orphan", ""))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET user_id")).
		WithArgs(int64(7), int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders WHERE user_id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	resolution, err := resolveGuestPayment(pi, "a@b.com", items)
	require.NoError(t, err)

	assert.True(t, resolution.IsNewAccount)
	assert.Equal(t, 0, resolution.ExistingOrdersMerged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteGuestCheckoutEndpoint(t *testing.T) {
	fake := setupFake(t)
	mock := setupMockDB(t)
	fake.intent = succeededIntent("pi_1", "a@b.com")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_1").
		WillReturnRows(orderRow(42, 7, "completed", "paid", "pi_1", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(userRow(7, "a@b.com"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders WHERE user_id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := postJSON(newRouter(), "/checkout/guest/complete", map[string]interface{}{
		"paymentIntentId": "pi_1",
		"tempOrderId":     "tmp_1",
		"email":           "a@b.com",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		IsNewAccount         bool `json:"isNewAccount"`
		ExistingOrdersMerged int  `json:"existingOrdersMerged"`
		User                 struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsNewAccount)
	assert.Equal(t, int64(7), resp.User.ID)
}

func TestCompleteGuestCheckoutRejectsReplayedAuthenticatedIntent(t *testing.T) {
	fake := setupFake(t)
	mock := setupMockDB(t)
	fake.intent = &stripe.PaymentIntent{
		ID:       "pi_auth",
		Amount:   9900,
		Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{"user_id": "7"},
	}

	w := postJSON(newRouter(), "/checkout/guest/complete", map[string]interface{}{
		"paymentIntentId": "pi_auth",
		"email":           "attacker@evil.com",
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "not_guest_checkout")
	// no account data is returned and no order is touched
	assert.NotContains(t, w.Body.String(), "user_id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteGuestCheckoutSignalsProcessingErrorDistinctly(t *testing.T) {
	fake := setupFake(t)
	mock := setupMockDB(t)
	fake.intent = succeededIntent("pi_1", "a@b.com")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE stripe_payment_intent_id = ?")).
		WithArgs("pi_1").
		WillReturnError(sql.ErrConnDone)

	w := postJSON(newRouter(), "/checkout/guest/complete", map[string]interface{}{
		"paymentIntentId": "pi_1",
		"email":           "a@b.com",
	})

	// money moved, linkage failed: must not read as a payment error
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "processing_error")
}
