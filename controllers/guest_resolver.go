package controllers

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"checkout-service/database"
	"checkout-service/middlewares"
	"checkout-service/models"
	"checkout-service/utils"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	"golang.org/x/crypto/bcrypt"
)

const guestPasswordLength = 24

var (
	errPaymentIncomplete = errors.New("payment not completed")
	errNotGuestPayment   = errors.New("payment was not a guest checkout")
	errEmailMismatch     = errors.New("email does not match payment record")
)

type guestResolution struct {
	User                 *models.User
	Order                *models.Order
	IsNewAccount         bool
	ExistingOrdersMerged int
}

// CompleteGuestCheckout is the client-confirmation path of guest resolution.
// The webhook path triggers the same resolver, so both must tolerate the
// other having run first.
func CompleteGuestCheckout(c *gin.Context) {
	defer func() {
		ok := c.Writer.Status() >= 200 && c.Writer.Status() < 300
		middlewares.RecordCheckoutOperation("guest_complete", ok)
	}()

	var req models.GuestCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pi, err := paymentClient.GetPaymentIntent(req.PaymentIntentID)
	if err != nil {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"code":  "payment_error",
			"error": stripeErrorMessage(err),
		})
		return
	}

	// the client-held copy of the cart is untrusted; the intent's own
	// metadata carries the server-side item list when present
	items := itemsFromMetadata(pi.Metadata)
	if len(items) == 0 {
		items = req.Items
	}

	resolution, err := resolveGuestPayment(pi, req.Email, items)
	if err != nil {
		switch {
		case errors.Is(err, errPaymentIncomplete):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"code":  "payment_incomplete",
				"error": "Payment has not completed",
			})
		case errors.Is(err, errNotGuestPayment):
			c.JSON(http.StatusForbidden, gin.H{
				"code":  "not_guest_checkout",
				"error": "Payment was not a guest checkout",
			})
		case errors.Is(err, errEmailMismatch):
			c.JSON(http.StatusForbidden, gin.H{
				"code":  "email_mismatch",
				"error": "Email does not match the payment record",
			})
		default:
			// the money has moved; this must read as a processing failure,
			// never as a payment failure
			log.Printf("Guest resolution failed for %s: %v", req.PaymentIntentID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "processing_error",
				"error": "Payment succeeded but account setup failed, please contact support",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":    resolution.User.ID,
			"email": resolution.User.Email,
		},
		"order":                resolution.Order,
		"isNewAccount":         resolution.IsNewAccount,
		"existingOrdersMerged": resolution.ExistingOrdersMerged,
	})
}

// resolveGuestPayment finds or creates the account for a verified successful
// guest payment and links the order to it. Idempotent: an already-linked
// order short-circuits with the existing account, so webhook redelivery and
// the client-confirmation path can both call it.
func resolveGuestPayment(pi *stripe.PaymentIntent, email string, items []models.CheckoutItem) (*guestResolution, error) {
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, errPaymentIncomplete
	}

	// only intents minted by the guest initiator may be resolved; an
	// authenticated-flow intent id replayed against this path must not leak
	// the owning account or let a caller attach the order to a new one
	if pi.Metadata["guest_checkout"] != "true" {
		return nil, errNotGuestPayment
	}
	metaEmail := pi.Metadata["guest_email"]
	if metaEmail == "" || !strings.EqualFold(metaEmail, email) {
		return nil, errEmailMismatch
	}

	order, err := database.GetOrderByPaymentIntentID(pi.ID)
	switch {
	case err == nil && order.UserID != nil:
		// already resolved, return the existing linkage
		user, err := database.GetUserByID(*order.UserID)
		if err != nil {
			return nil, fmt.Errorf("load linked user: %w", err)
		}
		merged, err := mergedOrderCount(user.ID)
		if err != nil {
			return nil, err
		}
		return &guestResolution{
			User:                 user,
			Order:                order,
			ExistingOrdersMerged: merged,
		}, nil

	case errors.Is(err, sql.ErrNoRows):
		// initiation never persisted the order; rebuild it from the
		// intent's authoritative amount, not from anything client-held
		_, err := database.CreatePendingOrder(database.CreateOrderParams{
			TotalAmount:     pi.Amount,
			Currency:        string(pi.Currency),
			PaymentIntentID: pi.ID,
			Metadata:        marshalMetadata(pi.Metadata),
			Items:           items,
		})
		if err != nil {
			return nil, fmt.Errorf("recreate order: %w", err)
		}

	case err != nil:
		return nil, fmt.Errorf("load order: %w", err)
	}

	user, isNew, err := findOrCreateGuestUser(email)
	if err != nil {
		return nil, err
	}

	if _, err := database.MarkOrderPaidByIntent(pi.ID); err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}

	order, err = database.GetOrderByPaymentIntentID(pi.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}

	if order.UserID == nil {
		if _, err := database.AttachOrderUser(order.ID, user.ID); err != nil {
			return nil, fmt.Errorf("attach user: %w", err)
		}
		order.UserID = &user.ID
	}

	merged, err := mergedOrderCount(user.ID)
	if err != nil {
		return nil, err
	}

	if isNew && rabbitMQ != nil {
		if err := rabbitMQ.PublishEmailJob(models.EmailJob{
			Template: "guest_account_welcome",
			To:       user.Email,
			OrderID:  order.ID,
		}); err != nil {
			log.Printf("Failed to queue welcome email for %s: %v", user.Email, err)
		}
	}

	return &guestResolution{
		User:                 user,
		Order:                order,
		IsNewAccount:         isNew,
		ExistingOrdersMerged: merged,
	}, nil
}

// findOrCreateGuestUser reuses a pre-existing account untouched; otherwise it
// creates one with a random password and a pre-confirmed email. Loses the
// unique-email race gracefully by re-fetching the winner.
func findOrCreateGuestUser(email string) (*models.User, bool, error) {
	user, err := database.GetUserByEmail(email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("look up user: %w", err)
	}

	password, err := utils.GenerateRandomPassword(guestPasswordLength)
	if err != nil {
		return nil, false, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	user, err = database.CreateGuestUser(email, string(hash))
	if errors.Is(err, database.ErrUserExists) {
		user, err = database.GetUserByEmail(email)
		if err != nil {
			return nil, false, fmt.Errorf("refetch user: %w", err)
		}
		return user, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

// mergedOrderCount counts the account's orders beyond the one being linked.
func mergedOrderCount(userID int64) (int, error) {
	count, err := database.CountOrdersByUserID(userID)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		count--
	}
	return count, nil
}
