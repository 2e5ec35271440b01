// Package payments holds the clients for the hosted-checkout providers: a
// card gateway (Stripe) that pushes signed webhooks and a mobile-money gateway
// (Flutterwave) whose outcomes are confirmed by a verify call.
package payments

import (
	"context"
	"errors"

	"github.com/tedsai/complex-orders/internal/orders"
)

// ErrSignature is returned when a webhook fails authenticity checks.
var ErrSignature = errors.New("webhook signature verification failed")

type SessionRequest struct {
	OrderID    string
	Currency   string
	Items      []orders.LineItem
	Totals     orders.Totals
	Customer   orders.Customer
	SuccessURL string
	CancelURL  string
}

type Session struct {
	ID  string
	URL string
}

// CheckoutGateway opens hosted checkout sessions.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// ExpireSession voids a session that will never back an order.
	ExpireSession(ctx context.Context, sessionID string) error
}

type CardEventKind string

const (
	CardCheckoutCompleted CardEventKind = "checkout_completed"
	CardCheckoutExpired   CardEventKind = "checkout_expired"
	CardPaymentFailed     CardEventKind = "payment_intent_failed"
	CardOther             CardEventKind = "other"
)

// CardEvent is a verified card-gateway webhook reduced to what reconciliation
// needs.
type CardEvent struct {
	ID              string
	Kind            CardEventKind
	RawType         string
	SessionID       string
	PaymentIntentID string
	OrderID         string // from provider-side metadata, may be empty
}

type CardGateway interface {
	CheckoutGateway
	// ParseWebhook verifies signature over the raw body and decodes it.
	ParseWebhook(payload []byte, signature string) (CardEvent, error)
}

type VerifyStatus string

const (
	VerifyPending    VerifyStatus = "pending"
	VerifySuccessful VerifyStatus = "successful"
	VerifyFailed     VerifyStatus = "failed"
)

type Verification struct {
	TransactionID string
	TxRef         string
	Status        VerifyStatus
	Amount        int64 // minor units
	Currency      string
	CustomerEmail string
}

type MobileMoneyGateway interface {
	CheckoutGateway
	Verify(ctx context.Context, transactionID string) (Verification, error)
	VerifyByReference(ctx context.Context, txRef string) (Verification, error)
	// CheckWebhookHash reports whether the shared-secret header matches.
	CheckWebhookHash(got string) bool
}
