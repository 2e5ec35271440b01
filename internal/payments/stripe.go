package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tedsai/complex-orders/internal/orders"
)

const metaOrderID = "order_id"

type StripeGateway struct {
	sessions      session.Client
	coupons       coupon.Client
	webhookSecret string
}

// NewStripeGateway builds a client whose API calls give up after timeout and
// are never retried by the SDK; retries belong to the caller.
func NewStripeGateway(secretKey, webhookSecret string, timeout time.Duration) *StripeGateway {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	return &StripeGateway{
		sessions:      session.Client{B: backend, Key: secretKey},
		coupons:       coupon.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metaOrderID: req.OrderID},
		},
	}
	params.Context = ctx
	params.AddMetadata(metaOrderID, req.OrderID)
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}

	for _, it := range req.Items {
		params.LineItems = append(params.LineItems, priceLine(currency, it.Name, it.UnitPrice, int64(it.Quantity)))
	}
	if req.Totals.Tax > 0 {
		params.LineItems = append(params.LineItems, priceLine(currency, "Tax", req.Totals.Tax, 1))
	}
	if req.Totals.Shipping > 0 {
		params.LineItems = append(params.LineItems, priceLine(currency, "Shipping", req.Totals.Shipping, 1))
	}
	if req.Totals.Discount > 0 {
		cp := &stripe.CouponParams{
			AmountOff:      stripe.Int64(req.Totals.Discount),
			Currency:       stripe.String(currency),
			Duration:       stripe.String(string(stripe.CouponDurationOnce)),
			MaxRedemptions: stripe.Int64(1),
			Name:           stripe.String("Promo " + shortID(req.OrderID)),
		}
		cp.Context = ctx
		c, err := g.coupons.New(cp)
		if err != nil {
			return Session{}, fmt.Errorf("%w: stripe create coupon: %w", orders.ErrGateway, err)
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(c.ID)}}
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("%w: stripe create session: %w", orders.ErrGateway, err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func priceLine(currency, name string, unit, qty int64) *stripe.CheckoutSessionLineItemParams {
	if name == "" {
		name = "Item"
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(unit),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
		Quantity: stripe.Int64(qty),
	}
}

func (g *StripeGateway) ExpireSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.sessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("%w: stripe expire session %s: %w", orders.ErrGateway, sessionID, err)
	}
	return nil
}

// ParseWebhook checks the Stripe-Signature header against the endpoint secret
// using the SDK's verification over the unparsed body.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (CardEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return CardEvent{}, fmt.Errorf("%w: %w", ErrSignature, err)
	}
	out := CardEvent{ID: ev.ID, Kind: CardOther, RawType: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return out, fmt.Errorf("decode checkout session: %w", err)
		}
		out.SessionID = s.ID
		out.OrderID = s.Metadata[metaOrderID]
		if s.PaymentIntent != nil {
			out.PaymentIntentID = s.PaymentIntent.ID
		}
		switch {
		case ev.Type == stripe.EventTypeCheckoutSessionExpired:
			out.Kind = CardCheckoutExpired
		case ev.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
			out.Kind = CardPaymentFailed
		case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid:
			// delayed payment methods complete later via async_payment_succeeded
			out.Kind = CardOther
		default:
			out.Kind = CardCheckoutCompleted
		}

	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Kind = CardPaymentFailed
		out.PaymentIntentID = pi.ID
		out.OrderID = pi.Metadata[metaOrderID]
	}
	return out, nil
}
