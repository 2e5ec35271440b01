package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
)

const cardScope = "webhook"

// Card reconciles verified card-gateway webhook events.
type Card struct {
	Deps
}

// HandleEvent applies one event. A returned error means the provider should
// redeliver; the dedup claim is released so the retry is processed.
func (c *Card) HandleEvent(ctx context.Context, ev payments.CardEvent) (Outcome, error) {
	log := c.logger().With(slog.String("event_id", ev.ID), slog.String("event_type", ev.RawType))
	if ev.Kind == payments.CardOther {
		log.InfoContext(ctx, "card webhook ignored")
		return OutcomeIgnored, nil
	}
	if !c.claim(ctx, cardScope, ev.ID) {
		log.InfoContext(ctx, "card webhook already processed")
		return OutcomeDuplicate, nil
	}

	var (
		outcome Outcome
		order   *orders.Order
	)
	tctx, cancel := c.bound(ctx)
	err := c.Store.RunTx(tctx, func(ctx context.Context, tx orders.Tx) error {
		outcome, order = "", nil
		o, err := c.find(ctx, tx, ev)
		if errors.Is(err, orders.ErrNotFound) {
			outcome = OutcomeMissed
			return nil
		}
		if err != nil {
			return err
		}
		order = o

		switch ev.Kind {
		case payments.CardCheckoutCompleted:
			if ev.PaymentIntentID != "" && o.Status == orders.StatusPending {
				o.PaymentIntentID = ev.PaymentIntentID
			}
			outcome, err = c.transition(ctx, tx, o, orders.StatusConfirmed, orders.PaymentPaid, "")
		case payments.CardCheckoutExpired:
			outcome, err = c.transition(ctx, tx, o, orders.StatusCancelled, orders.PaymentExpired, orders.ReasonSessionExpired)
		case payments.CardPaymentFailed:
			if o.PaymentIntentID == "" && o.Status == orders.StatusPending {
				o.PaymentIntentID = ev.PaymentIntentID
			}
			outcome, err = c.transition(ctx, tx, o, orders.StatusCancelled, orders.PaymentFailed, orders.ReasonPaymentFailed)
		default:
			outcome = OutcomeIgnored
		}
		return err
	})
	cancel()
	if err != nil {
		c.forget(ctx, cardScope, ev.ID)
		log.ErrorContext(ctx, "card reconciliation failed", slog.Any("err", err))
		return "", fmt.Errorf("reconcile %s: %w", ev.RawType, err)
	}

	switch outcome {
	case OutcomeMissed:
		c.missed(ctx, "card", ev.RawType,
			slog.String("event_id", ev.ID),
			slog.String("session_id", ev.SessionID),
			slog.String("payment_intent_id", ev.PaymentIntentID),
			slog.String("order_id", ev.OrderID))
	case OutcomeReplay:
		if ev.Kind == payments.CardCheckoutCompleted && order.Status == orders.StatusCancelled {
			// money was taken for an order whose stock went back on sale
			log.ErrorContext(ctx, "payment completed for cancelled order",
				slog.String("alert", "paid_cancelled_order"),
				slog.String("order_id", order.ID),
				slog.String("payment_status", string(order.PaymentStatus)),
				slog.String("payment_intent_id", ev.PaymentIntentID))
			break
		}
		log.InfoContext(ctx, "order already settled",
			slog.String("order_id", order.ID), slog.String("status", string(order.Status)))
	case OutcomeApplied:
		log.InfoContext(ctx, "order reconciled",
			slog.String("order_id", order.ID),
			slog.String("status", string(order.Status)),
			slog.String("payment_status", string(order.PaymentStatus)))
		c.committed(ctx, order)
	}
	return outcome, nil
}

// find locates the order an event refers to. Failed intents fall back to the
// order id in the intent metadata, then to the session id.
func (c *Card) find(ctx context.Context, tx orders.Tx, ev payments.CardEvent) (*orders.Order, error) {
	if ev.Kind != payments.CardPaymentFailed {
		return tx.OrderBySession(ctx, ev.SessionID)
	}
	if ev.PaymentIntentID != "" {
		o, err := tx.OrderByPaymentIntent(ctx, ev.PaymentIntentID)
		if !errors.Is(err, orders.ErrNotFound) {
			return o, err
		}
	}
	if ev.OrderID != "" {
		o, err := tx.GetOrder(ctx, ev.OrderID)
		if !errors.Is(err, orders.ErrNotFound) {
			return o, err
		}
	}
	if ev.SessionID != "" {
		return tx.OrderBySession(ctx, ev.SessionID)
	}
	return nil, orders.ErrNotFound
}
