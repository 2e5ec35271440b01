package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
)

const (
	momoScope           = "flutterwave"
	EventChargeComplete = "charge.completed"
)

// MomoWebhook is the part of a Flutterwave webhook body reconciliation reads.
// Everything in it is untrusted until the transaction is verified.
type MomoWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID     json.Number `json:"id"`
		TxRef  string      `json:"tx_ref"`
		Status string      `json:"status"`
	} `json:"data"`
}

// Momo reconciles mobile-money payments by verifying each transaction with
// the gateway before touching the order.
type Momo struct {
	Deps
	Gateway        payments.MobileMoneyGateway
	GatewayTimeout time.Duration
}

// HandleWebhook verifies the transaction named by a charge.completed webhook
// and applies the verified result.
func (m *Momo) HandleWebhook(ctx context.Context, hook MomoWebhook) (Outcome, error) {
	txID := hook.Data.ID.String()
	log := m.logger().With(slog.String("event", hook.Event), slog.String("transaction_id", txID))
	if hook.Event != EventChargeComplete || txID == "" {
		log.InfoContext(ctx, "momo webhook ignored")
		return OutcomeIgnored, nil
	}
	if !m.claim(ctx, momoScope, txID) {
		log.InfoContext(ctx, "momo webhook already processed")
		return OutcomeDuplicate, nil
	}

	v, err := m.verify(ctx, func(ctx context.Context) (payments.Verification, error) {
		return m.Gateway.Verify(ctx, txID)
	})
	if err != nil {
		m.forget(ctx, momoScope, txID)
		log.ErrorContext(ctx, "momo verification failed", slog.Any("err", err))
		return "", err
	}
	if v.TxRef != hook.Data.TxRef {
		log.WarnContext(ctx, "webhook tx_ref differs from verified transaction",
			slog.String("webhook_tx_ref", hook.Data.TxRef), slog.String("tx_ref", v.TxRef))
	}

	outcome, _, err := m.apply(ctx, v)
	if err != nil || outcome == OutcomePending {
		// a later delivery for the same transaction must run again
		m.forget(ctx, momoScope, txID)
	}
	return outcome, err
}

// VerifyOrder is the poll path: it checks a pending mobile-money order with
// the gateway by its reference and returns the order as stored afterwards.
func (m *Momo) VerifyOrder(ctx context.Context, orderID string) (*orders.Order, Outcome, error) {
	tctx, cancel := m.bound(ctx)
	o, err := orders.Get(tctx, m.Store, orderID)
	cancel()
	if err != nil {
		return nil, "", err
	}
	if o.Gateway != orders.GatewayMobileMoney {
		return nil, "", fmt.Errorf("%w: order %s was not paid with mobile money", orders.ErrValidation, orderID)
	}
	if o.Status.Terminal() {
		return o, OutcomeReplay, nil
	}

	v, err := m.verify(ctx, func(ctx context.Context) (payments.Verification, error) {
		return m.Gateway.VerifyByReference(ctx, o.SessionID)
	})
	if err != nil {
		return nil, "", err
	}
	outcome, updated, err := m.apply(ctx, v)
	if err != nil {
		return nil, "", err
	}
	if updated == nil {
		updated = o
	}
	return updated, outcome, nil
}

// Summary counts the outcomes of a batch run.
type Summary struct {
	Checked int             `json:"checked"`
	Errors  int             `json:"errors"`
	ByKind  map[Outcome]int `json:"outcomes"`
}

// ReconcilePending verifies every pending mobile-money order older than
// olderThan. A failing order is logged and counted; the batch goes on.
func (m *Momo) ReconcilePending(ctx context.Context, lister orders.PendingLister, olderThan time.Duration, limit int) (Summary, error) {
	sum := Summary{ByKind: map[Outcome]int{}}
	pending, err := lister.ListPending(ctx, orders.GatewayMobileMoney, m.now().Add(-olderThan), limit)
	if err != nil {
		return sum, err
	}
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++
		_, outcome, err := m.VerifyOrder(ctx, o.ID)
		if err != nil {
			sum.Errors++
			m.logger().ErrorContext(ctx, "momo batch verify", slog.String("order_id", o.ID), slog.Any("err", err))
			continue
		}
		sum.ByKind[outcome]++
	}
	m.logger().InfoContext(ctx, "momo batch reconciliation done",
		slog.Int("checked", sum.Checked), slog.Int("errors", sum.Errors))
	return sum, nil
}

func (m *Momo) verify(ctx context.Context, call func(context.Context) (payments.Verification, error)) (payments.Verification, error) {
	gctx, cancel := withTimeout(ctx, m.GatewayTimeout)
	defer cancel()
	return call(gctx)
}

// apply moves the order referenced by a verified transaction. A successful
// payment confirms only when currency matches and the amount covers the total.
func (m *Momo) apply(ctx context.Context, v payments.Verification) (Outcome, *orders.Order, error) {
	log := m.logger().With(slog.String("tx_ref", v.TxRef), slog.String("transaction_id", v.TransactionID))
	if v.Status == payments.VerifyPending {
		log.InfoContext(ctx, "momo payment still pending")
		return OutcomePending, nil, nil
	}

	var (
		outcome Outcome
		order   *orders.Order
	)
	tctx, cancel := m.bound(ctx)
	err := m.Store.RunTx(tctx, func(ctx context.Context, tx orders.Tx) error {
		outcome, order = "", nil
		o, err := tx.OrderBySession(ctx, v.TxRef)
		if errors.Is(err, orders.ErrNotFound) {
			outcome = OutcomeMissed
			return nil
		}
		if err != nil {
			return err
		}
		order = o

		switch v.Status {
		case payments.VerifySuccessful:
			if o.Status != orders.StatusPending {
				outcome = OutcomeReplay
				return nil
			}
			if v.Currency != o.Currency || v.Amount < o.Total {
				outcome = OutcomeMismatch
				return nil
			}
			o.PaymentIntentID = v.TransactionID
			outcome, err = m.transition(ctx, tx, o, orders.StatusConfirmed, orders.PaymentPaid, "")
		case payments.VerifyFailed:
			outcome, err = m.transition(ctx, tx, o, orders.StatusCancelled, orders.PaymentFailed, orders.ReasonMomoVerifyFailed)
		}
		return err
	})
	cancel()
	if err != nil {
		return "", nil, fmt.Errorf("reconcile momo %s: %w", v.TxRef, err)
	}

	switch outcome {
	case OutcomeMissed:
		m.missed(ctx, "mobile_money", EventChargeComplete,
			slog.String("tx_ref", v.TxRef), slog.String("transaction_id", v.TransactionID))
	case OutcomeMismatch:
		log.ErrorContext(ctx, "verified payment does not match order",
			slog.String("alert", "momo_amount_mismatch"),
			slog.String("order_id", order.ID),
			slog.Int64("expected", order.Total), slog.String("currency", order.Currency),
			slog.Int64("paid", v.Amount), slog.String("paid_currency", v.Currency))
	case OutcomeReplay:
		log.InfoContext(ctx, "order already settled", slog.String("order_id", order.ID))
	case OutcomeApplied:
		log.InfoContext(ctx, "order reconciled",
			slog.String("order_id", order.ID), slog.String("status", string(order.Status)))
		if v.Status == payments.VerifySuccessful && m.Notifier != nil {
			m.Notifier.Dispatch(ctx, orders.EventMomoPaymentVerified, order.ID, orders.MomoVerifiedPayload{
				OrderID:       order.ID,
				TransactionID: v.TransactionID,
				TxRef:         v.TxRef,
				Amount:        v.Amount,
				Currency:      v.Currency,
				CustomerEmail: v.CustomerEmail,
			})
		}
		m.committed(ctx, order)
	}
	return outcome, order, nil
}
