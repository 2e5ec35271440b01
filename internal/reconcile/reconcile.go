// Package reconcile applies payment-gateway outcomes to orders: status
// transitions and the compensating stock release, committed together.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tedsai/complex-orders/internal/inventory"
	"github.com/tedsai/complex-orders/internal/notify"
	"github.com/tedsai/complex-orders/internal/orders"
)

// Outcome says what handling an event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate" // event id already claimed
	OutcomeReplay    Outcome = "replay"    // order already terminal
	OutcomeMissed    Outcome = "missed"    // no order for the event
	OutcomeIgnored   Outcome = "ignored"
	OutcomePending   Outcome = "pending"  // payment not settled yet
	OutcomeMismatch  Outcome = "mismatch" // verified payment does not cover the order
)

// Claimer deduplicates provider event deliveries.
type Claimer interface {
	Claim(ctx context.Context, scope, id string) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

type StatusCache interface {
	Put(ctx context.Context, o *orders.Order) error
}

// Deps is the wiring shared by the card and mobile-money reconcilers.
type Deps struct {
	Store     orders.Store
	Dedup     Claimer         // optional
	Cache     StatusCache     // optional
	Notifier  notify.Notifier // optional
	Trackable map[string]bool // inventory categories under stock management
	TxTimeout time.Duration
	Log       *slog.Logger
	Now       func() time.Time
}

// transition moves o and, for cancellations, gives its reserved stock back
// inside tx. A terminal order reports OutcomeReplay and is left untouched.
func (d *Deps) transition(ctx context.Context, tx orders.Tx, o *orders.Order, to orders.Status, pay orders.PaymentStatus, reason string) (Outcome, error) {
	if err := o.Transition(to, pay, reason, d.now()); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) {
			return OutcomeReplay, nil
		}
		return "", err
	}
	if to == orders.StatusCancelled {
		if len(o.Items) > 0 {
			batch, err := inventory.Merge(orders.StockRequests(o.Items))
			if err != nil {
				return "", err
			}
			if _, err := inventory.ReleaseTrackedTx(ctx, tx, batch, orders.TrackedCategories(d.Trackable)); err != nil {
				return "", err
			}
		}
	}
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// committed publishes the effects of an applied transition.
func (d *Deps) committed(ctx context.Context, o *orders.Order) {
	if d.Cache != nil {
		if err := d.Cache.Put(ctx, o); err != nil {
			d.logger().WarnContext(ctx, "cache order status", slog.String("order_id", o.ID), slog.Any("err", err))
		}
	}
	if d.Notifier == nil {
		return
	}
	ev := orders.EventOrderCancelled
	if o.Status == orders.StatusConfirmed {
		ev = orders.EventOrderPaid
	}
	d.Notifier.Dispatch(ctx, ev, o.ID, orders.NewOrderEventPayload(o))
}

// missed logs an event that matched no order. The alert attribute feeds
// log-based alerting.
func (d *Deps) missed(ctx context.Context, gateway, eventType string, attrs ...any) {
	d.logger().WarnContext(ctx, "reconciliation miss",
		append([]any{
			slog.String("alert", "reconciliation_miss"),
			slog.String("gateway", gateway),
			slog.String("event_type", eventType),
		}, attrs...)...)
}

func (d *Deps) claim(ctx context.Context, scope, id string) bool {
	if d.Dedup == nil || id == "" {
		return true
	}
	first, err := d.Dedup.Claim(ctx, scope, id)
	if err != nil {
		// the status guard still makes redelivery safe
		d.logger().WarnContext(ctx, "dedup claim failed", slog.String("id", id), slog.Any("err", err))
		return true
	}
	return first
}

func (d *Deps) forget(ctx context.Context, scope, id string) {
	if d.Dedup == nil || id == "" {
		return
	}
	if err := d.Dedup.Forget(context.WithoutCancel(ctx), scope, id); err != nil {
		d.logger().WarnContext(ctx, "dedup release failed", slog.String("id", id), slog.Any("err", err))
	}
}

func (d *Deps) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, d.TxTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Deps) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}
