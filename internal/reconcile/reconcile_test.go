package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tedsai/complex-orders/internal/checkout"
	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
	"github.com/tedsai/complex-orders/internal/testutil"
)

var trackable = map[string]bool{orders.CategoryTrackable: true}

type env struct {
	store *testutil.MemStore
	card  *testutil.FakeGateway
	momo  *testutil.FakeGateway
	rec   *testutil.Recorder
	co    *checkout.Service
	cr    *Card
	mr    *Momo
}

func newEnv() *env {
	e := &env{
		store: testutil.NewMemStore(),
		card:  &testutil.FakeGateway{},
		momo:  &testutil.FakeGateway{Prefix: "tedsai-", Verifications: map[string]payments.Verification{}},
		rec:   &testutil.Recorder{},
	}
	e.co = &checkout.Service{
		Store: e.store,
		Gateways: map[orders.Gateway]payments.CheckoutGateway{
			orders.GatewayCard:        e.card,
			orders.GatewayMobileMoney: e.momo,
		},
		Notifier:  e.rec,
		Pricing:   orders.Pricing{TaxRate: decimal.Zero},
		Trackable: trackable,
		Currency:  "XAF",
	}
	deps := Deps{Store: e.store, Dedup: &testutil.MemClaimer{}, Notifier: e.rec, Trackable: trackable}
	e.cr = &Card{Deps: deps}
	e.mr = &Momo{Deps: deps, Gateway: e.momo}
	return e
}

func (e *env) checkout(t *testing.T, gw orders.Gateway, qty int) checkout.Result {
	t.Helper()
	res, err := e.co.Checkout(context.Background(), checkout.Request{
		Items:   []checkout.CartItem{{ProductID: "p1", Name: "Honey", Price: 1000, Quantity: qty}},
		Gateway: gw,
	})
	require.NoError(t, err)
	return res
}

func (e *env) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, ok := e.store.Order(id)
	require.True(t, ok)
	return o
}

func TestScenario_CompletedKeepsStockReserved(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayCard, 2)
	assert.Equal(t, 3, e.store.Stock("p1"))
	assert.Equal(t, orders.StatusPending, e.order(t, res.OrderID).Status)

	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{
		ID: "evt_1", Kind: payments.CardCheckoutCompleted, SessionID: res.SessionID, PaymentIntentID: "pi_1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := e.order(t, res.OrderID)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "pi_1", o.PaymentIntentID)
	assert.NotNil(t, o.PaidAt)
	assert.Equal(t, 3, e.store.Stock("p1"))
	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventOrderPaid}, e.rec.Types())
}

func TestScenario_ExpiredRestoresStock(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayCard, 2)

	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{
		ID: "evt_2", Kind: payments.CardCheckoutExpired, SessionID: res.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := e.order(t, res.OrderID)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.PaymentExpired, o.PaymentStatus)
	assert.Equal(t, orders.ReasonSessionExpired, o.StatusReason)
	assert.Equal(t, 5, e.store.Stock("p1"))
}

func TestExpiredReplay_ReleasesOnce(t *testing.T) {
	for name, dedup := range map[string]Claimer{"with dedup": &testutil.MemClaimer{}, "status guard only": nil} {
		t.Run(name, func(t *testing.T) {
			e := newEnv()
			e.cr.Dedup = dedup
			e.store.SetStock("p1", 5)
			res := e.checkout(t, orders.GatewayCard, 2)
			ev := payments.CardEvent{ID: "evt_3", Kind: payments.CardCheckoutExpired, SessionID: res.SessionID}

			_, err := e.cr.HandleEvent(context.Background(), ev)
			require.NoError(t, err)
			out, err := e.cr.HandleEvent(context.Background(), ev)
			require.NoError(t, err)

			assert.Contains(t, []Outcome{OutcomeDuplicate, OutcomeReplay}, out)
			assert.Equal(t, 5, e.store.Stock("p1"))
		})
	}
}

func TestExpiredAfterCompleted_IsNoop(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayCard, 2)

	_, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{ID: "a", Kind: payments.CardCheckoutCompleted, SessionID: res.SessionID})
	require.NoError(t, err)
	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{ID: "b", Kind: payments.CardCheckoutExpired, SessionID: res.SessionID})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplay, out)
	assert.Equal(t, orders.StatusConfirmed, e.order(t, res.OrderID).Status)
	assert.Equal(t, 3, e.store.Stock("p1"))
}

func TestCompletedAfterPaymentFailed_RaisesAlert(t *testing.T) {
	e := newEnv()
	var logs bytes.Buffer
	e.cr.Log = slog.New(slog.NewJSONHandler(&logs, nil))
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayCard, 2)

	_, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{
		ID: "evt_f", Kind: payments.CardPaymentFailed, PaymentIntentID: "pi_9", SessionID: res.SessionID,
	})
	require.NoError(t, err)
	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{
		ID: "evt_c", Kind: payments.CardCheckoutCompleted, PaymentIntentID: "pi_9", SessionID: res.SessionID,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplay, out)
	assert.Equal(t, orders.StatusCancelled, e.order(t, res.OrderID).Status)
	assert.Equal(t, 5, e.store.Stock("p1"))
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
	assert.Contains(t, logs.String(), `"alert":"paid_cancelled_order"`)
}

func TestPaymentFailed_FallsBackToMetadataOrderID(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayCard, 1)

	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{
		ID: "evt_4", Kind: payments.CardPaymentFailed, PaymentIntentID: "pi_unknown", OrderID: res.OrderID,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := e.order(t, res.OrderID)
	assert.Equal(t, orders.PaymentFailed, o.PaymentStatus)
	assert.Equal(t, orders.ReasonPaymentFailed, o.StatusReason)
	assert.Equal(t, "pi_unknown", o.PaymentIntentID)
	assert.Equal(t, 5, e.store.Stock("p1"))
	assert.Equal(t, orders.EventOrderCancelled, e.rec.Types()[1])
}

func TestUnknownSession_IsMissNotError(t *testing.T) {
	e := newEnv()
	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{
		ID: "evt_5", Kind: payments.CardCheckoutCompleted, SessionID: "cs_nope",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissed, out)
}

func TestOtherEvents_Ignored(t *testing.T) {
	e := newEnv()
	out, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{ID: "evt_6", Kind: payments.CardOther, RawType: "charge.refunded"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Zero(t, e.store.TxCount)
}

func TestStoreFailure_ReleasesClaimForRetry(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayCard, 2)
	ev := payments.CardEvent{ID: "evt_7", Kind: payments.CardCheckoutExpired, SessionID: res.SessionID}

	e.store.FailNext = orders.ErrStorageUnavailable
	_, err := e.cr.HandleEvent(context.Background(), ev)
	require.ErrorIs(t, err, orders.ErrStorageUnavailable)
	assert.Equal(t, 3, e.store.Stock("p1"))

	out, err := e.cr.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, 5, e.store.Stock("p1"))
}

func momoHook(id, txRef string) MomoWebhook {
	var h MomoWebhook
	h.Event = EventChargeComplete
	h.Data.ID = json.Number(id)
	h.Data.TxRef = txRef
	return h
}

func TestMomo_SuccessfulVerificationConfirms(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayMobileMoney, 2)
	e.momo.Verifications["77"] = payments.Verification{
		TransactionID: "77", TxRef: res.SessionID, Status: payments.VerifySuccessful, Amount: res.Total, Currency: "XAF",
	}

	out, err := e.mr.HandleWebhook(context.Background(), momoHook("77", res.SessionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := e.order(t, res.OrderID)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, "77", o.PaymentIntentID)
	assert.Equal(t, 3, e.store.Stock("p1"))
	assert.Contains(t, e.rec.Types(), orders.EventMomoPaymentVerified)

	out, err = e.mr.HandleWebhook(context.Background(), momoHook("77", res.SessionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
}

func TestMomo_FailedVerificationCancelsAndReleases(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayMobileMoney, 2)
	e.momo.Verifications["78"] = payments.Verification{TransactionID: "78", TxRef: res.SessionID, Status: payments.VerifyFailed}

	_, err := e.mr.HandleWebhook(context.Background(), momoHook("78", res.SessionID))
	require.NoError(t, err)

	o := e.order(t, res.OrderID)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.ReasonMomoVerifyFailed, o.StatusReason)
	assert.Equal(t, 5, e.store.Stock("p1"))
}

func TestMomo_AmountMismatchDoesNotConfirm(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayMobileMoney, 2)
	e.momo.Verifications["79"] = payments.Verification{
		TransactionID: "79", TxRef: res.SessionID, Status: payments.VerifySuccessful, Amount: res.Total - 1, Currency: "XAF",
	}

	out, err := e.mr.HandleWebhook(context.Background(), momoHook("79", res.SessionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, out)
	assert.Equal(t, orders.StatusPending, e.order(t, res.OrderID).Status)
}

func TestMomo_SpoofedWebhookNeedsVerification(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayMobileMoney, 2)

	_, err := e.mr.HandleWebhook(context.Background(), momoHook("999", res.SessionID))
	require.ErrorIs(t, err, orders.ErrGateway)
	assert.Equal(t, orders.StatusPending, e.order(t, res.OrderID).Status)
}

func TestMomo_PendingLeavesOrderAndAllowsRedelivery(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayMobileMoney, 1)
	e.momo.Verifications["80"] = payments.Verification{TransactionID: "80", TxRef: res.SessionID, Status: payments.VerifyPending}

	out, err := e.mr.HandleWebhook(context.Background(), momoHook("80", res.SessionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, out)

	e.momo.Verifications["80"] = payments.Verification{
		TransactionID: "80", TxRef: res.SessionID, Status: payments.VerifySuccessful, Amount: res.Total, Currency: "XAF",
	}
	out, err = e.mr.HandleWebhook(context.Background(), momoHook("80", res.SessionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
}

func TestMomo_IgnoresOtherEvents(t *testing.T) {
	e := newEnv()
	h := momoHook("1", "x")
	h.Event = "transfer.completed"
	out, err := e.mr.HandleWebhook(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
}

func TestMomo_VerifyOrder(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 5)
	res := e.checkout(t, orders.GatewayMobileMoney, 1)
	e.momo.Verifications[res.SessionID] = payments.Verification{
		TransactionID: "81", TxRef: res.SessionID, Status: payments.VerifySuccessful, Amount: res.Total, Currency: "XAF",
	}

	o, out, err := e.mr.VerifyOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, orders.StatusConfirmed, o.Status)

	o, out, err = e.mr.VerifyOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, out)
	assert.Equal(t, orders.StatusConfirmed, o.Status)

	card := e.checkout(t, orders.GatewayCard, 1)
	_, _, err = e.mr.VerifyOrder(context.Background(), card.OrderID)
	assert.ErrorIs(t, err, orders.ErrValidation)

	_, _, err = e.mr.VerifyOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestMomo_ReconcilePending(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 10)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.co.Now = func() time.Time { return clock }

	paid := e.checkout(t, orders.GatewayMobileMoney, 1)
	failed := e.checkout(t, orders.GatewayMobileMoney, 2)
	unknown := e.checkout(t, orders.GatewayMobileMoney, 1)
	e.momo.Verifications[paid.SessionID] = payments.Verification{TxRef: paid.SessionID, Status: payments.VerifySuccessful, Amount: paid.Total, Currency: "XAF"}
	e.momo.Verifications[failed.SessionID] = payments.Verification{TxRef: failed.SessionID, Status: payments.VerifyFailed}
	_ = unknown

	e.mr.Now = func() time.Time { return clock.Add(time.Hour) }
	sum, err := e.mr.ReconcilePending(context.Background(), e.store, 15*time.Minute, 100)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Checked)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 2, sum.ByKind[OutcomeApplied])
	assert.Equal(t, orders.StatusConfirmed, e.order(t, paid.OrderID).Status)
	assert.Equal(t, orders.StatusCancelled, e.order(t, failed.OrderID).Status)
	assert.Equal(t, orders.StatusPending, e.order(t, unknown.OrderID).Status)
	assert.Equal(t, 8, e.store.Stock("p1"))
}

func TestMomo_ReconcilePendingSkipsFreshOrders(t *testing.T) {
	e := newEnv()
	e.store.SetStock("p1", 10)
	e.checkout(t, orders.GatewayMobileMoney, 1)

	sum, err := e.mr.ReconcilePending(context.Background(), e.store, time.Hour, 100)
	require.NoError(t, err)
	assert.Zero(t, sum.Checked)
}

func TestCard_StoreErrorSurfaces(t *testing.T) {
	e := newEnv()
	e.store.FailNext = errors.New("boom")
	_, err := e.cr.HandleEvent(context.Background(), payments.CardEvent{ID: "x", Kind: payments.CardCheckoutExpired, SessionID: "s"})
	assert.Error(t, err)
}
