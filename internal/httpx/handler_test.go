package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tedsai/complex-orders/internal/checkout"
	"github.com/tedsai/complex-orders/internal/inventory"
	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
	"github.com/tedsai/complex-orders/internal/reconcile"
	"github.com/tedsai/complex-orders/internal/testutil"
)

const whsec = "whsec_handler_test"

type harness struct {
	store *testutil.MemStore
	card  *testutil.FakeGateway
	momo  *testutil.FakeGateway
	srv   http.Handler
}

func newHarness() *harness {
	h := &harness{
		store: testutil.NewMemStore(),
		card:  &testutil.FakeGateway{},
		momo:  &testutil.FakeGateway{Prefix: "tedsai-", Hash: "secret-hash", Verifications: map[string]payments.Verification{}},
	}
	trackable := map[string]bool{orders.CategoryTrackable: true}
	rec := &testutil.Recorder{}
	deps := reconcile.Deps{Store: h.store, Dedup: &testutil.MemClaimer{}, Notifier: rec, Trackable: trackable}

	api := &Handler{
		Checkout: &checkout.Service{
			Store: h.store,
			Gateways: map[orders.Gateway]payments.CheckoutGateway{
				orders.GatewayCard:        h.card,
				orders.GatewayMobileMoney: h.momo,
			},
			Notifier:  rec,
			Pricing:   orders.Pricing{TaxRate: decimal.RequireFromString("0.1925"), ShippingFee: 1500},
			Trackable: trackable,
			Currency:  "XAF",
		},
		Inventory: &inventory.Service{Store: h.store},
		Stock:     h.store,
		Card:      &reconcile.Card{Deps: deps},
		CardGW:    payments.NewStripeGateway("sk_test", whsec, time.Second),
		Momo:      &reconcile.Momo{Deps: deps, Gateway: h.momo},
		Store:     h.store,
	}
	r := NewRouter()
	api.Register(r)
	h.srv = r
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rw := httptest.NewRecorder()
	h.srv.ServeHTTP(rw, req)
	return rw
}

func (h *harness) checkout(t *testing.T, qty int) checkout.Result {
	t.Helper()
	rw := h.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"items":    []map[string]any{{"productId": "p1", "name": "Honey", "price": 1000, "quantity": qty}},
		"customer": map[string]string{"email": "buyer@example.cm"},
	}, nil)
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())
	var res checkout.Result
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &res))
	return res
}

func stripeEvent(id, typ, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,
		"data":{"object":{"id":%q,"object":"checkout.session","payment_status":"paid","payment_intent":"pi_x"}}}`,
		id, typ, sessionID))
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload, Secret: whsec, Timestamp: time.Now(),
	}).Header
}

func TestCheckoutThenStripeCompleted(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)
	res := h.checkout(t, 2)
	assert.Equal(t, 3, h.store.Stock("p1"))
	assert.Equal(t, int64(3885), res.Total)

	payload := stripeEvent("evt_1", "checkout.session.completed", res.SessionID)
	rw := h.do(t, http.MethodPost, "/api/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sign(payload)})
	require.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"received":true}`, rw.Body.String())

	o, _ := h.store.Order(res.OrderID)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, 3, h.store.Stock("p1"))
}

func TestStripeWebhook_TamperedSignatureChangesNothing(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)
	res := h.checkout(t, 2)

	signed := stripeEvent("evt_2", "checkout.session.completed", res.SessionID)
	tampered := stripeEvent("evt_2", "checkout.session.expired", res.SessionID)
	rw := h.do(t, http.MethodPost, "/api/webhooks/stripe", tampered, map[string]string{"Stripe-Signature": sign(signed)})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = h.do(t, http.MethodPost, "/api/webhooks/stripe", tampered, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	o, _ := h.store.Order(res.OrderID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, 3, h.store.Stock("p1"))
}

func TestStripeWebhook_ExpiredReplayIsIdempotent(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)
	res := h.checkout(t, 2)

	payload := stripeEvent("evt_3", "checkout.session.expired", res.SessionID)
	for i := 0; i < 2; i++ {
		rw := h.do(t, http.MethodPost, "/api/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sign(payload)})
		require.Equal(t, http.StatusOK, rw.Code)
	}
	assert.Equal(t, 5, h.store.Stock("p1"))
}

func TestStripeWebhook_StoreFailureAsksForRetry(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)
	res := h.checkout(t, 2)

	h.store.FailNext = orders.ErrStorageUnavailable
	payload := stripeEvent("evt_4", "checkout.session.expired", res.SessionID)
	rw := h.do(t, http.MethodPost, "/api/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sign(payload)})
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestStripeWebhook_UndecodableEventAsksForRetry(t *testing.T) {
	h := newHarness()
	payload := []byte(`{"id":"evt_5","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":123,"object":"checkout.session"}}}`)
	rw := h.do(t, http.MethodPost, "/api/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sign(payload)})
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestCheckout_InsufficientStock(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)

	rw := h.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"items": []map[string]any{{"productId": "p1", "name": "Honey", "price": 1000, "quantity": 10}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Contains(t, rw.Body.String(), "Honey")
	assert.Equal(t, 5, h.store.Stock("p1"))
	assert.Zero(t, h.store.OrderCount())
}

func TestCheckout_StorageUnavailable(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)
	h.store.FailNext = orders.ErrStorageUnavailable

	rw := h.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"items": []map[string]any{{"productId": "p1", "price": 1000, "quantity": 1}},
	}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.NotContains(t, rw.Body.String(), "checkoutUrl")
	assert.Len(t, h.card.ExpiredSessions(), 1)
}

func TestCheckout_BadJSON(t *testing.T) {
	h := newHarness()
	rw := h.do(t, http.MethodPost, "/api/checkout", []byte("{"), nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestInventoryEndpoints(t *testing.T) {
	h := newHarness()
	h.store.SetStock("a", 3)

	rw := h.do(t, http.MethodPost, "/api/inventory/reserve", map[string]any{
		"items": []map[string]any{{"productId": "a", "quantity": 2, "name": "Eggs"}},
	}, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"success":true}`, rw.Body.String())
	assert.Equal(t, 1, h.store.Stock("a"))

	rw = h.do(t, http.MethodPost, "/api/inventory/reserve", map[string]any{
		"items": []map[string]any{{"productId": "a", "quantity": 2, "name": "Eggs"}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Contains(t, rw.Body.String(), `"success":false`)
	assert.Contains(t, rw.Body.String(), "Eggs")

	rw = h.do(t, http.MethodPost, "/api/inventory/release", map[string]any{
		"items": []map[string]any{{"productId": "a", "quantity": 2}, {"productId": "ghost", "quantity": 1}},
	}, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, 3, h.store.Stock("a"))

	rw = h.do(t, http.MethodPost, "/api/inventory/release", map[string]any{
		"items": []map[string]any{{"productId": "a", "quantity": 1 << 40}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Equal(t, 3, h.store.Stock("a"))

	rw = h.do(t, http.MethodGet, "/api/inventory", nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	var items []orders.InventoryItem
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.True(t, items[0].InStock)
}

func TestFlutterwaveWebhook(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)

	rw := h.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"items":         []map[string]any{{"productId": "p1", "price": 1000, "quantity": 2}},
		"paymentMethod": "mobile_money",
	}, nil)
	require.Equal(t, http.StatusCreated, rw.Code)
	var res checkout.Result
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &res))

	hook := map[string]any{"event": "charge.completed", "data": map[string]any{"id": 55, "tx_ref": res.SessionID, "status": "successful"}}

	rw = h.do(t, http.MethodPost, "/api/webhooks/flutterwave", hook, map[string]string{"verif-hash": "wrong"})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	h.momo.Verifications["55"] = payments.Verification{
		TransactionID: "55", TxRef: res.SessionID, Status: payments.VerifySuccessful, Amount: res.Total, Currency: "XAF",
	}
	rw = h.do(t, http.MethodPost, "/api/webhooks/flutterwave", hook, map[string]string{"verif-hash": "secret-hash"})
	require.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"status":"success"}`, rw.Body.String())

	o, _ := h.store.Order(res.OrderID)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
}

func TestFlutterwaveWebhook_AcknowledgesUnverifiable(t *testing.T) {
	h := newHarness()
	hook := map[string]any{"event": "charge.completed", "data": map[string]any{"id": 56, "tx_ref": "tedsai-x"}}
	rw := h.do(t, http.MethodPost, "/api/webhooks/flutterwave", hook, map[string]string{"verif-hash": "secret-hash"})
	assert.Equal(t, http.StatusOK, rw.Code)
}

func TestOrderLookupAndVerify(t *testing.T) {
	h := newHarness()
	h.store.SetStock("p1", 5)
	res := h.checkout(t, 1)

	rw := h.do(t, http.MethodGet, "/api/orders/"+res.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	var o orders.Order
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &o))
	assert.Equal(t, res.SessionID, o.SessionID)
	assert.Equal(t, res.Total, o.Total)

	rw = h.do(t, http.MethodGet, "/api/orders/"+res.OrderID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), `"status":"pending"`)

	rw = h.do(t, http.MethodGet, "/api/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rw.Code)

	// card orders cannot be verified through the mobile-money poll path
	rw = h.do(t, http.MethodPost, "/api/orders/"+res.OrderID+"/verify", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness()
	rw := h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "ok", rw.Body.String())
}
