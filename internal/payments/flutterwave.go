package payments

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tedsai/complex-orders/internal/orders"
)

const DefaultFlutterwaveURL = "https://api.flutterwave.com/v3"

// TxRefPrefix prefixes the merchant reference sent to Flutterwave; the rest is
// the order id.
const TxRefPrefix = "tedsai-"

type FlutterwaveGateway struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string
	Title       string
	HTTP        *http.Client
}

func NewFlutterwaveGateway(baseURL, secretKey, webhookHash string, timeout time.Duration) *FlutterwaveGateway {
	if baseURL == "" {
		baseURL = DefaultFlutterwaveURL
	}
	return &FlutterwaveGateway{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		SecretKey:   secretKey,
		WebhookHash: webhookHash,
		Title:       "TEDSAI Complex",
		HTTP:        &http.Client{Timeout: timeout},
	}
}

type flwEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flwPaymentRequest struct {
	TxRef          string            `json:"tx_ref"`
	Amount         json.Number       `json:"amount"`
	Currency       string            `json:"currency"`
	RedirectURL    string            `json:"redirect_url"`
	PaymentOptions string            `json:"payment_options,omitempty"`
	Customer       flwCustomer       `json:"customer"`
	Customizations map[string]string `json:"customizations,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}

type flwCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

type flwTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Customer flwCustomer     `json:"customer"`
}

// CreateSession opens a hosted payment link. The session id is the tx_ref.
func (g *FlutterwaveGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	txRef := TxRefPrefix + req.OrderID
	body := flwPaymentRequest{
		TxRef:          txRef,
		Amount:         json.Number(ToMajor(req.Totals.Total, req.Currency).String()),
		Currency:       strings.ToUpper(req.Currency),
		RedirectURL:    req.SuccessURL,
		PaymentOptions: "mobilemoneyfranco,card",
		Customer: flwCustomer{
			Email:       req.Customer.Email,
			PhoneNumber: req.Customer.Phone,
			Name:        req.Customer.Name,
		},
		Customizations: map[string]string{"title": g.Title},
		Meta:           map[string]string{metaOrderID: req.OrderID},
	}

	var data struct {
		Link string `json:"link"`
	}
	if err := g.do(ctx, http.MethodPost, "/payments", body, &data); err != nil {
		return Session{}, fmt.Errorf("%w: flutterwave create payment: %w", orders.ErrGateway, err)
	}
	if data.Link == "" {
		return Session{}, fmt.Errorf("%w: flutterwave returned no payment link", orders.ErrGateway)
	}
	return Session{ID: txRef, URL: data.Link}, nil
}

// ExpireSession is a no-op: payment links cannot be voided and lapse on
// their own.
func (g *FlutterwaveGateway) ExpireSession(context.Context, string) error { return nil }

func (g *FlutterwaveGateway) Verify(ctx context.Context, transactionID string) (Verification, error) {
	var tx flwTransaction
	if err := g.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(transactionID)+"/verify", nil, &tx); err != nil {
		return Verification{}, fmt.Errorf("%w: flutterwave verify %s: %w", orders.ErrGateway, transactionID, err)
	}
	return tx.verification(), nil
}

func (g *FlutterwaveGateway) VerifyByReference(ctx context.Context, txRef string) (Verification, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)
	var tx flwTransaction
	if err := g.do(ctx, http.MethodGet, path, nil, &tx); err != nil {
		return Verification{}, fmt.Errorf("%w: flutterwave verify ref %s: %w", orders.ErrGateway, txRef, err)
	}
	return tx.verification(), nil
}

func (g *FlutterwaveGateway) CheckWebhookHash(got string) bool {
	if g.WebhookHash == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(g.WebhookHash)) == 1
}

func (t flwTransaction) verification() Verification {
	v := Verification{
		TransactionID: fmt.Sprint(t.ID),
		TxRef:         t.TxRef,
		Amount:        ToMinor(t.Amount, t.Currency),
		Currency:      strings.ToUpper(t.Currency),
		CustomerEmail: t.Customer.Email,
	}
	switch strings.ToLower(t.Status) {
	case "successful":
		v.Status = VerifySuccessful
	case "failed", "cancelled":
		v.Status = VerifyFailed
	default:
		v.Status = VerifyPending
	}
	return v
}

func (g *FlutterwaveGateway) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env flwEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("status %d: decode response: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || env.Status != "success" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
