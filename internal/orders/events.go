package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated         = "order.created"
	EventOrderPaid            = "order.paid"
	EventOrderCancelled       = "order.cancelled"
	EventMomoPaymentVerified  = "momo.payment_verified"
	EventReconciliationMissed = "reconciliation.missed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "tedsai-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEventPayload is what downstream email / WhatsApp senders get to render.
type OrderEventPayload struct {
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	Customer      Customer      `json:"customer"`
	Gateway       Gateway       `json:"payment_method"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Reason        string        `json:"reason,omitempty"`
	Currency      string        `json:"currency"`
	Total         int64         `json:"total"`
	Items         []LineItem    `json:"items,omitempty"`
}

func NewOrderEventPayload(o *Order) OrderEventPayload {
	return OrderEventPayload{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		Customer:      o.Customer,
		Gateway:       o.Gateway,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Reason:        o.StatusReason,
		Currency:      o.Currency,
		Total:         o.Total,
		Items:         o.Items,
	}
}

type MomoVerifiedPayload struct {
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id"`
	TxRef         string `json:"tx_ref"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email,omitempty"`
}
