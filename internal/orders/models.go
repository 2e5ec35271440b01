package orders

import (
	"fmt"
	"time"
)

type Gateway string

const (
	GatewayCard        Gateway = "card"
	GatewayMobileMoney Gateway = "mobile_money"
)

// AnonymousCustomer marks orders placed without an account.
const AnonymousCustomer = "guest"

// CategoryTrackable is the inventory category that opts a product into stock
// management. Further categories come from configuration.
const CategoryTrackable = "trackable"

// TrackedCategories falls back to CategoryTrackable when none are configured.
func TrackedCategories(configured map[string]bool) map[string]bool {
	if len(configured) == 0 {
		return map[string]bool{CategoryTrackable: true}
	}
	return configured
}

// Upper bounds on client-supplied numbers. Amounts are minor units and stay
// far below the int64 range so sums never wrap.
const (
	MaxQuantity       = 100_000
	MaxAmount   int64 = 1_000_000_000_000_000
)

type InventoryItem struct {
	ProductID string    `json:"productId" yaml:"productId"`
	Name      string    `json:"name" yaml:"name"`
	Category  string    `json:"category" yaml:"category"`
	Stock     int       `json:"stock" yaml:"stock"`
	InStock   bool      `json:"inStock" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// SetStock updates the counter and keeps the in-stock flag in sync with it.
func (i *InventoryItem) SetStock(n int) {
	i.Stock = n
	i.InStock = n > 0
}

type LineItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Category  string `json:"category,omitempty"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Line1   string `json:"line1,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type Order struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"sessionId"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	Gateway         Gateway       `json:"paymentMethod"`
	CustomerID      string        `json:"customerId"`
	Customer        Customer      `json:"customer"`
	Shipping        Address       `json:"shippingAddress"`
	Items           []LineItem    `json:"items"`
	Currency        string        `json:"currency"`
	Totals                        // subtotal/tax/shipping/discount/total
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	StatusReason    string        `json:"statusReason,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	PaidAt          *time.Time    `json:"paidAt,omitempty"`
	Version         int           `json:"version"`
}

// Transition moves the order along the status table. Terminal orders never
// change; callers treat ErrInvalidTransition on a terminal order as a replay.
func (o *Order) Transition(to Status, pay PaymentStatus, reason string, at time.Time) error {
	if !CanTransition(o.Status, to) || !validPair(to, pay) {
		return fmt.Errorf("%w: %s/%s -> %s/%s", ErrInvalidTransition, o.Status, o.PaymentStatus, to, pay)
	}
	o.Status = to
	o.PaymentStatus = pay
	o.StatusReason = reason
	o.UpdatedAt = at
	if pay == PaymentPaid {
		t := at
		o.PaidAt = &t
	}
	return nil
}

// StockRequest is a quantity of one inventory-tracked product.
type StockRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
}

// StockRequests converts every line to a stock request. Whether a product is
// reserved is decided by its inventory document, never by the cart.
func StockRequests(items []LineItem) []StockRequest {
	out := make([]StockRequest, 0, len(items))
	for _, it := range items {
		out = append(out, StockRequest{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity})
	}
	return out
}
