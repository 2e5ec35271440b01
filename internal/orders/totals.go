package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals are integer amounts in minor currency units.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type Pricing struct {
	TaxRate     decimal.Decimal // fraction of subtotal, e.g. 0.1925
	ShippingFee int64
}

// ComputeTotals prices a cart once, at order creation. discountPercent is a
// percentage of the subtotal; the discount never exceeds the subtotal. Sums are
// taken in decimal and rejected when they leave the MaxAmount range.
func ComputeTotals(items []LineItem, p Pricing, discountPercent decimal.Decimal) (Totals, error) {
	if p.TaxRate.IsNegative() || discountPercent.IsNegative() || p.ShippingFee < 0 {
		return Totals{}, fmt.Errorf("%w: negative pricing rule", ErrValidation)
	}
	sub := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > MaxQuantity || it.UnitPrice < 0 || it.UnitPrice > MaxAmount {
			return Totals{}, fmt.Errorf("%w: invalid price or quantity for %q", ErrValidation, it.ProductID)
		}
		sub = sub.Add(decimal.NewFromInt(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	tax := sub.Mul(p.TaxRate).Round(0)
	shipping := decimal.Zero
	if len(items) > 0 {
		shipping = decimal.NewFromInt(p.ShippingFee)
	}
	discount := decimal.Min(sub.Mul(discountPercent).Div(decimal.NewFromInt(100)).Round(0), sub)
	total := sub.Add(tax).Add(shipping).Sub(discount)

	limit := decimal.NewFromInt(MaxAmount)
	for _, v := range []decimal.Decimal{sub, tax, shipping, total} {
		if v.GreaterThan(limit) {
			return Totals{}, fmt.Errorf("%w: order amount out of range", ErrValidation)
		}
	}
	return Totals{
		Subtotal: sub.IntPart(),
		Tax:      tax.IntPart(),
		Shipping: shipping.IntPart(),
		Discount: discount.IntPart(),
		Total:    total.IntPart(),
	}, nil
}
