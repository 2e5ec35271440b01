package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{Idempotency-Key} -> {"orderId": "...", "checkoutUrl": "..."}
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "paymentStatus": "...", "updatedAt": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{scope}:{id} (id = provider event id or envelope event id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
