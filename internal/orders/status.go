package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentExpired PaymentStatus = "expired"
)

// Status reasons recorded on cancellation.
const (
	ReasonSessionExpired   = "session_expired"
	ReasonPaymentFailed    = "payment_failed"
	ReasonMomoVerifyFailed = "momo_verification_failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {},
	StatusCancelled: {},
}

// allowedPayment lists the payment statuses each order status may carry.
var allowedPayment = map[Status]map[PaymentStatus]bool{
	StatusPending:   {PaymentPending: true},
	StatusConfirmed: {PaymentPaid: true},
	StatusCancelled: {PaymentFailed: true, PaymentExpired: true},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func validPair(s Status, p PaymentStatus) bool {
	return allowedPayment[s][p]
}
