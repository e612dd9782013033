package providers

import (
	"errors"
	"net/http"
	"net/url"
)

// Payment operations.
const (
	OpCreatePayment = "payment.create"
	OpGetPayment    = "payment.get"
	OpRefundPayment = "payment.refund"
)

// ErrIdempotencyKeyRequired is returned by builders of side-effecting
// operations when no idempotency key was supplied.
var ErrIdempotencyKeyRequired = errors.New("idempotency key required")

// PaymentIntent is a charge against a booking, amount in minor units.
type PaymentIntent struct {
	BookingID   string `json:"booking_id"`
	CustomerID  string `json:"customer_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// CreatePayment charges intent. orderKey identifies the charge across
// retries; without it the processor could bill twice.
func CreatePayment(intent PaymentIntent, orderKey string) (*Request, error) {
	if orderKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	return &Request{
		Operation:      OpCreatePayment,
		Method:         http.MethodPost,
		Path:           "/payments",
		Body:           intent,
		IdempotencyKey: orderKey,
		Mutating:       true,
	}, nil
}

func GetPayment(paymentID string) *Request {
	return &Request{
		Operation: OpGetPayment,
		Method:    http.MethodGet,
		Path:      "/payments/" + url.PathEscape(paymentID),
	}
}

// RefundPayment refunds a captured payment in full.
func RefundPayment(paymentID, refundKey string) (*Request, error) {
	if refundKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	return &Request{
		Operation:      OpRefundPayment,
		Method:         http.MethodPost,
		Path:           "/payments/" + url.PathEscape(paymentID) + "/refunds",
		IdempotencyKey: refundKey,
		Mutating:       true,
	}, nil
}

func newPaymentAdapter(cfg ServiceConfig) Adapter {
	return &baseAdapter{
		kind:       KindPayment,
		operations: operationSet(OpCreatePayment, OpGetPayment, OpRefundPayment),
		client:     NewHTTPClient(cfg, "Idempotency-Key"),
	}
}
