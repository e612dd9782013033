package providers

import (
	"net/http"
	"net/url"
	"time"
)

// Partner booking operations.
const (
	OpCreateBooking = "partner.create_booking"
	OpBookingStatus = "partner.booking_status"
)

// PartnerBooking is a ride handed to a partner platform.
type PartnerBooking struct {
	Reference   string    `json:"reference"`
	Pickup      string    `json:"pickup"`
	Dropoff     string    `json:"dropoff"`
	PickupAt    time.Time `json:"pickup_at"`
	Passengers  int       `json:"passengers"`
	VehicleType string    `json:"vehicle_type,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// CreateBooking forwards b; its Reference doubles as the idempotency key.
func CreateBooking(b PartnerBooking) (*Request, error) {
	if b.Reference == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	return &Request{
		Operation:      OpCreateBooking,
		Method:         http.MethodPost,
		Path:           "/bookings",
		Body:           b,
		IdempotencyKey: b.Reference,
		Mutating:       true,
	}, nil
}

func BookingStatus(bookingID string) *Request {
	return &Request{
		Operation: OpBookingStatus,
		Method:    http.MethodGet,
		Path:      "/bookings/" + url.PathEscape(bookingID),
	}
}

func newPartnerAdapter(cfg ServiceConfig) Adapter {
	return &baseAdapter{
		kind:       KindPartner,
		operations: operationSet(OpCreateBooking, OpBookingStatus),
		client:     NewHTTPClient(cfg, "X-Idempotency-Key"),
	}
}
