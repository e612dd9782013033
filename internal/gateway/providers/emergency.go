package providers

import "net/http"

const OpRaiseAlert = "emergency.raise_alert"

// Alert is an SOS raised from an active ride.
type Alert struct {
	AlertID   string  `json:"alert_id"`
	BookingID string  `json:"booking_id"`
	RaisedBy  string  `json:"raised_by"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Category  string  `json:"category"`
	Message   string  `json:"message,omitempty"`
}

// RaiseAlert sends a; AlertID is the idempotency key so a retried alert
// does not page responders twice.
func RaiseAlert(a Alert) (*Request, error) {
	if a.AlertID == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	return &Request{
		Operation:      OpRaiseAlert,
		Method:         http.MethodPost,
		Path:           "/alerts",
		Body:           a,
		IdempotencyKey: a.AlertID,
		Mutating:       true,
	}, nil
}

func newEmergencyAdapter(cfg ServiceConfig) Adapter {
	return &baseAdapter{
		kind:       KindEmergency,
		operations: operationSet(OpRaiseAlert),
		client:     NewHTTPClient(cfg, "Idempotency-Key"),
	}
}
