package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
)

// FareSchedule prices a trip from distance and duration. Amounts are in
// minor currency units.
type FareSchedule struct {
	Currency  string
	Base      int64
	PerKm     int64
	PerMinute int64
	Minimum   int64
}

var DefaultFareSchedule = FareSchedule{
	Currency:  "EUR",
	Base:      250,
	PerKm:     120,
	PerMinute: 30,
	Minimum:   500,
}

// Estimate returns the fare for a trip of meters and seconds.
func (f FareSchedule) Estimate(meters, seconds float64) int64 {
	fare := float64(f.Base) + meters/1000*float64(f.PerKm) + seconds/60*float64(f.PerMinute)
	amount := int64(math.Round(fare))
	if amount < f.Minimum {
		return f.Minimum
	}
	return amount
}

// Me handles GET /api/user/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	presenter.OK(w, r, id, http.StatusOK)
}

// VehicleLocation handles GET /api/driver/vehicles/{id}/location
func (h *Handler) VehicleLocation(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, providers.KindTracking, providers.VehicleLocation(chi.URLParam(r, "id")), http.StatusOK)
}

type fareQuery struct {
	Origin      string `query:"origin" validate:"required"`
	Destination string `query:"destination" validate:"required"`
}

// route is the part of a maps directions reply the fare needs.
type route struct {
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
}

type fareEstimate struct {
	Origin          string  `json:"origin"`
	Destination     string  `json:"destination"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	Provider        string  `json:"provider"`
}

// FareEstimate handles GET /api/booking/fare-estimate. It prices the route
// returned by the maps provider.
func (h *Handler) FareEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fq := fareQuery{Origin: q.Get("origin"), Destination: q.Get("destination")}
	if err := validateStruct(fq); err != nil {
		presenter.Error(w, r, err)
		return
	}

	res, err := h.call(r.Context(), providers.KindMaps, providers.Directions(fq.Origin, fq.Destination, "driving"))
	if err != nil {
		presenter.Error(w, r, err)
		return
	}
	if !res.Success {
		h.writeResult(w, r, res, http.StatusOK)
		return
	}

	var rt route
	if err := json.Unmarshal(res.Data, &rt); err != nil || rt.DistanceMeters <= 0 {
		if err == nil {
			err = errors.New("directions reply has no distance")
		}
		setProviderHeaders(w, res)
		presenter.Error(w, r, apperrors.Upstream(res.ProviderID, 0, err))
		return
	}

	setProviderHeaders(w, res)
	presenter.OK(w, r, fareEstimate{
		Origin:          fq.Origin,
		Destination:     fq.Destination,
		DistanceMeters:  rt.DistanceMeters,
		DurationSeconds: rt.DurationSeconds,
		Amount:          h.fares.Estimate(rt.DistanceMeters, rt.DurationSeconds),
		Currency:        h.fares.Currency,
		Provider:        res.ProviderID,
	}, http.StatusOK)
}

type paymentRequest struct {
	BookingID   string `json:"booking_id" validate:"required"`
	CustomerID  string `json:"customer_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,iso4217"`
	Description string `json:"description,omitempty" validate:"max=255"`
}

// CreatePayment handles POST /api/booking/payments. The Idempotency-Key
// header is required and forwarded so a retried charge is deduplicated
// upstream.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		presenter.Error(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotency))
	preq, err := providers.CreatePayment(providers.PaymentIntent{
		BookingID:   req.BookingID,
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	}, key)
	if err != nil {
		presenter.Error(w, r, apperrors.Validation("idempotency key required", map[string]string{
			headerIdempotency: "is required",
		}))
		return
	}
	h.proxy(w, r, providers.KindPayment, preq, http.StatusCreated)
}

// GetPayment handles GET /api/booking/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, providers.KindPayment, providers.GetPayment(chi.URLParam(r, "id")), http.StatusOK)
}

type emergencyRequest struct {
	BookingID string  `json:"booking_id" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Category  string  `json:"category" validate:"required,oneof=medical accident safety other"`
	Message   string  `json:"message,omitempty" validate:"max=500"`
}

// RaiseEmergency handles POST /api/booking/emergency. An alert without an
// Idempotency-Key gets a fresh alert id, which still lets the gateway
// retry it safely.
func (h *Handler) RaiseEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := decodeJSON(r, &req); err != nil {
		presenter.Error(w, r, err)
		return
	}

	alertID := strings.TrimSpace(r.Header.Get(headerIdempotency))
	if alertID == "" {
		alertID = uuid.NewString()
	}
	var raisedBy string
	if id, ok := auth.FromContext(r.Context()); ok {
		raisedBy = id.Subject
	}

	preq, err := providers.RaiseAlert(providers.Alert{
		AlertID:   alertID,
		BookingID: req.BookingID,
		RaisedBy:  raisedBy,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Category:  req.Category,
		Message:   req.Message,
	})
	if err != nil {
		presenter.Error(w, r, apperrors.Internal(err))
		return
	}
	h.proxy(w, r, providers.KindEmergency, preq, http.StatusCreated)
}
