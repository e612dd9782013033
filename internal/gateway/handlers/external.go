package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
)

// providerSummary is the public view of a provider.
type providerSummary struct {
	ID          string         `json:"id"`
	Kind        providers.Kind `json:"kind"`
	DisplayName string         `json:"display_name"`
	Available   bool           `json:"available"`
}

// ListProviders handles GET /api/external/providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	cfgs := h.registry.List()
	out := make([]providerSummary, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, providerSummary{
			ID:          cfg.ID,
			Kind:        cfg.Kind,
			DisplayName: cfg.DisplayName,
			Available:   cfg.Enabled,
		})
	}
	presenter.OK(w, r, out, http.StatusOK)
}

type directionsQuery struct {
	Origin      string `query:"origin" validate:"required"`
	Destination string `query:"destination" validate:"required"`
	Mode        string `query:"mode" validate:"omitempty,oneof=driving walking cycling transit"`
}

// Directions handles GET /api/external/directions
func (h *Handler) Directions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dq := directionsQuery{Origin: q.Get("origin"), Destination: q.Get("destination"), Mode: q.Get("mode")}
	if err := validateStruct(dq); err != nil {
		presenter.Error(w, r, err)
		return
	}
	h.proxy(w, r, providers.KindMaps, providers.Directions(dq.Origin, dq.Destination, dq.Mode), http.StatusOK)
}

type partnerBookingRequest struct {
	Reference   string    `json:"reference" validate:"required,max=64"`
	Pickup      string    `json:"pickup" validate:"required"`
	Dropoff     string    `json:"dropoff" validate:"required"`
	PickupAt    time.Time `json:"pickup_at" validate:"required"`
	Passengers  int       `json:"passengers" validate:"min=1,max=8"`
	VehicleType string    `json:"vehicle_type,omitempty" validate:"omitempty,oneof=standard comfort xl van accessible"`
	Notes       string    `json:"notes,omitempty" validate:"max=500"`
}

// CreatePartnerBooking handles POST /api/external/bookings. The booking
// reference doubles as the idempotency key, so retries are safe.
func (h *Handler) CreatePartnerBooking(w http.ResponseWriter, r *http.Request) {
	var req partnerBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		presenter.Error(w, r, err)
		return
	}

	preq, err := providers.CreateBooking(providers.PartnerBooking(req))
	if err != nil {
		presenter.Error(w, r, err)
		return
	}
	h.proxy(w, r, providers.KindPartner, preq, http.StatusCreated)
}

// PartnerBookingStatus handles GET /api/external/bookings/{id}
func (h *Handler) PartnerBookingStatus(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, providers.KindPartner, providers.BookingStatus(chi.URLParam(r, "id")), http.StatusOK)
}
