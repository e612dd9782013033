package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/ratelimit"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
)

// Router builds the gateway's route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	if h.timeout > 0 {
		r.Use(chimiddleware.Timeout(h.timeout))
	}
	r.Use(CORS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		presenter.Error(w, r, apperrors.NotFound("route "+r.URL.Path))
	})

	gatherer := h.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.With(h.RateLimit(ratelimit.GroupDefault)).Get("/health", h.Health)

		r.With(h.RateLimit(ratelimit.GroupStrict)).Post("/auth/token", h.IssueToken)

		// Integrations: API key
		r.Route("/external", func(r chi.Router) {
			r.Use(h.authn.RequireAPIKey, h.RateLimit(ratelimit.GroupDefault), h.TrackUsage)

			r.With(h.cached(h.cacheTTL.ProvidersTTL, "providers")).Get("/providers", h.ListProviders)
			r.With(auth.RequirePermission(PermMapsRead), h.cached(h.cacheTTL.DirectionsTTL, "directions")).
				Get("/directions", h.Directions)
			r.With(auth.RequirePermission(PermPartnerWrite)).Post("/bookings", h.CreatePartnerBooking)
			r.With(auth.RequirePermission(PermPartnerRead)).Get("/bookings/{id}", h.PartnerBookingStatus)
		})

		// Riders and drivers: bearer token
		r.Group(func(r chi.Router) {
			r.Use(h.authn.RequireBearer, h.RateLimit(ratelimit.GroupModerate), h.TrackUsage)

			r.Get("/user/me", h.Me)
			r.With(auth.RequirePermission(PermTrackingRead), h.cached(h.cacheTTL.LocationTTL, "vehicle_location")).
				Get("/driver/vehicles/{id}/location", h.VehicleLocation)

			r.Route("/booking", func(r chi.Router) {
				r.Use(h.RateLimit(ratelimit.GroupBooking))

				r.With(auth.RequirePermission(PermBookingRead), h.cached(h.cacheTTL.FareEstimateTTL, "fare_estimate")).
					Get("/fare-estimate", h.FareEstimate)
				r.With(auth.RequirePermission(PermBookingWrite)).Post("/payments", h.CreatePayment)
				r.With(auth.RequirePermission(PermBookingRead)).Get("/payments/{id}", h.GetPayment)
				r.With(auth.RequirePermission(PermBookingWrite)).Post("/emergency", h.RaiseEmergency)
			})
		})

		// Operators: bearer token with admin
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authn.RequireBearer, h.RateLimit(ratelimit.GroupDefault), h.TrackUsage, auth.RequirePermission(auth.PermissionAdmin))

			r.Get("/providers", h.AdminListProviders)
			r.Patch("/providers/{id}", h.ConfigureProvider)
			r.Post("/credentials", h.CreateCredential)
			r.Delete("/credentials/{id}", h.RevokeCredential)
			r.Get("/usage/{id}", h.UsageStats)
		})
	})

	return r
}
