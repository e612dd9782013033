package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
)

const healthTimeout = 3 * time.Second

type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

// Health probes every configured dependency concurrently.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		g        errgroup.Group
		services = make(map[string]string, len(h.health))
		healthy  = true
	)
	for name, p := range h.health {
		g.Go(func() error {
			status := "healthy"
			if err := p.Ping(ctx); err != nil {
				status = "unhealthy"
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("service", name).Msg("health check failed")
			}
			mu.Lock()
			services[name] = status
			if status != "healthy" {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := healthResponse{Status: "healthy", Services: services, Timestamp: time.Now().UTC()}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	presenter.JSON(w, r, resp, code)
}
