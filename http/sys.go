package http

import (
	"net/http"
	"time"

	"github.com/stephnangue/vanguard/gateway"
)

type healthResponse struct {
	Status    string                  `json:"status"`
	Services  []gateway.ServiceHealth `json:"services"`
	CheckedAt time.Time               `json:"checked_at"`
}

type servicesResponse struct {
	Services []*gateway.ServiceRegistration `json:"services"`
	Count    int                            `json:"count"`
}

// handleHealth sweeps every registered backend and reports the aggregate.
// The gateway is degraded, not down, when a backend fails its probe, so the
// endpoint answers 200 either way and carries the detail in the body.
func handleHealth(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := props.Health.Sweep(r.Context())

		status := "healthy"
		for _, svc := range services {
			if svc.Status != gateway.StatusHealthy {
				status = "degraded"
				break
			}
		}

		respondOk(w, http.StatusOK, &healthResponse{
			Status:    status,
			Services:  services,
			CheckedAt: time.Now().UTC(),
		})
	}
}

// handleServices lists registrations with their routing and policy metadata.
// The listing holds no credentials; registrations never carry secrets.
func handleServices(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := props.Registry.List()
		respondOk(w, http.StatusOK, &servicesResponse{
			Services: services,
			Count:    len(services),
		})
	}
}
