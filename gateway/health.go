package gateway

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/stephnangue/vanguard/logger"
	"golang.org/x/sync/errgroup"
)

// Health states reported by the sweep
const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
)

// DefaultProbeTimeout bounds a single health probe. Probes are deliberately
// shorter than forwarding timeouts so a stuck backend cannot stall the sweep.
const DefaultProbeTimeout = 3 * time.Second

// ServiceHealth is one service's status after a probe
type ServiceHealth struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// HealthChecker sweeps registered services' liveness endpoints
type HealthChecker struct {
	registry     *Registry
	client       *http.Client
	probeTimeout time.Duration
	logger       logger.Logger
}

// NewHealthChecker builds a HealthChecker over the shared transport
func NewHealthChecker(registry *Registry, transport http.RoundTripper, log logger.Logger) *HealthChecker {
	return &HealthChecker{
		registry:     registry,
		client:       &http.Client{Transport: transport},
		probeTimeout: DefaultProbeTimeout,
		logger:       log.WithSubsystem("health"),
	}
}

// Sweep probes every registered service concurrently and returns statuses
// ordered by name. A slow or dead backend marks its own entry; the sweep
// itself always completes.
func (h *HealthChecker) Sweep(ctx context.Context) []ServiceHealth {
	registrations := h.registry.List()
	results := make([]ServiceHealth, len(registrations))

	group, ctx := errgroup.WithContext(ctx)
	for i, reg := range registrations {
		group.Go(func() error {
			results[i] = h.probe(ctx, reg)
			return nil
		})
	}
	group.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func (h *HealthChecker) probe(ctx context.Context, reg *ServiceRegistration) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	health := ServiceHealth{
		Name:      reg.Name,
		CheckedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reg.UpstreamURL+reg.HealthPath, nil)
	if err != nil {
		health.Status = StatusUnreachable
		health.Error = err.Error()
		return health
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	health.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		health.Status = StatusUnreachable
		health.Error = err.Error()
		h.logger.Warn("health probe failed",
			logger.String("service", reg.Name),
			logger.Err(err),
		)
		return health
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		health.Status = StatusHealthy
	} else {
		health.Status = StatusUnhealthy
		health.Error = resp.Status
	}
	return health
}
