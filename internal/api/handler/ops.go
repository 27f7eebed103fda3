// Package handler provides HTTP handlers for the navigation API.
package handler

import (
	"net/http"
	"time"

	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/api/response"
	"github.com/breatheroute/navcore/internal/provider/resilience"
)

// RunState reports whether navigation is active.
type RunState interface {
	Running() bool
}

// OpsConfig configures an OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string
	Registry  *resilience.Registry
	Navigator RunState
	Now       func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	navigator RunState
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		navigator: cfg.Navigator,
		now:       now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// An upstream with an open circuit makes the service unready; a probing one degrades it.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ready := models.Readiness{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}
	if h.navigator != nil {
		ready.Navigating = h.navigator.Running()
	}

	if h.registry != nil {
		for _, health := range h.registry.AllHealth() {
			ps := providerStatus(health)
			switch {
			case health.IsUnhealthy():
				ready.Status = models.HealthStatusFail
			case health.IsDegraded() && ready.Status == models.HealthStatusOK:
				ready.Status = models.HealthStatusDegraded
			}
			ready.Providers = append(ready.Providers, ps)
		}
	}

	status := http.StatusOK
	if ready.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, ready)
}

func providerStatus(h *resilience.Health) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            h.Name,
		Status:              models.HealthStatusOK,
		CircuitState:        h.CircuitState.String(),
		ConsecutiveFailures: h.Counts.ConsecutiveFailures,
		LastSuccessAt:       models.TimestampPtr(h.LastSuccessAt),
		LastFailureAt:       models.TimestampPtr(h.LastFailureAt),
	}
	switch {
	case h.IsUnhealthy():
		ps.Status = models.HealthStatusFail
	case h.IsDegraded():
		ps.Status = models.HealthStatusDegraded
	}
	if h.LastError != "" {
		msg := h.LastError
		ps.Message = &msg
	}
	return ps
}
