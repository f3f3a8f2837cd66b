package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/upb/privacy-shield/internal/observability"
	"github.com/upb/privacy-shield/services/audit"
	"github.com/upb/privacy-shield/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Profile   string            `json:"profile,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ReadinessCheck reports whether one dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	profile string
	checks  map[string]ReadinessCheck
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(profile string, checks map[string]ReadinessCheck, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		profile: profile,
		checks:  checks,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Profile:   h.profile,
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Profile:   h.profile,
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// StoreReporter reports the number of live entries per RAM store
type StoreReporter interface {
	StoreStats() map[string]int
}

// StatsResponse is the body of GET /api/v1/privacy/stats
type StatsResponse struct {
	Pipeline observability.Snapshot `json:"pipeline"`
	Stores   map[string]int         `json:"stores"`
	Audit    *audit.Stats           `json:"audit,omitempty"`
}

// StatsHandler exposes pipeline counters. Counts only, never content.
type StatsHandler struct {
	counters *observability.Counters
	stores   []StoreReporter
	trail    *audit.AuditService
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(counters *observability.Counters, trail *audit.AuditService, stores ...StoreReporter) *StatsHandler {
	return &StatsHandler{counters: counters, stores: stores, trail: trail}
}

// HandleStats handles GET /api/v1/privacy/stats
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Stores: make(map[string]int)}
	if h.counters != nil {
		resp.Pipeline = h.counters.Snapshot()
	}
	for _, s := range h.stores {
		for name, n := range s.StoreStats() {
			resp.Stores[name] = n
		}
	}
	if h.trail != nil {
		stats := h.trail.GetStats()
		resp.Audit = &stats
	}
	_ = utils.WriteOK(w, resp)
}
