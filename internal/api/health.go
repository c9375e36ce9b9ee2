package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	version  string
	checkers map[string]HealthChecker
}

// NewHealthHandler creates a new health handler. Nil checkers are skipped.
func NewHealthHandler(version string, checkers map[string]HealthChecker) *HealthHandler {
	h := &HealthHandler{version: version, checkers: make(map[string]HealthChecker)}
	for name, checker := range checkers {
		if checker != nil {
			h.checkers[name] = checker
		}
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Check runs every dependency check
func (h *HealthHandler) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]HealthCheck, len(h.checkers)),
	}

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		start := time.Now()
		err := h.checkers[name].Health(ctx)
		check := HealthCheck{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			response.Status = "unhealthy"
			check.Status = "unhealthy"
			check.Message = err.Error()
		}
		response.Checks[name] = check
	}

	return response
}

// Handle serves the health check
func (h *HealthHandler) Handle(c *gin.Context) {
	response := h.Check(c.Request.Context())

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}
