// Package handlers provides HTTP request handlers for the mapperctl backend.
// This file implements health check endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

// Status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	checkOK         = "ok"
)

// OutputChecker describes the state of the scan output directory.
type OutputChecker interface {
	Describe() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	output    OutputChecker
	launcher  ScanLauncher
	logger    *slog.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(output OutputChecker, l ScanLauncher, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		output:    output,
		launcher:  l,
		logger:    logger.With("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status         string            `json:"status"`
	Timestamp      time.Time         `json:"timestamp"`
	Uptime         string            `json:"uptime"`
	ScanInProgress bool              `json:"scan_in_progress"`
	Checks         map[string]string `json:"checks"`
}

// Health reports whether the backend can serve results.
//
// @Summary Health check
// @Description Reports whether the output directory is usable and a scan is running.
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Success 503 {object} HealthResponse
// @Router /api/health [get]
// @ID getHealth
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:         StatusHealthy,
		Timestamp:      time.Now().UTC(),
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		ScanInProgress: h.launcher.Status().InProgress,
		Checks:         map[string]string{"output_dir": h.output.Describe()},
	}

	statusCode := http.StatusOK
	for _, result := range response.Checks {
		if result != checkOK {
			response.Status = StatusUnhealthy
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, h.logger, statusCode, response)
}
