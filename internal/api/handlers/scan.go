// Package handlers provides HTTP request handlers for the mapperctl backend.
// This file implements scan submission, status, listing and report endpoints.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/anstrom/mapperctl/internal/api/middleware"
	"github.com/anstrom/mapperctl/internal/archive"
	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/launcher"
)

// ScanLauncher starts mapper processes and reports whether one is running.
type ScanLauncher interface {
	Launch(command string) error
	Status() launcher.Status
}

// ScanArchive gives access to finished scans.
type ScanArchive interface {
	List() ([]archive.Entry, error)
	Report(id string) (json.RawMessage, error)
	Path(id, name string) (string, error)
}

// SubmitRequest is the body of POST /api/scan.
type SubmitRequest struct {
	Command string `json:"command"`
}

// SubmitResponse is the reply to POST /api/scan.
type SubmitResponse struct {
	Success bool `json:"success"`
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	launcher ScanLauncher
	archive  ScanArchive
	logger   *slog.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(l ScanLauncher, a ScanArchive, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{
		launcher: l,
		archive:  a,
		logger:   logger.With("handler", "scan"),
	}
}

// SubmitScan starts a scan. Commands the launcher refuses, and submissions
// while a scan is running, are answered with success false.
//
// @Summary Submit a scan
// @Description Launches the mapper with the given command line. A refused command or a scan already in progress is answered with success false.
// @Tags Scans
// @Accept json
// @Produce json
// @Param request body SubmitRequest true "Mapper command line"
// @Success 200 {object} SubmitResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /api/scan [post]
// @ID submitScan
func (h *ScanHandler) SubmitScan(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, h.logger, errors.WrapScanError(errors.CodeValidation,
			fmt.Sprintf("Bad request: %v", err), err))
		return
	}

	err := h.launcher.Launch(req.Command)
	switch {
	case err == nil:
		writeJSON(w, r, h.logger, http.StatusOK, SubmitResponse{Success: true})
	case errors.IsLocal(err):
		h.logger.Info("Scan submission refused",
			"request_id", middleware.GetRequestID(r),
			"command", req.Command,
			"reason", err)
		writeJSON(w, r, h.logger, http.StatusOK, SubmitResponse{Success: false})
	default:
		writeError(w, r, h.logger, err)
	}
}

// GetStatus reports whether a scan is in progress and its command.
//
// @Summary Scan status
// @Tags Scans
// @Produce json
// @Success 200 {object} launcher.Status
// @Failure 401 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /api/status [get]
// @ID getStatus
func (h *ScanHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.logger, http.StatusOK, h.launcher.Status())
}

// ListScans returns all finished scans, newest first.
//
// @Summary List finished scans
// @Tags Scans
// @Produce json
// @Success 200 {array} archive.Entry
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /api/scans [get]
// @ID listScans
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	entries, err := h.archive.List()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, entries)
}

// GetScan returns the report of one scan.
//
// @Summary Get a scan report
// @Description Returns the JSON report the mapper wrote for the scan.
// @Tags Scans
// @Produce json
// @Param id path string true "Scan ID"
// @Success 200 {object} object
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /api/scan/{id} [get]
// @ID getScan
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := h.archive.Report(id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, report)
}

// GetReport serves the HTML report the mapper wrote for a scan.
//
// @Summary Get the HTML report
// @Tags Scans
// @Produce html
// @Param id path string true "Scan ID"
// @Success 200 {string} string
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /{id}/report.html [get]
// @ID getReport
func (h *ScanHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	path, err := h.archive.Path(id, archive.ReportHTML)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, r, h.logger, errors.ErrNotFound(id))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, path)
}
