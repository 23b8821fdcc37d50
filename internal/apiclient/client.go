// Package apiclient implements the HTTP client for the network mapper backend API.
// It covers scan submission, status polling, the scan list and scan details,
// and maps transport failures onto the coded errors of internal/errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/errors"
)

// API endpoint paths.
const (
	PathScan   = "/api/scan"
	PathStatus = "/api/status"
	PathScans  = "/api/scans"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 16 * 1024 * 1024

// errResponseTooLarge is returned for bodies over maxResponseSize.
var errResponseTooLarge = fmt.Errorf("response body exceeds %d bytes", maxResponseSize)

// Client provides HTTP client functionality for the mapper backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// SubmitResponse is the body returned by POST /api/scan.
type SubmitResponse struct {
	Success bool `json:"success"`
}

// StatusResponse is the body returned by GET /api/status.
type StatusResponse struct {
	InProgress bool   `json:"in_progress"`
	Command    string `json:"command"`
}

// APIError represents a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// New creates a client from the client section of the configuration.
func New(cfg config.ClientConfig) *Client {
	return NewWithHTTPClient(cfg, &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	})
}

// NewWithHTTPClient creates a client that sends requests through httpClient.
func NewWithHTTPClient(cfg config.ClientConfig, httpClient *http.Client) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "mapperctl/1.0"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit posts a command to start a scan.
func (c *Client) Submit(ctx context.Context, command string) (*SubmitResponse, error) {
	body, err := c.do(ctx, http.MethodPost, PathScan, map[string]string{"command": command})
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil, errors.WrapScanError(errors.CodeSubmitRejected, "Backend rejected the scan request", err).
				WithContext("command", command)
		}
		return nil, transportError("submit", err)
	}

	var resp SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.ErrTransport("submit", fmt.Errorf("failed to decode submit response: %w", err))
	}
	return &resp, nil
}

// Status queries whether the external scan is still running.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	body, err := c.do(ctx, http.MethodGet, PathStatus, nil)
	if err != nil {
		return nil, transportError("status", err)
	}

	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.ErrTransport("status", fmt.Errorf("failed to decode status response: %w", err))
	}
	return &resp, nil
}

// ListScans returns the raw JSON body of GET /api/scans.
func (c *Client) ListScans(ctx context.Context) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, PathScans, nil)
	if err != nil {
		return nil, transportError("list_scans", err)
	}
	return body, nil
}

// GetScan returns the raw JSON body of GET /api/scan/{id}.
// A 404 is reported as NOT_FOUND rather than a transport failure.
func (c *Client) GetScan(ctx context.Context, id string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, PathScan+"/"+url.PathEscape(id), nil)
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, errors.ErrNotFound(id)
		}
		return nil, transportError("get_scan", err)
	}
	return body, nil
}

// ReportURL returns the absolute link to the static HTML report of a scan.
func (c *Client) ReportURL(id string) string {
	return c.baseURL + "/" + url.PathEscape(id) + "/report.html"
}

// do performs the HTTP request and returns the response body of a 2xx response.
func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var requestBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		requestBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(bodyBytes) > maxResponseSize {
		return nil, errResponseTooLarge
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newAPIError(resp, bodyBytes)
	}

	return bodyBytes, nil
}

// transportError maps a failed call onto a coded error. A 401 or 403 means
// the API key was refused.
func transportError(operation string, err error) *errors.ScanError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return errors.ErrUnauthorized(operation, err)
	}
	return errors.ErrTransport(operation, err)
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	var parsed struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(body, &parsed)

	msg := parsed.Message
	if msg == "" {
		msg = parsed.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	requestID := parsed.RequestID
	if requestID == "" {
		requestID = resp.Header.Get("X-Request-ID")
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		RequestID:  requestID,
	}
}
