package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mapperctl/internal/archive"
	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/launcher"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type fakeLauncher struct {
	mu       sync.Mutex
	err      error
	commands []string
	status   launcher.Status
}

func (f *fakeLauncher) Launch(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.err
}

func (f *fakeLauncher) Status() launcher.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func newTestRouter(t *testing.T, l ScanLauncher) (*mux.Router, string) {
	t.Helper()
	dir := t.TempDir()
	h := NewScanHandler(l, archive.New(dir, nil), createTestLogger())

	router := mux.NewRouter()
	router.HandleFunc("/api/scan", h.SubmitScan).Methods(http.MethodPost)
	router.HandleFunc("/api/status", h.GetStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/scans", h.ListScans).Methods(http.MethodGet)
	router.HandleFunc("/api/scan/{id}", h.GetScan).Methods(http.MethodGet)
	router.HandleFunc("/{id}/report.html", h.GetReport).Methods(http.MethodGet)
	return router, dir
}

func serve(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitScan(t *testing.T) {
	command := "python3 network_mapper.py -n 10.0.0.0/24 -t 50 -v"

	tests := []struct {
		name           string
		launchErr      error
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "accepted",
			body:           `{"command": "` + command + `"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"success": true}`,
		},
		{
			name:           "invalid command",
			launchErr:      errors.ErrInvalidConfig("command", "unsupported argument"),
			body:           `{"command": "rm -rf /"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"success": false}`,
		},
		{
			name:           "scan in progress",
			launchErr:      errors.ErrAlreadyRunning("running"),
			body:           `{"command": "` + command + `"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"success": false}`,
		},
		{
			name:           "mapper cannot start",
			launchErr:      errors.ErrTransport("launch", assert.AnError),
			body:           `{"command": "` + command + `"}`,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "malformed body",
			body:           `{"command":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLauncher{err: tt.launchErr}
			router, _ := newTestRouter(t, fake)

			w := serve(router, http.MethodPost, "/api/scan", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestSubmitScan_PassesCommandThrough(t *testing.T) {
	fake := &fakeLauncher{}
	router, _ := newTestRouter(t, fake)

	serve(router, http.MethodPost, "/api/scan", `{"command": "python3 network_mapper.py -n 10.0.0.0/24"}`)
	assert.Equal(t, []string{"python3 network_mapper.py -n 10.0.0.0/24"}, fake.commands)
}

func TestGetStatus(t *testing.T) {
	command := "python3 network_mapper.py -n 10.0.0.0/24"

	fake := &fakeLauncher{}
	router, _ := newTestRouter(t, fake)

	w := serve(router, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"in_progress": false, "command": null}`, w.Body.String())

	fake.status = launcher.Status{InProgress: true, Command: &command}
	w = serve(router, http.MethodGet, "/api/status", "")
	assert.JSONEq(t, `{"in_progress": true, "command": "`+command+`"}`, w.Body.String())
}

func TestListScans(t *testing.T) {
	router, dir := newTestRouter(t, &fakeLauncher{})

	w := serve(router, http.MethodGet, "/api/scans", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	scanDir := filepath.Join(dir, "network_scan_20240101_120000")
	require.NoError(t, os.MkdirAll(scanDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(scanDir, archive.ReportJSON),
		[]byte(`{"network_range": "10.0.0.0/24", "live_hosts": ["10.0.0.5"], "vulnerable_hosts": []}`), 0o600))

	w = serve(router, http.MethodGet, "/api/scans", "")
	assert.JSONEq(t, `[{
		"id": "network_scan_20240101_120000",
		"time": "2024-01-01 12:00:00",
		"network": "10.0.0.0/24",
		"hosts": 1,
		"vulnerable_hosts": 0
	}]`, w.Body.String())
}

func TestListScans_OutputDirMissing(t *testing.T) {
	h := NewScanHandler(&fakeLauncher{}, archive.New(filepath.Join(t.TempDir(), "gone"), nil), createTestLogger())
	w := httptest.NewRecorder()
	h.ListScans(w, httptest.NewRequest(http.MethodGet, "/api/scans", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, string(errors.CodeTransport), response.Code)
}

func TestGetScan(t *testing.T) {
	router, dir := newTestRouter(t, &fakeLauncher{})
	report := `{"network_range": "10.0.0.0/24", "hosts": {}, "live_hosts": [], "vulnerable_hosts": []}`

	scanDir := filepath.Join(dir, "network_scan_20240101_120000")
	require.NoError(t, os.MkdirAll(scanDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(scanDir, archive.ReportJSON), []byte(report), 0o600))

	w := serve(router, http.MethodGet, "/api/scan/network_scan_20240101_120000", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, report, w.Body.String())

	for _, id := range []string{"network_scan_19990101_000000", "unrelated", "network_scan_"} {
		w = serve(router, http.MethodGet, "/api/scan/"+id, "")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
}

func TestGetReport(t *testing.T) {
	router, dir := newTestRouter(t, &fakeLauncher{})

	scanDir := filepath.Join(dir, "network_scan_20240101_120000")
	require.NoError(t, os.MkdirAll(scanDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(scanDir, archive.ReportHTML), []byte("<h1>report</h1>"), 0o600))

	w := serve(router, http.MethodGet, "/network_scan_20240101_120000/report.html", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<h1>report</h1>", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = serve(router, http.MethodGet, "/network_scan_20240102_120000/report.html", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, http.MethodGet, "/etc/report.html", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type stubChecker string

func (s stubChecker) Describe() string { return string(s) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name           string
		check          string
		expectedStatus int
		expectedHealth string
	}{
		{"healthy", "ok", http.StatusOK, StatusHealthy},
		{"output dir missing", "unavailable: no such directory", http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(stubChecker(tt.check), &fakeLauncher{}, createTestLogger())
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody))

			assert.Equal(t, tt.expectedStatus, w.Code)
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedHealth, response.Status)
			assert.Equal(t, tt.check, response.Checks["output_dir"])
			assert.False(t, response.ScanInProgress)
		})
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForError(errors.ErrNotFound("x")))
	assert.Equal(t, http.StatusBadRequest, statusForError(errors.ErrInvalidConfig("f", "r")))
	assert.Equal(t, http.StatusConflict, statusForError(errors.ErrAlreadyRunning("running")))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.ErrMalformedData("x", "report.json")))
	assert.Equal(t, http.StatusInternalServerError, statusForError(assert.AnError))
}

func readStatus(t *testing.T, conn *websocket.Conn) launcher.Status {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type string          `json:"type"`
		Data launcher.Status `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeScanStatus, msg.Type)
	return msg.Data
}

func TestStatusHub(t *testing.T) {
	command := "python3 network_mapper.py -n 10.0.0.0/24"
	fake := &fakeLauncher{}
	hub := NewStatusHub(fake.Status, createTestLogger())
	defer hub.Shutdown()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeStatus))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The current status arrives first.
	initial := readStatus(t, conn)
	assert.False(t, initial.InProgress)
	assert.Nil(t, initial.Command)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Publish(launcher.Status{InProgress: true, Command: &command})
	hub.Publish(launcher.Status{InProgress: false, Command: &command})

	running := readStatus(t, conn)
	assert.True(t, running.InProgress)
	require.NotNil(t, running.Command)
	assert.Equal(t, command, *running.Command)
	assert.False(t, readStatus(t, conn).InProgress)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStatusHub_ShutdownClosesClients(t *testing.T) {
	hub := NewStatusHub((&fakeLauncher{}).Status, createTestLogger())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeStatus))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readStatus(t, conn)

	hub.Shutdown()
	hub.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Zero(t, hub.ClientCount())

	// Publishing after shutdown never blocks.
	hub.Publish(launcher.Status{})
}

func TestStatusHub_RejectsPlainHTTP(t *testing.T) {
	hub := NewStatusHub((&fakeLauncher{}).Status, createTestLogger())
	defer hub.Shutdown()

	w := httptest.NewRecorder()
	hub.ServeStatus(w, httptest.NewRequest(http.MethodGet, "/api/ws/status", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
