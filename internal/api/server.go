// Package api provides the HTTP backend the mapperctl client talks to.
// It launches the network mapper, reports its status and serves finished
// scan reports from the output directory.
//
//go:generate swag init -g server.go -d ./,./handlers,../archive,../launcher -o ../../docs/swagger --parseInternal
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/mapperctl/docs/swagger" // Register generated swagger docs
	apihandlers "github.com/anstrom/mapperctl/internal/api/handlers"
	"github.com/anstrom/mapperctl/internal/api/middleware"
	"github.com/anstrom/mapperctl/internal/archive"
	"github.com/anstrom/mapperctl/internal/auth"
	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/launcher"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/metrics"
)

// @title mapperctl backend API
// @version 1.0
// @description Launches the network mapper, reports whether a scan is running and serves finished scan reports.
//
// @contact.name mapperctl maintainers
// @contact.url https://github.com/anstrom/mapperctl
//
// @license.name MIT
//
// @BasePath /
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

// Route paths.
const (
	PathScan     = "/api/scan"
	PathScanByID = "/api/scan/{id}"
	PathStatus   = "/api/status"
	PathScans    = "/api/scans"
	PathReport   = "/{id}/report.html"
	PathStatusWS = "/api/ws/status"
	PathHealth   = "/api/health"
	PathMetrics  = "/metrics"
	PathDocs     = "/swagger/"
)

// maxHeaderBytes bounds request headers.
const maxHeaderBytes = 1 << 20

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     config.ServerConfig
	logger     *slog.Logger
	metrics    *metrics.PrometheusMetrics
	launcher   *launcher.Launcher
	archive    *archive.Archive
	hub        *apihandlers.StatusHub
	startTime  time.Time
}

// New creates a server over the launcher and the configured output directory.
// m may be nil, in which case /metrics is not served.
func New(cfg config.ServerConfig, l *launcher.Launcher, logger *logging.Logger, m *metrics.PrometheusMetrics) *Server {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	apiLogger := logger.WithComponent("api")

	s := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		logger:    apiLogger.Logger,
		metrics:   m,
		launcher:  l,
		archive:   archive.New(cfg.OutputDir, logger),
		startTime: time.Now(),
	}

	s.hub = apihandlers.NewStatusHub(l.Status, s.logger)
	l.Subscribe(s.hub.Publish)

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:        s.Handler(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return s
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	scans := apihandlers.NewScanHandler(s.launcher, s.archive, s.logger)
	health := apihandlers.NewHealthHandler(s.archive, s.launcher, s.logger)

	s.router.HandleFunc(PathScan, scans.SubmitScan).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc(PathStatus, scans.GetStatus).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc(PathScans, scans.ListScans).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc(PathScanByID, scans.GetScan).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc(PathStatusWS, s.hub.ServeStatus).Methods(http.MethodGet)
	s.router.HandleFunc(PathHealth, health.Health).Methods(http.MethodGet)
	s.router.HandleFunc(PathReport, scans.GetReport).Methods(http.MethodGet)

	s.router.PathPrefix(PathDocs).Handler(httpSwagger.Handler(
		httpSwagger.URL(PathDocs+"doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	)).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle(PathMetrics, promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}
}

// setupMiddleware configures middleware for the API server. Order matters:
// the request ID must exist before anything logs.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.SecurityHeaders())

	if s.config.CORS.Enabled {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(s.config.CORS.AllowedOrigins),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.APIKeyHeader}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
		))
	}

	keys := auth.NewKeyRing(s.config.APIKeyHashes)
	s.router.Use(middleware.Authentication(keys, []string{PathHealth, PathMetrics, PathDocs}, s.logger))
	s.router.Use(middleware.ContentType())
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is canceled or serving fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"output_dir", s.archive.Dir(),
		"auth_enabled", len(s.config.APIKeyHashes) > 0)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.hub.Shutdown()
		return err
	}
}

// Stop gracefully stops the API server and any running mapper.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server", "uptime", time.Since(s.startTime).Round(time.Second))

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.hub.Shutdown()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := s.launcher.Shutdown(ctx); err != nil {
		return fmt.Errorf("mapper shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}
