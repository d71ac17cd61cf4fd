// Package api provides the HTTP status API of tracerama. It exposes the
// running monitors, persisted results, Prometheus metrics and a websocket
// stream of monitor events.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/tracerama/docs/swagger" // generated OpenAPI document
	apihandlers "github.com/anstrom/tracerama/internal/api/handlers"
	"github.com/anstrom/tracerama/internal/api/middleware"
	"github.com/anstrom/tracerama/internal/config"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/metrics"
)

//go:generate swag init --dir ./,./handlers --generalInfo server.go --output ../../docs/swagger --parseInternal

// @title tracerama status API
// @version 1.0
// @description Running traceroute monitors, stored results and monitor events.
// @BasePath /api/v1

const (
	serverShutdownTimeout = 30 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	defaultMetricsPath    = "/metrics"
	systemMetricsInterval = 15 * time.Second
)

// Dependencies are the components the API reads from. Only Monitors is
// required; a nil Results or pinger disables that part of the API. Hub is
// created when nil; pass one in when monitors must publish to it before
// the server exists.
type Dependencies struct {
	Monitors apihandlers.MonitorRegistry
	Template apihandlers.RequestTemplate
	Results  apihandlers.ResultReader
	Checks   map[string]apihandlers.Pinger
	Hub      *apihandlers.WebSocketHub
	Metrics  *metrics.PrometheusMetrics
	Version  string
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *apihandlers.WebSocketHub
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Monitors == nil {
		return nil, fmt.Errorf("api server requires a monitor registry")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.GetGlobalMetrics()
	}

	logger := logging.Default().WithComponent("api")
	if deps.Hub == nil {
		deps.Hub = apihandlers.NewWebSocketHub(cfg.API.AllowedOrigins, logger)
	}
	s := &Server{
		router: mux.NewRouter(),
		hub:    deps.Hub,
		logger: logger,
	}
	if cfg.Metrics.Enabled {
		s.metrics = deps.Metrics
	}

	s.setupRoutes(cfg, deps)
	s.setupMiddleware(cfg, deps.Metrics)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:           s.router,
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes(cfg *config.Config, deps Dependencies) {
	health := apihandlers.NewHealthHandler(deps.Version, deps.Checks, func() int {
		return len(deps.Monitors.Snapshots())
	}, s.logger)
	monitors := apihandlers.NewMonitorHandler(deps.Monitors, deps.Template, s.logger)
	results := apihandlers.NewResultHandler(deps.Results, s.logger)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	const keyPath = "/monitors/{protocol}/{target}/{port:[0-9]+}"
	api.HandleFunc("/monitors", monitors.List).Methods(http.MethodGet)
	api.HandleFunc("/monitors", monitors.Create).Methods(http.MethodPost)
	api.HandleFunc(keyPath, monitors.Get).Methods(http.MethodGet)
	api.HandleFunc(keyPath, monitors.Delete).Methods(http.MethodDelete)
	api.HandleFunc(keyPath+"/results", results.ByMonitor).Methods(http.MethodGet)

	api.HandleFunc("/results", results.Recent).Methods(http.MethodGet)
	api.HandleFunc("/results/{id}", results.Get).Methods(http.MethodGet)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = defaultMetricsPath
		}
		s.router.Handle(path, promhttp.HandlerFor(deps.Metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	s.router.Handle("/ws", s.hub).Methods(http.MethodGet)

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))
	s.router.Handle("/docs", http.RedirectHandler("/swagger/index.html", http.StatusMovedPermanently)).
		Methods(http.MethodGet)
}

func (s *Server) setupMiddleware(cfg *config.Config, m *metrics.PrometheusMetrics) {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(m))
	s.router.Use(middleware.SecurityHeaders())

	if len(cfg.API.AllowedOrigins) > 0 {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(cfg.API.AllowedOrigins),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		))
	}

	s.router.Use(middleware.ContentType())
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	if s.metrics != nil {
		go s.metrics.StartPeriodicUpdates(ctx, systemMetricsInterval)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// Hub returns the websocket hub so that monitors can publish to it.
func (s *Server) Hub() *apihandlers.WebSocketHub {
	return s.hub
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}
