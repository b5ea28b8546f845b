package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route onto a gin engine.
func NewRouter(h *Handler, ready ReadinessChecker, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(Metrics())

	router.GET("/health/live", HealthLive)
	router.GET("/health/ready", HealthReady(ready))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	qbo := router.Group("/api/qbo")
	{
		qbo.POST("/authorize", h.Authorize)
		qbo.GET("/accounts", h.ListAccounts)
		qbo.POST("/sync", h.Sync)
		qbo.GET("/sync/status", h.SyncStatus)
		qbo.GET("/customers", h.ListCustomers)
		qbo.GET("/invoices", h.ListInvoices)
	}

	return router
}

// Server runs the HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(port int, router http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Start serves until Shutdown is called; it returns nil on a clean stop.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
