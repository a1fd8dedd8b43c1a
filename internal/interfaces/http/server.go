// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/service"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RatePerMinute and RateBurst limit mutating requests per actor; zero disables.
	RatePerMinute int
	RateBurst     int

	// MediaURL is served from MediaDir.
	MediaURL string
	MediaDir string

	// MaxUploadBytes bounds multipart submissions.
	MaxUploadBytes int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RatePerMinute:   60,
		RateBurst:       10,
		MediaURL:        "/media",
		MaxUploadBytes:  64 << 20,
	}
}

// Services are the application services exposed over HTTP
type Services struct {
	Requests  service.RequestService
	Directory service.DirectoryService
	Dashboard service.DashboardService
}

// HealthFunc reports component health for GET /health
type HealthFunc func() (healthy bool, details interface{})

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	health     HealthFunc
	logger     *zap.Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, health HealthFunc, logger *zap.Logger) *Server {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	server := &Server{
		config:   config,
		router:   router,
		services: services,
		health:   health,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(loggingMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.health, s.config.MaxUploadBytes, s.logger)

	s.router.GET("/health", h.HealthCheck)

	if s.config.MediaURL != "" && s.config.MediaDir != "" {
		s.router.Static(s.config.MediaURL, s.config.MediaDir)
	}

	api := s.router.Group("/api")
	api.Use(actorMiddleware(), rateLimitMiddleware(newActorLimiter(s.config.RatePerMinute, s.config.RateBurst)))
	{
		api.POST("/employees", h.CreateEmployee)
		api.GET("/employees", h.ListEmployees)
		api.GET("/employees/:employee_id", h.GetEmployee)
		api.PATCH("/employees/:employee_id", h.UpdateEmployee)

		api.POST("/requests/:kind", h.SubmitRequest)
		api.GET("/requests/:kind/:id", h.GetRequest)
		api.GET("/requests/:kind/:id/history", h.GetHistory)
		api.GET("/requests/:kind/:id/payment-attachments", h.GetPaymentAttachments)
		api.POST("/requests/:kind/:id/approve", h.ApproveRequest)
		api.POST("/requests/:kind/:id/reject", h.RejectRequest)
		api.POST("/requests/:kind/:id/forward", h.ForwardRequest)
		api.POST("/requests/:kind/:id/pay", h.MarkPaid)

		api.GET("/dashboard", h.RoleDashboard)
		api.GET("/dashboard/employee/:employee_id", h.EmployeeSummary)
		api.GET("/dashboard/queue", h.ApproverQueue)
		api.GET("/dashboard/payments", h.PaymentQueue)
		api.GET("/dashboard/performance", h.Performance)

		api.GET("/reports/finance", h.FinanceReport)

		api.POST("/admin/payments/normalize", h.NormalizePayments)
	}
}

// Start runs the server until ctx is cancelled, then shuts it down
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
