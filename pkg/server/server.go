// Package server exposes the chat relay HTTP API: streaming chat over SSE,
// usage statistics and operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/config"
	"github.com/mujians/vantyx-assistant/pkg/providers"
	"github.com/mujians/vantyx-assistant/pkg/telemetry"
	"github.com/mujians/vantyx-assistant/pkg/usage"
)

type Server struct {
	engine   *gin.Engine
	provider providers.LLMProvider
	tracker  *usage.Tracker
	monitor  *usage.BudgetMonitor
	sink     *telemetry.Sink
	logger   *zap.Logger
	timeout  time.Duration
	httpSrv  *http.Server
}

// New assembles the gin engine with its middleware chain and routes.
func New(cfg config.ServerConfig, provider providers.LLMProvider, tracker *usage.Tracker, monitor *usage.BudgetMonitor, sink *telemetry.Sink, logger *zap.Logger) *Server {
	s := &Server{
		provider: provider,
		tracker:  tracker,
		monitor:  monitor,
		sink:     sink,
		logger:   logger,
		timeout:  time.Duration(cfg.RequestTimeoutS) * time.Second,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(securityHeaders())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	limiter := newIPLimiter(cfg.RateLimitPerHour)
	engine.POST("/api/chat", limiter.middleware(), requireJSON(), s.handleChat)
	engine.GET("/api/usage-stats", s.handleUsageStats)
	engine.GET("/health", s.handleHealth)
	engine.GET("/api/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
