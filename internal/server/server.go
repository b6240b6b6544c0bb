package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/loader"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/middleware"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/monitoring"
)

// Server wraps the HTTP host and the bridge it drives
type Server struct {
	router   *gin.Engine
	http     *http.Server
	bridge   *bridge.Bridge
	loader   *loader.Loader
	hub      *Hub
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	config   *config.Config
}

// New creates a server instance
func New(cfg *config.Config, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing bridge server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	hub := NewHub(metrics, logger.Named("stream"))

	b := bridge.New(
		bridge.WithConfig(cfg.Bridge(logger)),
		bridge.WithLogger(logger.Named("bridge")),
		bridge.WithMetrics(metrics),
		bridge.WithExceptionObserver(func(ptr bridge.PagePointer, contextID int32, exc *engine.Exception) {
			hub.Publish(ptr, contextID, exc)
		}),
	)

	s := &Server{
		bridge:   b,
		loader:   loader.New(cfg.Bundles(), logger.Named("loader")),
		hub:      hub,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s
}

func (s *Server) routes() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		rl.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	h := &handlers{bridge: s.bridge, loader: s.loader, hub: s.hub, metrics: s.metrics, logger: s.logger}

	router.GET("/health", h.Health)

	router.GET("/pages", h.ListPages)
	router.POST("/pages", h.CreatePage)
	router.DELETE("/pages/:id", h.ClosePage)

	router.POST("/pages/:id/scripts", h.EvaluateScripts)
	router.POST("/pages/:id/bytecode", h.EvaluateByteCode)
	router.POST("/pages/:id/html", h.ParseHTML)
	router.POST("/pages/:id/bundles", h.LoadBundle)
	router.POST("/pages/:id/modules/:name/events", h.InvokeModuleEvent)
	router.GET("/pages/:id/document", h.Document)
	router.GET("/pages/:id/changes", h.Changes)

	router.GET("/pages/:id/exceptions", h.Exceptions)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", h.MetricsSnapshot)

	return router
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

// Bridge returns the bridge driven by the server
func (s *Server) Bridge() *bridge.Bridge { return s.bridge }

// Run starts the server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then closes every page
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	s.bridge.Close()
	s.logger.Info("Closed all pages")
	s.logger.Sync()

	return err
}
