package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragon/ragon/engine/infra/monitoring"
	"github.com/ragon/ragon/pkg/logger"
	"github.com/ragon/ragon/pkg/version"
)

// Server is the MCP gateway HTTP server.
type Server struct {
	Router     *gin.Engine
	httpServer *http.Server
	config     *Config
	sessions   *Registry
	dispatcher *Dispatcher
	pool       *TaskPool
	handlers   *Handlers
	monitoring *monitoring.Service
	draining   atomic.Bool
}

// Config holds the gateway listener and transport settings.
type Config struct {
	Host            string
	Port            int
	BaseURL         string // prefix for the announced message endpoint
	ShutdownTimeout time.Duration

	SSEPath           string
	MessagePath       string
	MaxBodyBytes      int64
	HeartbeatInterval time.Duration
	// MaxConcurrentDispatch caps running handlers; zero means unbounded.
	MaxConcurrentDispatch int
	ToolTimeout           time.Duration
	RateLimit             string

	Instructions string
}

// Validate checks paths, port and limits.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if !strings.HasPrefix(c.SSEPath, "/") || !strings.HasPrefix(c.MessagePath, "/") {
		return errors.New("sse and message paths must be absolute")
	}
	if c.SSEPath == c.MessagePath {
		return errors.New("sse and message paths must differ")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	if c.MaxConcurrentDispatch < 0 {
		return errors.New("max concurrent dispatch cannot be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewServer wires the session registry, dispatcher and task pool behind a
// gin router. mon may be nil.
func NewServer(ctx context.Context, cfg *Config, tools *ToolRegistry, mon *monitoring.Service) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	log := logger.FromContext(ctx)

	var metrics *Metrics
	if mon != nil && mon.IsInitialized() {
		m, err := NewMetrics(mon.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create gateway metrics: %w", err)
		}
		metrics = m
	}

	info := version.Get()
	sessions := NewRegistry()
	dispatcher := NewDispatcher(sessions, tools,
		WithServerInfo(info.Name, info.Version),
		WithInstructions(cfg.Instructions),
		WithToolTimeout(cfg.ToolTimeout),
		WithMetrics(metrics),
	)
	pool := NewTaskPool(logger.ContextWithLogger(ctx, log), cfg.MaxConcurrentDispatch)

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(recoverMiddleware(), contextLoggerMiddleware(log), accessLogMiddleware())
	if mon != nil {
		router.Use(mon.GinMiddleware())
	}

	s := &Server{
		Router:     router,
		config:     cfg,
		sessions:   sessions,
		dispatcher: dispatcher,
		pool:       pool,
		monitoring: mon,
		handlers: &Handlers{
			sessions:    sessions,
			dispatcher:  dispatcher,
			pool:        pool,
			metrics:     metrics,
			messagePath: strings.TrimRight(cfg.BaseURL, "/") + cfg.MessagePath,
			heartbeat:   cfg.HeartbeatInterval,
			maxBody:     cfg.MaxBodyBytes,
		},
		// No write timeout: SSE responses stay open for the whole session.
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	s.Router.GET("/", s.livenessHandler)
	s.Router.GET("/healthz", s.healthzHandler)
	s.Router.GET(s.config.SSEPath, s.rejectWhileDraining, s.handlers.StreamHandler)

	limit, err := rateLimitMiddleware(s.config.RateLimit)
	if err != nil {
		return err
	}
	ingress := []gin.HandlerFunc{s.rejectWhileDraining}
	if limit != nil {
		ingress = append(ingress, limit)
	}
	s.Router.POST(s.config.MessagePath, append(ingress, s.handlers.MessageHandler)...)

	if s.monitoring != nil && s.monitoring.IsInitialized() {
		s.Router.GET(s.monitoring.Path(), gin.WrapH(s.monitoring.Handler()))
	}
	return nil
}

func (s *Server) livenessHandler(c *gin.Context) {
	info := version.Get()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": info.Name,
		"version": info.Version,
	})
}

func (s *Server) healthzHandler(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if s.draining.Load() {
		status, code = "draining", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   version.Get().Version,
		"sessions":  s.sessions.Len(),
	})
}

func (s *Server) rejectWhileDraining(c *gin.Context) {
	if s.draining.Load() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}
	c.Next()
}

// Sessions exposes the registry, mainly for health reporting and tests.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("Starting MCP gateway",
		"addr", s.config.Addr(),
		"sse_path", s.config.SSEPath,
		"message_path", s.config.MessagePath,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	}
	log.Info("MCP gateway started")

	select {
	case <-ctx.Done():
		log.Debug("Context canceled, shutting down gateway")
		return s.Stop(context.WithoutCancel(ctx))
	case err := <-errChan:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
			if stopErr := s.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				log.Error("Failed to stop gateway after HTTP failure", "error", stopErr)
			}
			return err
		}
		return nil
	}
}

// Stop ends every stream with the shutdown sentinel, drains in-flight
// dispatches and then closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	log := logger.FromContext(ctx)
	if !s.draining.CompareAndSwap(false, true) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	closed := s.sessions.CloseAll()
	log.Info("Shutting down MCP gateway", "open_sessions", closed)
	if err := s.pool.Close(shutdownCtx); err != nil {
		log.Warn("Dispatch pool did not drain in time", "error", err)
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Gateway shutdown failed", "error", err)
		return err
	}
	log.Info("MCP gateway stopped gracefully")
	return nil
}
