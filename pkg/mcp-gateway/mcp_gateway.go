package mcpgateway

import (
	"context"
	"time"

	"github.com/ragon/ragon/engine/infra/monitoring"
	appconfig "github.com/ragon/ragon/pkg/config"
)

// DefaultConfig listens on 0.0.0.0:8000 with /sse and /messages.
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 10 * time.Second,
		SSEPath:         "/sse",
		MessagePath:     "/messages",
		MaxBodyBytes:    4 << 20,
	}
}

// ConfigFromApp maps the process configuration onto gateway settings.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	limit := 0
	if cfg.Gateway.DispatchMode == appconfig.DispatchBounded {
		limit = cfg.Gateway.MaxConcurrentDispatch
	}
	return &Config{
		Host:                  cfg.Server.Host,
		Port:                  cfg.Server.Port,
		BaseURL:               cfg.Server.BaseURL,
		ShutdownTimeout:       cfg.Server.ShutdownTimeout,
		SSEPath:               cfg.Gateway.SSEPath,
		MessagePath:           cfg.Gateway.MessagePath,
		MaxBodyBytes:          cfg.Gateway.MaxBodyBytes,
		HeartbeatInterval:     cfg.Gateway.HeartbeatInterval,
		MaxConcurrentDispatch: limit,
		ToolTimeout:           cfg.Gateway.ToolTimeout,
		RateLimit:             cfg.Gateway.RateLimit,
	}
}

// Run builds a server for tools and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *Config, tools *ToolRegistry, mon *monitoring.Service) error {
	server, err := NewServer(ctx, cfg, tools, mon)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}
