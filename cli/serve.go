package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ragon/ragon/engine/infra/monitoring"
	"github.com/ragon/ragon/engine/knowledge"
	"github.com/ragon/ragon/engine/knowledge/embedder"
	"github.com/ragon/ragon/engine/knowledge/kbtool"
	"github.com/ragon/ragon/engine/knowledge/retriever"
	"github.com/ragon/ragon/engine/knowledge/store"
	"github.com/ragon/ragon/pkg/config"
	"github.com/ragon/ragon/pkg/logger"
	mcpgateway "github.com/ragon/ragon/pkg/mcp-gateway"
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP knowledge gateway",
		Long:  "Start the SSE/JSON-RPC gateway exposing search_knowledge_base to MCP clients",
		RunE:  handleServeCmd,
	}
	cmd.Flags().String("config", "", "Path to a JSON or YAML configuration file")
	cmd.Flags().String("host", "0.0.0.0", "Host to bind the server to")
	cmd.Flags().Int("port", 8000, "Port to run the server on")
	cmd.Flags().String("base-url", "", "Public URL prefix advertised in the endpoint event")
	cmd.Flags().String("rag-config", "rag_config.json", "Path to the retrieval tuning file")
	cmd.Flags().String("rate-limit", "", "Per-session message rate, e.g. 50-S (empty disables)")
	return cmd
}

func handleServeCmd(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadServeConfig(ctx, cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(logger.ParseLevel(cfg.Log.Level), cfg.Log.JSON, cfg.Log.Source)
	ctx = config.ContextWithConfig(logger.ContextWithLogger(ctx, log), cfg)

	deps, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.WithoutCancel(ctx))

	log.Info("Starting RAGON knowledge gateway",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"dispatch_mode", cfg.Gateway.DispatchMode,
		"result_cache", deps.redis != nil,
	)
	return mcpgateway.Run(ctx, mcpgateway.ConfigFromApp(cfg), deps.tools, deps.monitoring)
}

func loadServeConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.NewLoader().Load(ctx, path, extractCLIFlags(cmd))
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL.Value() == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

// services holds the process-wide collaborators of the gateway.
type services struct {
	pool       *pgxpool.Pool
	redis      *redis.Client
	monitoring *monitoring.Service
	tools      *mcpgateway.ToolRegistry
}

// buildServices reads its settings from the config attached to ctx.
func buildServices(ctx context.Context) (_ *services, err error) {
	cfg := config.FromContext(ctx)
	deps := &services{}
	defer func() {
		if err != nil {
			deps.Close(context.WithoutCancel(ctx))
		}
	}()

	deps.monitoring, err = monitoring.NewService(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitoring: %w", err)
	}
	metrics, err := knowledge.NewMetrics(deps.monitoring.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to register knowledge metrics: %w", err)
	}

	deps.pool, err = store.Connect(ctx, &store.PoolConfig{
		URL:         cfg.Database.URL.Value(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		ConnTimeout: cfg.Database.ConnTimeout,
	})
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(&embedder.Config{
		APIKey:         cfg.Embedder.APIKey.Value(),
		BaseURL:        cfg.Embedder.BaseURL,
		Model:          cfg.Embedder.Model,
		CacheSize:      cfg.Embedder.CacheSize,
		MaxRetries:     cfg.Embedder.MaxRetries,
		RetryBaseDelay: cfg.Embedder.RetryBaseDelay,
	}, embedder.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	opts := []retriever.Option{retriever.WithMetrics(metrics)}
	if cfg.Cache.RedisURL != "" {
		deps.redis, err = retriever.ConnectRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, retriever.WithCache(retriever.NewRedisCache(
			deps.redis, cfg.Cache.Prefix, cfg.Cache.TTL, retriever.WithCacheMetrics(metrics),
		)))
	}
	ragCfg := knowledge.LoadRAGConfig(ctx, cfg.Retrieval.ConfigPath)
	svc, err := retriever.NewService(emb, store.New(deps.pool), ragCfg, opts...)
	if err != nil {
		return nil, err
	}

	deps.tools = mcpgateway.NewToolRegistry()
	if err = kbtool.Register(deps.tools, svc, &kbtool.Config{
		DirectExcerptChars: cfg.Tool.DirectExcerptChars,
		DeepExcerptChars:   cfg.Tool.DeepExcerptChars,
	}); err != nil {
		return nil, err
	}
	return deps, nil
}

func (s *services) Close(ctx context.Context) {
	log := logger.FromContext(ctx)
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn("Failed to close redis client", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.monitoring != nil {
		if err := s.monitoring.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down monitoring", "error", err)
		}
	}
}
