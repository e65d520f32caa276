package config

import (
	"encoding/json"
	"time"
)

const (
	DispatchUnbounded = "unbounded"
	DispatchBounded   = "bounded"
)

// Config is the complete runtime configuration of a ragon process.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Database   DatabaseConfig   `koanf:"database"`
	Embedder   EmbedderConfig   `koanf:"embedder"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Cache      CacheConfig      `koanf:"cache"`
	Tool       ToolConfig       `koanf:"tool"`
	Log        LogConfig        `koanf:"log"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"        env:"RAGON_HOST"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535" env:"PORT"`
	BaseURL         string        `koanf:"base_url"                                    env:"RAGON_BASE_URL"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"           env:"RAGON_SHUTDOWN_TIMEOUT"`
}

// GatewayConfig tunes the SSE/JSON-RPC gateway.
type GatewayConfig struct {
	SSEPath               string        `koanf:"sse_path"                validate:"required,http_path"                  env:"RAGON_SSE_PATH"`
	MessagePath           string        `koanf:"message_path"            validate:"required,http_path"                  env:"RAGON_MESSAGE_PATH"`
	MaxBodyBytes          int64         `koanf:"max_body_bytes"          validate:"min=1"                               env:"RAGON_MAX_BODY_BYTES"`
	HeartbeatInterval     time.Duration `koanf:"heartbeat_interval"      validate:"min=0"                               env:"RAGON_HEARTBEAT_INTERVAL"`
	DispatchMode          string        `koanf:"dispatch_mode"           validate:"required,oneof=unbounded bounded"    env:"RAGON_DISPATCH_MODE"`
	MaxConcurrentDispatch int           `koanf:"max_concurrent_dispatch" validate:"min=1"                               env:"RAGON_MAX_CONCURRENT_DISPATCH"`
	ToolTimeout           time.Duration `koanf:"tool_timeout"            validate:"min=0"                               env:"RAGON_TOOL_TIMEOUT"`
	// RateLimit uses the limiter notation ("50-S", "1000-M"); empty disables it.
	RateLimit string `koanf:"rate_limit" env:"RAGON_RATE_LIMIT"`
}

type DatabaseConfig struct {
	URL         SensitiveString `koanf:"url"          env:"DATABASE_URL"     sensitive:"true"`
	MaxConns    int32           `koanf:"max_conns"    env:"DATABASE_MAX_CONNS"    validate:"min=1"`
	MinConns    int32           `koanf:"min_conns"    env:"DATABASE_MIN_CONNS"    validate:"min=0"`
	ConnTimeout time.Duration   `koanf:"conn_timeout" env:"DATABASE_CONN_TIMEOUT" validate:"min=0"`
}

type EmbedderConfig struct {
	APIKey         SensitiveString `koanf:"api_key"          env:"OPENAI_API_KEY"  sensitive:"true"`
	BaseURL        string          `koanf:"base_url"         env:"OPENAI_BASE_URL"`
	Model          string          `koanf:"model"            env:"RAGON_EMBEDDING_MODEL"       validate:"required"`
	CacheSize      int             `koanf:"cache_size"       env:"RAGON_EMBEDDING_CACHE_SIZE"  validate:"min=0"`
	MaxRetries     uint64          `koanf:"max_retries"      env:"RAGON_EMBEDDING_MAX_RETRIES"`
	RetryBaseDelay time.Duration   `koanf:"retry_base_delay" env:"RAGON_EMBEDDING_RETRY_DELAY" validate:"min=0"`
}

type RetrievalConfig struct {
	ConfigPath string `koanf:"config_path" env:"RAG_CONFIG_PATH"`
}

// CacheConfig enables the Redis result cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string        `koanf:"redis_url" env:"REDIS_URL"`
	Prefix   string        `koanf:"prefix"    env:"RAGON_CACHE_PREFIX"`
	TTL      time.Duration `koanf:"ttl"       env:"RAGON_CACHE_TTL" validate:"min=0"`
}

type ToolConfig struct {
	DirectExcerptChars int `koanf:"direct_excerpt_chars" env:"RAGON_DIRECT_EXCERPT_CHARS" validate:"min=1"`
	DeepExcerptChars   int `koanf:"deep_excerpt_chars"   env:"RAGON_DEEP_EXCERPT_CHARS"   validate:"min=1"`
}

type LogConfig struct {
	Level  string `koanf:"level"  env:"LOG_LEVEL"  validate:"omitempty,oneof=debug info warn error disabled"`
	JSON   bool   `koanf:"json"   env:"LOG_JSON"`
	Source bool   `koanf:"source" env:"LOG_SOURCE"`
}

type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"RAGON_METRICS_ENABLED"`
	Path    string `koanf:"path"    env:"RAGON_METRICS_PATH"    validate:"required,http_path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			SSEPath:               "/sse",
			MessagePath:           "/messages",
			MaxBodyBytes:          4 << 20,
			DispatchMode:          DispatchUnbounded,
			MaxConcurrentDispatch: 64,
		},
		Database: DatabaseConfig{
			MaxConns:    10,
			ConnTimeout: 10 * time.Second,
		},
		Embedder: EmbedderConfig{
			Model:          "text-embedding-3-small",
			CacheSize:      1024,
			MaxRetries:     3,
			RetryBaseDelay: 200 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			ConfigPath: "rag_config.json",
		},
		Cache: CacheConfig{
			Prefix: "ragon:search:",
			TTL:    10 * time.Minute,
		},
		Tool: ToolConfig{
			DirectExcerptChars: 800,
			DeepExcerptChars:   600,
		},
		Log: LogConfig{
			Level: "info",
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// SensitiveString keeps secrets out of logs and serialized config dumps.
type SensitiveString string

const redacted = "[REDACTED]"

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the raw secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
