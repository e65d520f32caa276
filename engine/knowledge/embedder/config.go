package embedder

import (
	"errors"
	"strings"
	"time"
)

const DefaultModel = "text-embedding-3-small"

// Config describes the OpenAI embedding client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	CacheSize      int
	MaxRetries     uint64
	RetryBaseDelay time.Duration
}

var (
	errMissingModel     = errors.New("embedder model is required")
	errNegativeCache    = errors.New("embedder cache size must not be negative")
	errNegativeDelay    = errors.New("embedder retry delay must not be negative")
	errMissingImplement = errors.New("embedder implementation is required")
)

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errMissingModel
	}
	if c.CacheSize < 0 {
		return errNegativeCache
	}
	if c.RetryBaseDelay < 0 {
		return errNegativeDelay
	}
	return nil
}
