package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ragon/ragon/engine/knowledge"
	"github.com/ragon/ragon/pkg/logger"
)

const defaultRetryDelay = 200 * time.Millisecond

// Adapter embeds query text with a langchaingo embedder, caching vectors
// and retrying transient provider failures.
type Adapter struct {
	model      string
	impl       embeddings.Embedder
	cache      *lru.Cache[string, []float32]
	maxRetries uint64
	baseDelay  time.Duration
	metrics    *knowledge.Metrics
}

type Option func(*Adapter)

func WithMetrics(m *knowledge.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// New builds an OpenAI-backed adapter. Newlines are replaced with spaces
// before embedding.
func New(cfg *Config, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clientOpts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to construct openai embedder: %w", err)
	}
	return Wrap(cfg, impl, opts...)
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, errMissingImplement
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		model:      cfg.Model,
		impl:       impl,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
	}
	if a.baseDelay == 0 {
		a.baseDelay = defaultRetryDelay
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to init embedding cache: %w", err)
		}
		a.cache = cache
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Model() string {
	return a.model
}

// EmbedQuery returns the embedding of text. Returned slices are copies and
// may be modified by the caller.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if a.cache != nil {
		if vector, ok := a.cache.Get(key); ok {
			a.metrics.RecordEmbeddingCache(ctx, true)
			return cloneVector(vector), nil
		}
		a.metrics.RecordEmbeddingCache(ctx, false)
	}
	backoff := retry.WithMaxRetries(a.maxRetries, retry.NewExponential(a.baseDelay))
	attempt := 0
	vector, err := retry.DoValue(ctx, backoff, func(ctx context.Context) ([]float32, error) {
		attempt++
		v, err := a.impl.EmbedQuery(ctx, text)
		if err == nil {
			return v, nil
		}
		if isRetryable(ctx, err) {
			logger.FromContext(ctx).Debug("Embedding attempt failed, retrying",
				"model", a.model, "attempt", attempt, "error", err)
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("embedder %q: %w", a.model, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedder %q: provider returned an empty vector", a.model)
	}
	if a.cache != nil {
		a.cache.Add(key, cloneVector(vector))
	}
	return vector, nil
}

// statusCodePattern matches the status langchaingo's OpenAI client puts in
// its error text, e.g. "API returned unexpected status code: 429".
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})\b`)

// isRetryable reports whether a provider error is worth another attempt.
// Client errors are permanent except 408 and 429; errors without a status
// code are treated as transport failures and retried.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	match := statusCodePattern.FindStringSubmatch(err.Error())
	if match == nil {
		return true
	}
	code, convErr := strconv.Atoi(match[1])
	if convErr != nil {
		return true
	}
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
