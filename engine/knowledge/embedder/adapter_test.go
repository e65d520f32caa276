package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
)

func newFakeEmbedder(t *testing.T, fn embeddings.EmbedderClientFunc) embeddings.Embedder {
	t.Helper()
	impl, err := embeddings.NewEmbedder(fn, embeddings.WithStripNewLines(true))
	require.NoError(t, err)
	return impl
}

func testEmbedderConfig() *Config {
	return &Config{
		Model:          DefaultModel,
		CacheSize:      8,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestAdapter_EmbedQuery(t *testing.T) {
	t.Run("Should strip newlines before calling the provider", func(t *testing.T) {
		var seen []string
		impl := newFakeEmbedder(t, func(_ context.Context, texts []string) ([][]float32, error) {
			seen = append(seen, texts...)
			return [][]float32{{0.1, 0.2}}, nil
		})
		adapter, err := Wrap(testEmbedderConfig(), impl)
		require.NoError(t, err)

		vector, err := adapter.EmbedQuery(t.Context(), "line one\nline two")

		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vector)
		assert.Equal(t, []string{"line one line two"}, seen)
	})

	t.Run("Should serve repeated queries from the cache", func(t *testing.T) {
		var calls atomic.Int32
		impl := newFakeEmbedder(t, func(context.Context, []string) ([][]float32, error) {
			calls.Add(1)
			return [][]float32{{1, 2, 3}}, nil
		})
		adapter, err := Wrap(testEmbedderConfig(), impl)
		require.NoError(t, err)

		first, err := adapter.EmbedQuery(t.Context(), "budget")
		require.NoError(t, err)
		first[0] = 99
		second, err := adapter.EmbedQuery(t.Context(), "budget")
		require.NoError(t, err)

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, []float32{1, 2, 3}, second)
	})

	t.Run("Should call the provider every time when caching is off", func(t *testing.T) {
		var calls atomic.Int32
		impl := newFakeEmbedder(t, func(context.Context, []string) ([][]float32, error) {
			calls.Add(1)
			return [][]float32{{1}}, nil
		})
		cfg := testEmbedderConfig()
		cfg.CacheSize = 0
		adapter, err := Wrap(cfg, impl)
		require.NoError(t, err)

		for range 3 {
			_, err := adapter.EmbedQuery(t.Context(), "budget")
			require.NoError(t, err)
		}

		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should retry transient failures", func(t *testing.T) {
		var calls atomic.Int32
		impl := newFakeEmbedder(t, func(context.Context, []string) ([][]float32, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("API returned unexpected status code: 503")
			}
			return [][]float32{{0.5}}, nil
		})
		adapter, err := Wrap(testEmbedderConfig(), impl)
		require.NoError(t, err)

		vector, err := adapter.EmbedQuery(t.Context(), "authority limits")

		require.NoError(t, err)
		assert.Equal(t, []float32{0.5}, vector)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should give up after the configured retries", func(t *testing.T) {
		var calls atomic.Int32
		impl := newFakeEmbedder(t, func(context.Context, []string) ([][]float32, error) {
			calls.Add(1)
			return nil, errors.New("rate limit reached")
		})
		adapter, err := Wrap(testEmbedderConfig(), impl)
		require.NoError(t, err)

		_, err = adapter.EmbedQuery(t.Context(), "authority limits")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limit reached")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should not retry authentication failures", func(t *testing.T) {
		var calls atomic.Int32
		impl := newFakeEmbedder(t, func(context.Context, []string) ([][]float32, error) {
			calls.Add(1)
			return nil, errors.New("API returned unexpected status code: 401: invalid api key")
		})
		adapter, err := Wrap(testEmbedderConfig(), impl)
		require.NoError(t, err)

		_, err = adapter.EmbedQuery(t.Context(), "authority limits")

		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Should reject an empty vector", func(t *testing.T) {
		impl := newFakeEmbedder(t, func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{}}, nil
		})
		adapter, err := Wrap(testEmbedderConfig(), impl)
		require.NoError(t, err)

		_, err = adapter.EmbedQuery(t.Context(), "anything")

		assert.ErrorContains(t, err, "empty vector")
	})
}

func TestWrap(t *testing.T) {
	t.Run("Should require an implementation", func(t *testing.T) {
		_, err := Wrap(testEmbedderConfig(), nil)
		assert.ErrorIs(t, err, errMissingImplement)
	})

	t.Run("Should require a model", func(t *testing.T) {
		cfg := testEmbedderConfig()
		cfg.Model = " "
		_, err := Wrap(cfg, newFakeEmbedder(t, nil))
		assert.ErrorIs(t, err, errMissingModel)
	})
}

func TestNew(t *testing.T) {
	t.Run("Should build an OpenAI embedder with an explicit token", func(t *testing.T) {
		cfg := testEmbedderConfig()
		cfg.APIKey = "sk-test"
		cfg.BaseURL = "http://127.0.0.1:1/v1"

		adapter, err := New(cfg)

		require.NoError(t, err)
		assert.Equal(t, DefaultModel, adapter.Model())
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("Should classify provider errors by their status code", func(t *testing.T) {
		cases := []struct {
			err       string
			retryable bool
		}{
			{"API returned unexpected status code: 400: invalid input", false},
			{"API returned unexpected status code: 401: invalid api key", false},
			{"API returned unexpected status code: 404", false},
			{"API returned unexpected status code: 408", true},
			{"API returned unexpected status code: 429: rate limit reached", true},
			{"API returned unexpected status code: 503", true},
			{"send request: dial tcp: request 4000ms timed out", true},
			{"decode response: invalid character in request id req_400abc", true},
		}
		for _, tc := range cases {
			assert.Equal(t, tc.retryable, isRetryable(t.Context(), errors.New(tc.err)), tc.err)
		}
	})

	t.Run("Should stop once the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		assert.False(t, isRetryable(ctx, errors.New("API returned unexpected status code: 503")))
	})

	t.Run("Should retry deadline errors from a live context", func(t *testing.T) {
		assert.True(t, isRetryable(t.Context(), context.DeadlineExceeded))
	})
}
