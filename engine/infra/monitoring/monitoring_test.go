package monitoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, s *Service) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	s.Handler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewService(t *testing.T) {
	t.Run("Should export build info when enabled", func(t *testing.T) {
		s, err := NewService(t.Context(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

		assert.True(t, s.IsInitialized())
		assert.Contains(t, scrape(t, s), "ragon_build_info")
	})

	t.Run("Should return 503 from the handler when disabled", func(t *testing.T) {
		s, err := NewService(t.Context(), &Config{Enabled: false, Path: "/metrics"})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

		assert.False(t, s.IsInitialized())
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Should reject an invalid path", func(t *testing.T) {
		_, err := NewService(t.Context(), &Config{Enabled: true, Path: "metrics"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "must start with '/'")
	})
}

func TestService_GinMiddleware(t *testing.T) {
	t.Run("Should count requests by route", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		s, err := NewService(t.Context(), nil)
		require.NoError(t, err)
		router := gin.New()
		router.Use(s.GinMiddleware())
		router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
		body := scrape(t, s)

		assert.Contains(t, body, "ragon_http_requests_total")
		assert.Contains(t, body, `path="/healthz"`)
	})
}
