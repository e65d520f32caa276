package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ragon/ragon/pkg/logger"
)

// GinMiddleware records request counts, latency and in-flight requests.
// Long-lived SSE streams show up in the in-flight gauge for their lifetime.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	if !s.initialized {
		return func(c *gin.Context) { c.Next() }
	}
	total, err := s.meter.Int64Counter(
		"ragon_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		logger.GetDefault().Error("Failed to create http requests counter", "error", err)
	}
	duration, err := s.meter.Float64Histogram(
		"ragon_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10),
	)
	if err != nil {
		logger.GetDefault().Error("Failed to create http duration histogram", "error", err)
	}
	inFlight, err := s.meter.Int64UpDownCounter(
		"ragon_http_requests_in_flight",
		metric.WithDescription("Currently active HTTP requests"),
	)
	if err != nil {
		logger.GetDefault().Error("Failed to create http in-flight counter", "error", err)
	}
	if total == nil || duration == nil || inFlight == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		inFlight.Add(ctx, 1)
		defer inFlight.Add(ctx, -1)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		total.Add(ctx, 1, attrs)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
