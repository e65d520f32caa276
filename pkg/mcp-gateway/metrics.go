package mcpgateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway instruments. A nil *Metrics records nothing.
type Metrics struct {
	activeSessions metric.Int64UpDownCounter
	rpcRequests    metric.Int64Counter
	rpcDuration    metric.Float64Histogram
	dropped        metric.Int64Counter
}

// NewMetrics registers the gateway instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.activeSessions, err = meter.Int64UpDownCounter(
		"ragon_gateway_active_sessions",
		metric.WithDescription("Open SSE sessions"),
	); err != nil {
		return nil, err
	}
	if m.rpcRequests, err = meter.Int64Counter(
		"ragon_gateway_rpc_requests_total",
		metric.WithDescription("Dispatched JSON-RPC messages by method and outcome"),
	); err != nil {
		return nil, err
	}
	if m.rpcDuration, err = meter.Float64Histogram(
		"ragon_gateway_rpc_duration_seconds",
		metric.WithDescription("Time spent in JSON-RPC method handlers"),
		metric.WithExplicitBucketBoundaries(.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter(
		"ragon_gateway_dropped_responses_total",
		metric.WithDescription("Responses discarded because their session had closed"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Add(context.Background(), 1)
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Add(context.Background(), -1)
}

func (m *Metrics) observeRPC(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.rpcRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
	m.rpcDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) droppedResponse() {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), 1)
}
