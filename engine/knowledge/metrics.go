package knowledge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stage labels for RecordQueryError.
const (
	StageHybrid = "hybrid"
	StageLinks  = "links"
	StageDeep   = "deep"
)

// Metrics holds the retrieval instruments. A nil *Metrics records nothing.
type Metrics struct {
	searchDuration metric.Float64Histogram
	queryErrors    metric.Int64Counter
	embedCache     metric.Int64Counter
	resultCache    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.searchDuration, err = meter.Float64Histogram(
		"ragon_knowledge_search_duration_seconds",
		metric.WithDescription("Knowledge search latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.queryErrors, err = meter.Int64Counter(
		"ragon_knowledge_query_errors_total",
		metric.WithDescription("Sub-query failures that were logged and skipped"),
	); err != nil {
		return nil, err
	}
	if m.embedCache, err = meter.Int64Counter(
		"ragon_knowledge_embedding_cache_total",
		metric.WithDescription("Embedding cache lookups by result"),
	); err != nil {
		return nil, err
	}
	if m.resultCache, err = meter.Int64Counter(
		"ragon_knowledge_result_cache_total",
		metric.WithDescription("Result cache lookups by result"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordSearch(ctx context.Context, deep bool, d time.Duration) {
	if m == nil {
		return
	}
	m.searchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("deep", deep)))
}

func (m *Metrics) RecordQueryError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.queryErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordEmbeddingCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	m.embedCache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", hitLabel(hit))))
}

// RecordResultCache counts a lookup; result is "hit", "miss" or "error".
func (m *Metrics) RecordResultCache(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.resultCache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
