package monitoring

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ragon/ragon/pkg/logger"
	"github.com/ragon/ragon/pkg/version"
)

func registerBuildInfo(ctx context.Context, meter metric.Meter) {
	log := logger.FromContext(ctx)
	started := time.Now()
	info := version.Get()
	buildInfo, err := meter.Int64ObservableGauge(
		"ragon_build_info",
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		log.Error("Failed to create build info gauge", "error", err)
		return
	}
	uptime, err := meter.Float64ObservableGauge(
		"ragon_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
	)
	if err != nil {
		log.Error("Failed to create uptime gauge", "error", err)
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("version", info.Version),
		attribute.String("commit_hash", info.CommitHash),
		attribute.String("go_version", runtime.Version()),
	)
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(buildInfo, 1, attrs)
		o.ObserveFloat64(uptime, time.Since(started).Seconds())
		return nil
	}, buildInfo, uptime)
	if err != nil {
		log.Error("Failed to register system metrics callback", "error", err)
	}
}
