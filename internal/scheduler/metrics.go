package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"carbon-scribe/verification-service/internal/verification"
)

const meterName = "carbon-scribe/verification-service/scheduler"

type metrics struct {
	processed    metric.Int64Counter
	releases     metric.Int64Counter
	tickDuration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(meterName)

	processed, err := meter.Int64Counter("verification.submissions.processed",
		metric.WithDescription("Submissions that reached a verification result"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}

	releases, err := meter.Int64Counter("verification.submissions.released",
		metric.WithDescription("Submissions returned to pending or marked failed"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create release counter: %w", err)
	}

	tickDuration, err := meter.Float64Histogram("verification.tick.duration",
		metric.WithDescription("Duration of one scheduler tick"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tick histogram: %w", err)
	}

	return &metrics{processed: processed, releases: releases, tickDuration: tickDuration}, nil
}

func (m *metrics) recordProcessed(ctx context.Context, kind verification.Kind, status verification.Status) {
	m.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(status)),
	))
}

func (m *metrics) recordRelease(ctx context.Context, kind verification.Kind, status verification.Status) {
	m.releases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(status)),
	))
}

func (m *metrics) recordTick(ctx context.Context, kind verification.Kind, d time.Duration) {
	m.tickDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", string(kind))))
}
