package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kiranshivaraju/scoutreport/internal/cache"
)

// LogHandler writes every event as a structured log line.
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, e Event) error {
		logger.InfoContext(ctx, "report event",
			"kind", e.Kind,
			"job_id", e.JobID,
			"owner_id", e.OwnerID,
			"status", e.Status,
		)
		return nil
	}
}

// StatusCacheHandler mirrors the latest job status into the cache so
// status polling does not hit the database. A deleted job leaves a
// tombstone so a late status write cannot bring its entry back.
func StatusCacheHandler(c cache.Cache, ttl time.Duration) Handler {
	return func(ctx context.Context, e Event) error {
		if e.Kind == KindJobDeleted {
			return c.SetReportStatus(ctx, e.JobID, cache.StatusEntry{
				OwnerID:   e.OwnerID,
				UpdatedAt: e.OccurredAt,
				Deleted:   true,
			}, min(ttl, cache.TombstoneTTL))
		}
		if e.Status == "" {
			return nil
		}
		return c.SetReportStatus(ctx, e.JobID, cache.StatusEntry{
			Status:    e.Status,
			OwnerID:   e.OwnerID,
			UpdatedAt: e.OccurredAt,
		}, ttl)
	}
}

// MetricsHandler counts events by kind and status.
func MetricsHandler(meter metric.Meter) (Handler, error) {
	counter, err := meter.Int64Counter("scoutreport.report.events",
		metric.WithDescription("Report lifecycle events by kind and status"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create event counter: %w", err)
	}
	return func(ctx context.Context, e Event) error {
		counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(e.Kind)),
			attribute.String("status", string(e.Status)),
		))
		return nil
	}, nil
}
