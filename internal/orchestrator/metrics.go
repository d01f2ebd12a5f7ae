package orchestrator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type pipelineMetrics struct {
	chunks    metric.Int64Counter
	batches   metric.Int64Counter
	conflicts metric.Int64Counter
}

func newPipelineMetrics(o *Orchestrator, logger *slog.Logger) *pipelineMetrics {
	meter := otel.Meter("github.com/fitsignal/fitsignal-core/orchestrator")
	m := &pipelineMetrics{}

	var err error
	if m.chunks, err = meter.Int64Counter("fitsignal.pipeline.chunks",
		metric.WithDescription("Transcript chunks queued for evaluation")); err != nil {
		logger.Warn("failed to initialize chunk counter", slog.String("error", err.Error()))
	}
	if m.batches, err = meter.Int64Counter("fitsignal.pipeline.batches",
		metric.WithDescription("Evaluation batches applied, by source")); err != nil {
		logger.Warn("failed to initialize batch counter", slog.String("error", err.Error()))
	}
	if m.conflicts, err = meter.Int64Counter("fitsignal.pipeline.conflicts",
		metric.WithDescription("Conflict records raised")); err != nil {
		logger.Warn("failed to initialize conflict counter", slog.String("error", err.Error()))
	}

	sessions, err := meter.Int64ObservableGauge("fitsignal.pipeline.sessions",
		metric.WithDescription("Sessions with live evaluation state"))
	if err != nil {
		logger.Warn("failed to initialize session gauge", slog.String("error", err.Error()))
		return m
	}
	if _, err := meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		o.mu.Lock()
		count := int64(len(o.sessions))
		o.mu.Unlock()
		obs.ObserveInt64(sessions, count)
		return nil
	}, sessions); err != nil {
		logger.Warn("failed to register session gauge", slog.String("error", err.Error()))
	}
	return m
}

func (m *pipelineMetrics) recordChunk(ctx context.Context, source string) {
	if m.chunks != nil {
		m.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func (m *pipelineMetrics) recordBatch(ctx context.Context, source string, groups int) {
	if m.batches != nil {
		m.batches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
			attribute.Int("groups", groups)))
	}
}

func (m *pipelineMetrics) recordConflicts(ctx context.Context, n int) {
	if m.conflicts != nil && n > 0 {
		m.conflicts.Add(ctx, int64(n))
	}
}
