package main

import (
	"context"

	"go.uber.org/zap"

	"chartql/internal/config"
	"chartql/internal/metrics"
	"chartql/internal/metrics/datadog"
)

// setupMetrics installs the configured metrics backend and returns the
// shutdown hook to defer. A backend that fails to start leaves the nop
// backend in place; metrics never fail a run.
func (a *app) setupMetrics(ctx context.Context, d *config.Dashboard) func() {
	switch d.Metrics.Backend {
	case "datadog":
		// Buffered; submitted every FlushEvery and once more at Close.
		tags := datadog.ParseTagsCSV(d.Metrics.Tags)
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    d.Name,
			Tags:       tags,
			FlushEvery: d.Metrics.FlushEvery,
		})
		if err != nil {
			a.log.Warn("metrics: datadog backend unavailable; using nop", zap.Error(err))
			return func() {}
		}
		a.log.Info("metrics: datadog enabled", zap.String("job", d.Name), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				a.log.Warn("metrics: datadog close/flush", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		a.log.Debug("metrics: disabled")
		return func() {}

	default:
		a.log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", d.Metrics.Backend))
		return func() {}
	}
}
