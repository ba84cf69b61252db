// Package dashboard runs a configured dashboard end to end: ingest sources,
// register them in an engine, then heal and shape every widget's result.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chartql/internal/chartdata"
	"chartql/internal/config"
	"chartql/internal/logging"
	"chartql/internal/metrics"
	"chartql/internal/selfheal"
	"chartql/internal/storage"
)

// Result is the outcome of one dashboard run.
type Result struct {
	RunID   string         `json:"run_id" yaml:"run_id"`
	Name    string         `json:"name" yaml:"name"`
	Tables  []TableInfo    `json:"tables" yaml:"tables"`
	Widgets []WidgetResult `json:"widgets" yaml:"widgets"`
}

// TableInfo summarizes one registered table.
type TableInfo struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Rows    int      `json:"rows" yaml:"rows"`
}

// WidgetResult is one widget's chart-ready rows, or its failure.
//
// Error holds the self-healing loop's final message verbatim; Rows is empty
// when Error is set.
type WidgetResult struct {
	ID        string                 `json:"id" yaml:"id"`
	Title     string                 `json:"title" yaml:"title"`
	Chart     *chartdata.ChartIntent `json:"chart,omitempty" yaml:"chart,omitempty"`
	Rows      []storage.Row          `json:"rows" yaml:"rows"`
	TotalRows int                    `json:"total_rows" yaml:"total_rows"`
	Error     string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts  int                    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Duration  time.Duration          `json:"duration_ns" yaml:"duration"`
}

// Failed reports whether the widget ended without rows.
func (w WidgetResult) Failed() bool { return w.Error != "" }

// Runner executes dashboards. The zero value is usable.
type Runner struct {
	Logger *zap.Logger

	// OpenEngine is the storage factory seam; nil means storage.Open.
	OpenEngine func(ctx context.Context, cfg storage.Config) (storage.Engine, error)

	// newID is the widget/run ID seam; nil means uuid.NewString.
	newID func() string
}

// NewRunner returns a Runner logging to logger.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Run executes d.
//
// Flow:
//   - LoadSources, then open the engine and RegisterTables.
//   - Widgets run concurrently (d.Runtime.Concurrency at a time). Each one
//     goes through selfheal with d.Heal.MaxRetries, is truncated to
//     d.Runtime.RawRowLimit rows and shaped with chartdata.Limit.
//   - Widget results keep the order of d.Widgets.
//
// Errors:
//   - ingestion, engine open and registration errors fail the run.
//   - a widget failure never does: it is reported in its WidgetResult.
//   - ctx cancellation fails the run after in-flight widgets return.
func (r *Runner) Run(ctx context.Context, d *config.Dashboard) (*Result, error) {
	log := logging.OrNop(r.Logger)
	runID := r.id()
	log = log.With(zap.String("run_id", runID), zap.String("dashboard", d.Name))

	tables, err := LoadSources(ctx, d.Sources)
	if err != nil {
		return nil, err
	}

	open := r.OpenEngine
	if open == nil {
		open = storage.Open
	}
	engine, err := open(ctx, d.Engine)
	if err != nil {
		return nil, fmt.Errorf("dashboard: open engine: %w", err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			log.Warn("dashboard: close engine", zap.Error(cerr))
		}
	}()

	res := &Result{RunID: runID, Name: d.Name}
	if err := engine.RegisterTables(ctx, tables); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	for _, t := range tables {
		cols := t.IncludedColumns()
		if len(cols) == 0 {
			continue
		}
		res.Tables = append(res.Tables, TableInfo{Name: t.Name, Columns: cols, Rows: len(t.Rows)})
	}
	metrics.IncCounter("chartql_tables_registered_total", float64(len(res.Tables)), metrics.Labels{"engine": engine.Kind()})
	log.Info("dashboard: tables registered", zap.Int("tables", len(res.Tables)), zap.String("engine", engine.Kind()))

	res.Widgets = make([]WidgetResult, len(d.Widgets))

	limit := d.Runtime.Concurrency
	if limit < 1 {
		limit = config.DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, w := range d.Widgets {
		g.Go(func() error {
			res.Widgets[i] = r.runWidget(ctx, engine, w, d, log)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// RunWidget heals and shapes a single widget against an already populated
// engine.
func (r *Runner) RunWidget(ctx context.Context, exec selfheal.Executor, w config.Widget, d *config.Dashboard) WidgetResult {
	return r.runWidget(ctx, exec, w, d, logging.OrNop(r.Logger))
}

func (r *Runner) runWidget(ctx context.Context, exec selfheal.Executor, w config.Widget, d *config.Dashboard, log *zap.Logger) WidgetResult {
	out := WidgetResult{ID: r.id(), Title: w.Title}
	if w.Chart.Type != "" {
		intent := w.Chart
		out.Chart = &intent
	}
	log = log.With(zap.String("widget_id", out.ID), zap.String("title", w.Title))

	if d.Runtime.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Runtime.Timeout)
		defer cancel()
	}

	start := time.Now()
	h := &selfheal.Healer{MaxRetries: d.Heal.MaxRetries, Logger: log}
	rows, err := h.Run(ctx, exec, w.SQL)
	out.Duration = time.Since(start)

	if err != nil {
		out.Error = err.Error()
		var ex *selfheal.ExhaustedError
		if errors.As(err, &ex) {
			out.Attempts = ex.Attempts
		}
		out.Rows = []storage.Row{}
		metrics.IncCounter("chartql_widgets_total", 1, metrics.Labels{"status": "failed"})
		log.Warn("dashboard: widget failed", zap.String("error", out.Error), zap.Int("attempts", out.Attempts))
		return out
	}

	rawLimit := d.Runtime.RawRowLimit
	if rawLimit < 1 {
		rawLimit = chartdata.DefaultRawRowLimit
	}
	out.TotalRows = len(rows)
	out.Rows = chartdata.Limit(chartdata.Truncate(rows, rawLimit), out.Chart)

	chart := string(w.Chart.Type)
	if chart == "" {
		chart = "none"
	}
	metrics.IncCounter("chartql_widgets_total", 1, metrics.Labels{"status": "succeeded"})
	metrics.ObserveHistogram("chartql_widget_rows", float64(len(out.Rows)), metrics.Labels{"chart": chart})
	log.Debug("dashboard: widget done",
		zap.Int("rows", len(out.Rows)),
		zap.Int("total_rows", out.TotalRows),
		zap.Duration("took", out.Duration),
	)
	return out
}

func (r *Runner) id() string {
	if r.newID != nil {
		return r.newID()
	}
	return uuid.NewString()
}
