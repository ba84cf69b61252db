// Package selfheal executes LLM-generated SQL and repairs it when the result
// is poisoned.
//
// A result is poisoned when it is empty or any cell is NULL or NaN. The
// controller then rewrites the statement with ApplyNullSafetyGuards and tries
// again, up to a retry budget. Attempts are strictly sequential.
package selfheal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chartql/internal/metrics"
	"chartql/internal/storage"
)

// DefaultMaxRetries bounds a query to three executions in total.
const DefaultMaxRetries = 2

// ErrPoisonedResult is the recorded failure when an attempt returned no rows
// or a NULL/NaN cell.
var ErrPoisonedResult = errors.New("NaN or null detected")

// Executor runs one SQL statement. storage.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, sql string) ([]storage.Row, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sql string) ([]storage.Row, error)

func (f ExecutorFunc) Execute(ctx context.Context, sql string) ([]storage.Row, error) {
	return f(ctx, sql)
}

// ExhaustedError is the only failure Run surfaces. Error() is exactly the last
// recorded failure description: the executor's message, or the poisoned
// result marker.
type ExhaustedError struct {
	LastError string
	Attempts  int
	LastSQL   string

	cause error
}

func (e *ExhaustedError) Error() string { return e.LastError }

func (e *ExhaustedError) Unwrap() error { return e.cause }

// Healer is the configurable form of Run. The zero value makes a single
// attempt with no logging; use New for the default budget.
type Healer struct {
	MaxRetries int
	Logger     *zap.Logger
}

// New returns a Healer with DefaultMaxRetries and a no-op logger.
func New() *Healer {
	return &Healer{MaxRetries: DefaultMaxRetries, Logger: zap.NewNop()}
}

// Run executes sql with exec, rewriting and retrying poisoned results.
//
// maxRetries < 0 is treated as 0 (a single attempt).
func Run(ctx context.Context, exec Executor, sql string, maxRetries int) ([]storage.Row, error) {
	h := Healer{MaxRetries: maxRetries}
	return h.Run(ctx, exec, sql)
}

// Run executes sql with exec under h's retry budget.
//
// Flow:
//   - Attempting(n): execute the current SQL.
//   - Clean, non-empty result: Succeeded(rows), returned immediately.
//   - Executor error or poisoned result: record it, rewrite the SQL with
//     ApplyNullSafetyGuards and move to Attempting(n+1) while n+1 <= MaxRetries.
//   - Otherwise Exhausted: return *ExhaustedError with the last failure.
//
// ctx is forwarded to the executor; the loop does not check it between
// attempts, so cancellation shows up as executor errors.
func (h *Healer) Run(ctx context.Context, exec Executor, sql string) ([]storage.Row, error) {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	budget := h.MaxRetries
	if budget < 0 {
		budget = 0
	}

	start := time.Now()
	s := state{phase: attempting, sql: sql}
	for s.phase == attempting {
		s = s.step(ctx, exec, budget, log)
	}

	status := "succeeded"
	if s.phase == exhausted {
		status = "exhausted"
	}
	labels := metrics.Labels{"status": status}
	metrics.IncCounter("chartql_selfheal_total", 1, labels)
	metrics.ObserveHistogram("chartql_selfheal_duration_seconds", time.Since(start).Seconds(), labels)

	if s.phase == succeeded {
		return s.rows, nil
	}
	log.Debug("selfheal: exhausted",
		zap.Int("attempts", s.attempt),
		zap.String("last_error", s.lastErr.Error()),
	)
	return nil, &ExhaustedError{
		LastError: s.lastErr.Error(),
		Attempts:  s.attempt,
		LastSQL:   s.lastSQL,
		cause:     s.lastErr,
	}
}

type phase uint8

const (
	attempting phase = iota
	succeeded
	exhausted
)

// state is one node of the retry state machine.
type state struct {
	phase   phase
	attempt int    // executions completed so far
	sql     string // statement for the next attempt
	lastSQL string // statement of the most recent attempt
	rows    []storage.Row
	lastErr error
}

func (s state) step(ctx context.Context, exec Executor, budget int, log *zap.Logger) state {
	rows, err := exec.Execute(ctx, s.sql)

	next := state{attempt: s.attempt + 1, lastSQL: s.sql}
	switch {
	case err != nil:
		next.lastErr = err
		metrics.IncCounter("chartql_query_attempts_total", 1, metrics.Labels{"outcome": "error"})
	case len(rows) == 0 || Poisoned(rows):
		next.lastErr = ErrPoisonedResult
		metrics.IncCounter("chartql_query_attempts_total", 1, metrics.Labels{"outcome": "poisoned"})
	default:
		metrics.IncCounter("chartql_query_attempts_total", 1, metrics.Labels{"outcome": "ok"})
		next.phase = succeeded
		next.rows = rows
		return next
	}

	log.Debug("selfheal: attempt failed",
		zap.Int("attempt", next.attempt),
		zap.Error(next.lastErr),
	)

	if next.attempt > budget {
		next.phase = exhausted
		return next
	}
	next.phase = attempting
	next.sql = ApplyNullSafetyGuards(s.sql)
	return next
}

// Poisoned reports whether any cell of rows is NULL or a NaN number.
func Poisoned(rows []storage.Row) bool {
	for _, r := range rows {
		for _, f := range r {
			if f.Value.IsNull() || f.Value.IsNaN() {
				return true
			}
		}
	}
	return false
}
