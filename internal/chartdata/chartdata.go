// Package chartdata bounds a healed result set for rendering.
//
// Limit is type-aware: categorical charts keep their largest categories,
// series charts are stride-sampled so temporal order and coverage survive.
// Every function here is pure and never mutates its input rows.
package chartdata

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"chartql/internal/storage"
)

const (
	// MaxCategories caps bar, pie, radar and composed charts.
	MaxCategories = 12
	// MaxSeriesPoints caps line and area charts.
	MaxSeriesPoints = 24
	// DefaultRawRowLimit is the caller-side cap applied before Limit.
	DefaultRawRowLimit = 100
)

// ChartType names a visualization.
type ChartType string

const (
	Bar      ChartType = "bar"
	Line     ChartType = "line"
	Pie      ChartType = "pie"
	Area     ChartType = "area"
	Radar    ChartType = "radar"
	Scatter  ChartType = "scatter"
	Composed ChartType = "composed"
	KPI      ChartType = "kpi"
	Gauge    ChartType = "gauge"
	Heatmap  ChartType = "heatmap"
	Geo      ChartType = "geo"
)

var knownTypes = map[ChartType]struct{}{
	Bar: {}, Line: {}, Pie: {}, Area: {}, Radar: {}, Scatter: {},
	Composed: {}, KPI: {}, Gauge: {}, Heatmap: {}, Geo: {},
}

// Valid reports whether t is one of the known chart types.
func (t ChartType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Categorical reports whether t is capped by MaxCategories.
func (t ChartType) Categorical() bool {
	switch t {
	case Bar, Pie, Radar, Composed:
		return true
	}
	return false
}

// Series reports whether t is downsampled to MaxSeriesPoints.
func (t ChartType) Series() bool {
	return t == Line || t == Area
}

// ChartIntent describes how a result set will be visualized.
type ChartIntent struct {
	Type           ChartType `json:"type" yaml:"type" mapstructure:"type"`
	XAxis          string    `json:"xAxis" yaml:"x_axis" mapstructure:"x_axis"`
	YAxis          string    `json:"yAxis" yaml:"y_axis" mapstructure:"y_axis"`
	YAxisSecondary string    `json:"yAxisSecondary,omitempty" yaml:"y_axis_secondary,omitempty" mapstructure:"y_axis_secondary"`
}

// Limit returns a bounded copy of rows shaped for intent.
//
// When to use:
//   - After a query succeeded, before handing rows to a chart.
//
// Rules:
//   - Empty rows or a nil intent: rows are returned as-is (copied).
//   - Categorical types with more than MaxCategories rows: stable sort by the
//     numeric YAxis value descending, keep the first MaxCategories.
//   - Series types with more than MaxSeriesPoints rows: every Nth row from
//     index 0, N = ceil(len/MaxSeriesPoints).
//   - Any other type: unchanged.
//
// Edge cases:
//   - A missing or non-numeric YAxis value sorts as 0.
//   - Unknown chart types fall into "any other type".
//
// Limit never fails and never mutates rows or the Row values inside it. The
// returned slice is always freshly allocated; rows in it share backing
// storage with the input and must be treated as read-only.
func Limit(rows []storage.Row, intent *ChartIntent) []storage.Row {
	if len(rows) == 0 || intent == nil {
		return copyRows(rows)
	}

	switch {
	case intent.Type.Categorical() && len(rows) > MaxCategories:
		return topByValue(rows, intent.YAxis, MaxCategories)
	case intent.Type.Series() && len(rows) > MaxSeriesPoints:
		return stride(rows, MaxSeriesPoints)
	default:
		return copyRows(rows)
	}
}

// Truncate returns a copy of the first n rows. n <= 0 means no cap.
func Truncate(rows []storage.Row, n int) []storage.Row {
	if n <= 0 || len(rows) <= n {
		return copyRows(rows)
	}
	return copyRows(rows[:n])
}

func copyRows(rows []storage.Row) []storage.Row {
	if rows == nil {
		return nil
	}
	out := make([]storage.Row, len(rows))
	copy(out, rows)
	return out
}

func topByValue(rows []storage.Row, column string, n int) []storage.Row {
	type keyed struct {
		row storage.Row
		v   float64
	}
	ks := make([]keyed, len(rows))
	for i, r := range rows {
		v, _ := r.Get(column)
		ks[i] = keyed{row: r, v: NumericValue(v)}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].v > ks[j].v })

	out := make([]storage.Row, n)
	for i := range out {
		out[i] = ks[i].row
	}
	return out
}

func stride(rows []storage.Row, limit int) []storage.Row {
	step := (len(rows) + limit - 1) / limit
	out := make([]storage.Row, 0, (len(rows)+step-1)/step)
	for i := 0; i < len(rows); i += step {
		out = append(out, rows[i])
	}
	return out
}

// NumericValue coerces a cell to the number used for ranking.
// Null, NaN and unparseable strings rank as 0; Bool ranks as 1 or 0.
func NumericValue(v storage.Value) float64 {
	switch v.Kind() {
	case storage.KindNumber:
		if math.IsNaN(v.Float()) {
			return 0
		}
		return v.Float()
	case storage.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return f
	case storage.KindBool:
		if v.Bool() {
			return 1
		}
		return 0
	default:
		return 0
	}
}
