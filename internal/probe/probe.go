// Package probe profiles ingested tables: the registered column kinds plus
// bounded per-column uniqueness statistics.
//
// A profile is what a caller shows before writing SQL against a source (or
// hands to whatever generates the SQL): which identifiers exist, how they
// will be typed by the engine, and how categorical each column looks.
package probe

import (
	"fmt"
	"sort"
	"strings"

	"chartql/internal/storage"
)

// DistinctCap bounds distinct counting per column.
const DistinctCap = 10000

// Column is the profile of one included column.
type Column struct {
	Name string       `json:"name" yaml:"name"`
	Kind storage.Kind `json:"-" yaml:"-"`
	Type string       `json:"type" yaml:"type"`

	// NonNull counts rows where the column holds a meaningful value: not Null
	// and, for strings, not whitespace-only. It is the denominator of Ratio.
	NonNull  int     `json:"non_null" yaml:"non_null"`
	Distinct int     `json:"distinct" yaml:"distinct"`
	Capped   bool    `json:"capped,omitempty" yaml:"capped,omitempty"`
	Ratio    float64 `json:"ratio" yaml:"ratio"`
}

// Table is the profile of one table.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Rows    int      `json:"rows" yaml:"rows"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Profile computes the profile of t's included columns, in column order.
//
// Kinds are the ones RegisterTables will use (storage.ColumnKinds). Distinct
// values are compared by their text rendering, so 1 and "1" in a mixed
// column count once. Once a column reaches DistinctCap distinct values its
// set is dropped and Capped is set; Distinct then reports DistinctCap.
//
// Edge cases:
//   - a column without meaningful values has NonNull 0 and Ratio 0.
//   - excluded columns are not profiled.
func Profile(t storage.TableSpec) Table {
	cols := t.IncludedColumns()
	kinds := storage.ColumnKinds(t)

	out := Table{Name: t.Name, Rows: len(t.Rows), Columns: make([]Column, len(cols))}
	sets := make([]map[string]struct{}, len(cols))
	for i, c := range cols {
		out.Columns[i] = Column{Name: c, Kind: kinds[c], Type: kinds[c].String()}
		sets[i] = make(map[string]struct{})
	}

	for _, r := range t.Rows {
		for i := range out.Columns {
			c := &out.Columns[i]
			v, _ := r.Get(c.Name)
			if v.IsNull() {
				continue
			}
			s := v.String()
			if v.Kind() == storage.KindString && strings.TrimSpace(s) == "" {
				continue
			}
			c.NonNull++

			if c.Capped {
				continue
			}
			sets[i][s] = struct{}{}
			if len(sets[i]) >= DistinctCap {
				c.Capped = true
				sets[i] = nil
			}
		}
	}

	for i := range out.Columns {
		c := &out.Columns[i]
		if c.Capped {
			c.Distinct = DistinctCap
		} else {
			c.Distinct = len(sets[i])
		}
		if c.NonNull > 0 {
			c.Ratio = float64(c.Distinct) / float64(c.NonNull)
		}
	}
	return out
}

// Categorical returns the columns that look like good chart categories:
// string or bool columns with at least one value whose uniqueness ratio is
// at most maxRatio, least unique first.
func (t Table) Categorical(maxRatio float64) []string {
	var cand []Column
	for _, c := range t.Columns {
		if c.NonNull == 0 || c.Kind == storage.KindNumber {
			continue
		}
		if c.Ratio <= maxRatio {
			cand = append(cand, c)
		}
	}
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].Ratio < cand[j].Ratio })

	out := make([]string, len(cand))
	for i, c := range cand {
		out[i] = c.Name
	}
	return out
}

// Format renders t as a tab-separated report, one line per column in table
// order.
func Format(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "table %s:\trows=%d\n", t.Name, t.Rows)
	if t.Rows == 0 {
		b.WriteString("(no rows)")
		return b.String()
	}
	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\t%-7s\tratio\tcapped\n", "col", "type", "unique", "rows")
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "%-15s\t%-7s\t%-7d\t%-7d\t%.1f%%\t%t\n", c.Name, c.Type, c.Distinct, c.NonNull, c.Ratio*100, c.Capped)
	}
	return strings.TrimRight(b.String(), "\n")
}
