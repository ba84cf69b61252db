// Package parser holds the pieces shared by the ingestion parsers
// (parser/csv, parser/json, parser/html): column type inference over raw
// text cells and assembly of a storage.TableSpec with sanitized, unique
// identifiers.
//
// Inference is column-wise and best-effort: it never fails. A column is a
// Number column when every non-empty cell parses as a float, a Bool column
// when every non-empty cell is a loose boolean (true/false/yes/no), and a
// String column otherwise. Empty cells are Null regardless of the column type.
package parser

import (
	"math"
	"strconv"
	"strings"

	"chartql/internal/identifier"
	"chartql/internal/storage"
)

// ErrorFunc receives recoverable per-record problems (line is 1-based).
// When a parser is given a nil ErrorFunc it fails on the first problem instead.
type ErrorFunc func(line int, err error)

// InferKinds infers one kind per column of records.
func InferKinds(ncols int, records [][]string) []storage.Kind {
	out := make([]storage.Kind, ncols)
	for col := 0; col < ncols; col++ {
		var seen bool
		allNum := true
		allBool := true

		for _, r := range records {
			if col >= len(r) {
				continue
			}
			v := strings.TrimSpace(r[col])
			if v == "" {
				continue
			}
			seen = true
			if allNum {
				if _, ok := parseNumber(v); !ok {
					allNum = false
				}
			}
			if allBool {
				if _, ok := parseBoolLoose(v); !ok {
					allBool = false
				}
			}
			if !allNum && !allBool {
				break
			}
		}

		switch {
		case !seen:
			out[col] = storage.KindString
		case allNum:
			out[col] = storage.KindNumber
		case allBool:
			out[col] = storage.KindBool
		default:
			out[col] = storage.KindString
		}
	}
	return out
}

// Cell converts one raw cell to a Value of kind k. Empty (after trimming)
// cells are Null. A cell that does not fit k falls back to String.
func Cell(raw string, k storage.Kind) storage.Value {
	v := strings.TrimSpace(raw)
	if v == "" {
		return storage.Null()
	}
	switch k {
	case storage.KindNumber:
		if n, ok := parseNumber(v); ok {
			return storage.Number(n)
		}
	case storage.KindBool:
		if b, ok := parseBoolLoose(v); ok {
			return storage.Bool(b)
		}
	}
	return storage.String(v)
}

// BuildTable assembles a TableSpec from a header row and text records.
//
// The table name is sanitized; headers go through identifier.EnsureUnique so
// duplicates and empty headers still produce distinct columns. Every column is
// Included. Records shorter than the header are padded with Null; extra
// fields are dropped.
func BuildTable(name string, headers []string, records [][]string) storage.TableSpec {
	cols := identifier.EnsureUnique(headers)
	kinds := InferKinds(len(cols), records)

	t := storage.TableSpec{
		Name:    identifier.Sanitize(name),
		Columns: make([]storage.ColumnSpec, len(cols)),
		Rows:    make([]storage.Row, 0, len(records)),
	}
	for i, c := range cols {
		t.Columns[i] = storage.ColumnSpec{Name: c, Included: true}
	}

	for _, rec := range records {
		row := make(storage.Row, len(cols))
		for i, c := range cols {
			v := storage.Null()
			if i < len(rec) {
				v = Cell(rec[i], kinds[i])
			}
			row[i] = storage.Field{Name: c, Value: v}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// BuildTableFromValues is BuildTable for sources that already carry typed
// values (JSON). Missing entries in a record are Null.
func BuildTableFromValues(name string, headers []string, records []map[string]storage.Value) storage.TableSpec {
	cols := identifier.EnsureUnique(headers)

	t := storage.TableSpec{
		Name:    identifier.Sanitize(name),
		Columns: make([]storage.ColumnSpec, len(cols)),
		Rows:    make([]storage.Row, 0, len(records)),
	}
	for i, c := range cols {
		t.Columns[i] = storage.ColumnSpec{Name: c, Included: true}
	}

	for _, rec := range records {
		row := make(storage.Row, len(cols))
		for i, c := range cols {
			row[i] = storage.Field{Name: c, Value: rec[headers[i]]}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// parseBoolLoose accepts words only; "1"/"0" are numbers.
func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	default:
		return false, false
	}
}
