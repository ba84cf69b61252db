package storage

import (
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// FromDriver converts a scanned driver value into a Value.
//
// Backends must not assume a particular underlying type for cells: SQLite
// returns int64/float64/string/[]byte, pgx returns richer types, and SQL
// Server returns its own decimal encodings as []byte. This helper keeps result
// rows consistent across backends.
func FromDriver(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int64:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case *big.Float:
		if t == nil {
			return Null()
		}
		f, _ := t.Float64()
		return Number(f)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(strings.TrimSpace(fmt.Sprint(v)))
	}
}

// NumericText converts decimal text columns (NUMERIC/DECIMAL/MONEY) to Number.
// Non-numeric text is kept as String.
func NumericText(v Value) Value {
	if v.Kind() != KindString {
		return v
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
	if err != nil {
		return v
	}
	return Number(f)
}

// IntBool converts the integer cells of a boolean-declared column to Bool.
// Engines without a native boolean type (SQLite) store BOOLEAN as 0/1.
func IntBool(v Value) Value {
	if v.Kind() != KindNumber {
		return v
	}
	return Bool(v.Float() != 0)
}

// ColumnConverter picks a per-column conversion from the column's upper-cased
// database type name. It returns nil to keep FromDriver's value as is.
type ColumnConverter func(dbType string) func(Value) Value

// ScanRows drains a database/sql result set into Rows.
//
// convert is consulted once per column before the first row (e.g. SQL Server
// maps "DECIMAL" to NumericText, SQLite maps "BOOLEAN" to IntBool); it may be
// nil.
func ScanRows(rows *sql.Rows, convert ColumnConverter) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	conv := make([]func(Value) Value, len(cols))
	if convert != nil {
		for i, ct := range types {
			conv[i] = convert(strings.ToUpper(ct.DatabaseTypeName()))
		}
	}

	var out []Row
	raw := make([]any, len(cols))
	scan := make([]any, len(cols))
	for i := range raw {
		scan[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			v := FromDriver(raw[i])
			if conv[i] != nil {
				v = conv[i](v)
			}
			r[i] = Field{Name: c, Value: v}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
