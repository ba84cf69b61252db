package storage

import (
	"fmt"

	"chartql/internal/identifier"
)

// TableSpec describes one in-memory table handed to Engine.RegisterTables.
//
// Name and every column Name must already be identifiers (see package
// identifier). Rows may be sparse; a column missing from a row loads as NULL,
// and fields naming columns that are not in Columns (or not Included) are
// ignored.
type TableSpec struct {
	Name    string       `json:"name" yaml:"name"`
	Columns []ColumnSpec `json:"columns" yaml:"columns"`
	Rows    []Row        `json:"-" yaml:"-"`
}

// ColumnSpec is one column of a TableSpec. Only Included columns are registered.
type ColumnSpec struct {
	Name     string `json:"name" yaml:"name"`
	Included bool   `json:"included" yaml:"included"`
}

// IncludedColumns returns the names of the included columns, in order.
func (t TableSpec) IncludedColumns() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Included {
			out = append(out, c.Name)
		}
	}
	return out
}

// RenameColumn gives column idx a new identifier derived from raw.
//
// The new name is sanitized, checked against every sibling column and then
// migrated: each row's field under the old name is re-keyed in place.
//
// Errors:
//   - idx out of range.
//   - ErrColumnExists if the sanitized name belongs to another column.
func (t *TableSpec) RenameColumn(idx int, raw string) (string, error) {
	if idx < 0 || idx >= len(t.Columns) {
		return "", fmt.Errorf("storage: rename column: index %d out of range (table %s has %d columns)", idx, t.Name, len(t.Columns))
	}

	next := identifier.Sanitize(raw)
	prev := t.Columns[idx].Name
	if next == prev {
		return next, nil
	}
	for i, c := range t.Columns {
		if i != idx && c.Name == next {
			return "", fmt.Errorf("storage: rename %s.%s to %q: %w", t.Name, prev, next, ErrColumnExists)
		}
	}

	t.Columns[idx].Name = next
	for _, r := range t.Rows {
		for j := range r {
			if r[j].Name == prev {
				r[j].Name = next
			}
		}
	}
	return next, nil
}

// ColumnKinds infers one storage kind per included column from the row data.
//
// A column whose non-null values are all Numbers is KindNumber, all Bools is
// KindBool; anything else (mixed, strings, or no non-null values) is
// KindString. Backends translate kinds into their own DDL types.
func ColumnKinds(t TableSpec) map[string]Kind {
	cols := t.IncludedColumns()
	seen := make(map[string]Kind, len(cols))
	mixed := make(map[string]bool, len(cols))
	for _, r := range t.Rows {
		for _, f := range r {
			if f.Value.IsNull() {
				continue
			}
			k, ok := seen[f.Name]
			if !ok {
				seen[f.Name] = f.Value.Kind()
				continue
			}
			if k != f.Value.Kind() {
				mixed[f.Name] = true
			}
		}
	}

	out := make(map[string]Kind, len(cols))
	for _, c := range cols {
		k, ok := seen[c]
		if !ok || mixed[c] {
			out[c] = KindString
			continue
		}
		out[c] = k
	}
	return out
}

// ValidateTable checks the identifier and value invariants RegisterTables
// relies on. It returns a *RegistrationError describing the first problem.
func ValidateTable(t TableSpec) error {
	if !identifier.Valid(t.Name) {
		return &RegistrationError{Table: t.Name, Err: fmt.Errorf("invalid table identifier %q", t.Name)}
	}
	names := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if !identifier.Valid(c.Name) {
			return &RegistrationError{Table: t.Name, Err: fmt.Errorf("invalid column identifier %q", c.Name)}
		}
		if _, dup := names[c.Name]; dup {
			return &RegistrationError{Table: t.Name, Err: fmt.Errorf("column %q: %w", c.Name, ErrColumnExists)}
		}
		names[c.Name] = struct{}{}
	}
	for i, r := range t.Rows {
		for _, f := range r {
			if f.Value.Kind() > KindString {
				return &RegistrationError{Table: t.Name, Err: fmt.Errorf("row %d column %q: %w", i+1, f.Name, ErrUnknownKind)}
			}
		}
	}
	return nil
}

// RowValues projects r onto columns as driver arguments.
//
// Missing fields and NaN numbers become nil. When kinds marks a column as
// KindString, non-string values are rendered with Value.String so a mixed
// column loads as consistent text.
func RowValues(r Row, columns []string, kinds map[string]Kind) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		v, _ := r.Get(c)
		if kinds[c] == KindString && !v.IsNull() && v.Kind() != KindString && !v.IsNaN() {
			out[i] = v.String()
			continue
		}
		out[i] = v.Any()
	}
	return out
}
