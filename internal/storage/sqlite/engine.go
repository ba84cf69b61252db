package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"chartql/internal/identifier"
	"chartql/internal/storage"
)

// maxParams keeps each INSERT below SQLite's historical bound on host
// parameters per statement (SQLITE_MAX_VARIABLE_NUMBER = 999).
const maxParams = 999

// Engine implements storage.Engine on an embedded SQLite database.
//
// Key design points:
//   - The pool is pinned to one connection. An in-memory database lives and
//     dies with its connection, so every call must reuse the same one; it
//     also serializes access, which SQLite needs anyway.
//   - Each table is registered in its own transaction (drop, create, load), so
//     a table is either fully loaded or absent.
//   - Column types come from storage.ColumnKinds: REAL, BOOLEAN or TEXT.
type Engine struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open)
}

// Open opens a SQLite engine. An empty DSN means a private ":memory:" database.
func Open(ctx context.Context, cfg storage.Config) (storage.Engine, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Kind() string { return "sqlite" }

func (e *Engine) Close() error { return e.db.Close() }

// RegisterTables creates or replaces every table with at least one included
// column; a table with none is dropped instead. It stops at the first table
// that fails; earlier tables stay loaded.
func (e *Engine) RegisterTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		cols := t.IncludedColumns()
		if len(cols) == 0 {
			// Nothing to create, but an earlier registration under this
			// name must not stay queryable.
			if !identifier.Valid(t.Name) {
				continue
			}
			if _, err := e.db.ExecContext(ctx, buildDropTableSQL(t.Name)); err != nil {
				return &storage.RegistrationError{Table: t.Name, Err: fmt.Errorf("drop: %w", err)}
			}
			continue
		}
		if err := storage.ValidateTable(t); err != nil {
			return err
		}
		if err := e.registerTable(ctx, t, cols); err != nil {
			return &storage.RegistrationError{Table: t.Name, Err: err}
		}
	}
	return nil
}

func (e *Engine) registerTable(ctx context.Context, t storage.TableSpec, cols []string) (err error) {
	kinds := storage.ColumnKinds(t)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, buildDropTableSQL(t.Name)); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if _, err = tx.ExecContext(ctx, buildCreateTableSQL(t.Name, cols, kinds)); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	per := batchRows(len(cols))
	for start := 0; start < len(t.Rows); start += per {
		end := start + per
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		args := make([]any, 0, (end-start)*len(cols))
		for _, r := range t.Rows[start:end] {
			args = append(args, storage.RowValues(r, cols, kinds)...)
		}
		if _, err = tx.ExecContext(ctx, buildInsertSQL(t.Name, cols, end-start), args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
	}

	return tx.Commit()
}

// Execute runs q and converts every cell with storage.FromDriver. Columns
// declared BOOLEAN come back as Bool; computed expressions over them (MAX(f),
// f + 0) carry no declared type and stay numeric.
func (e *Engine) Execute(ctx context.Context, q string) ([]storage.Row, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &storage.QueryError{SQL: q, Err: err}
	}
	defer rows.Close()

	out, err := storage.ScanRows(rows, boolColumn)
	if err != nil {
		return nil, &storage.QueryError{SQL: q, Err: err}
	}
	return out, nil
}

func boolColumn(dbType string) func(storage.Value) storage.Value {
	if dbType == "BOOLEAN" || dbType == "BOOL" {
		return storage.IntBool
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlType(k storage.Kind) string {
	switch k {
	case storage.KindNumber:
		return "REAL"
	case storage.KindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func buildDropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + sqlIdent(table)
}

func buildCreateTableSQL(table string, cols []string, kinds map[string]storage.Kind) string {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, sqlIdent(c)+" "+sqlType(kinds[c]))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", sqlIdent(table), strings.Join(defs, ", "))
}

func buildInsertSQL(table string, cols []string, nRows int) string {
	colList := make([]string, 0, len(cols))
	for _, c := range cols {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(cols)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < nRows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
	}
	return b.String()
}

// batchRows returns how many rows fit in one INSERT for nCols columns.
func batchRows(nCols int) int {
	if nCols <= 0 {
		return 1
	}
	n := maxParams / nCols
	if n < 1 {
		return 1
	}
	return n
}
