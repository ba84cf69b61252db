package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chartql/internal/identifier"
	"chartql/internal/storage"
)

const (
	// SQL Server caps a statement at 2100 parameters and a VALUES list at 1000 rows.
	maxParams    = 2000
	maxValueRows = 1000
)

// Engine implements storage.Engine for Microsoft SQL Server.
//
// Registration replaces each table inside one transaction:
//   - drop the table if OBJECT_ID finds it
//   - CREATE TABLE with FLOAT / BIT / NVARCHAR(MAX) columns
//   - batched INSERT ... VALUES with @pN placeholders
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The application
//     must register the "sqlserver" driver elsewhere (internal/storage/all does).
type Engine struct {
	db dbConn
}

func init() {
	storage.Register("mssql", Open)
}

// Open constructs an Engine using database/sql and the "sqlserver" driver.
//
// The caller must ensure a SQL Server driver is registered with database/sql
// under the name "sqlserver". This method validates connectivity via PingContext.
func Open(ctx context.Context, cfg storage.Config) (storage.Engine, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("mssql: missing dsn")
	}
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Engine{db: &sqlDB{db: raw}}, nil
}

func (e *Engine) Kind() string { return "mssql" }

// Close releases database resources held by this engine.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// RegisterTables replaces each table with at least one included column and
// drops any existing table whose spec includes none.
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
		batch := make([][]any, 0, end-start)
		for _, r := range t.Rows[start:end] {
			batch = append(batch, storage.RowValues(r, cols, kinds))
		}
		q, args := buildBulkInsertSQL(t.Name, cols, batch)
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
	}

	return tx.Commit()
}

// Execute runs q. DECIMAL, NUMERIC and MONEY columns arrive from the driver as
// text and are converted back to numbers.
func (e *Engine) Execute(ctx context.Context, q string) ([]storage.Row, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &storage.QueryError{SQL: q, Err: err}
	}
	defer rows.Close()

	out, err := storage.ScanRows(rows, decimalColumn)
	if err != nil {
		return nil, &storage.QueryError{SQL: q, Err: err}
	}
	return out, nil
}

// decimalColumn reads the driver's decimal text encodings as numbers.
func decimalColumn(dbType string) func(storage.Value) storage.Value {
	switch dbType {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return storage.NumericText
	}
	return nil
}

// mssqlIdent quotes an identifier with brackets, escaping "]".
func mssqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func mssqlType(k storage.Kind) string {
	switch k {
	case storage.KindNumber:
		return "FLOAT"
	case storage.KindBool:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func buildDropTableSQL(table string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		strings.ReplaceAll(table, "'", "''"),
		mssqlIdent(table),
	)
}

func buildCreateTableSQL(table string, cols []string, kinds map[string]storage.Kind) string {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, mssqlIdent(c)+" "+mssqlType(kinds[c])+" NULL")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s);", mssqlIdent(table), strings.Join(defs, ", "))
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

func batchRows(nCols int) int {
	if nCols <= 0 {
		return 1
	}
	n := maxParams / nCols
	if n > maxValueRows {
		n = maxValueRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the subset of *sql.Tx used during registration.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
