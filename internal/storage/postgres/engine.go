package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"chartql/internal/identifier"
	"chartql/internal/storage"
)

/*
Engine implements storage.Engine for a remote Postgres database.

It provides:
  - Create-or-replace table registration (DROP + CREATE + COPY) in one transaction
  - Query execution with pgx-native value decoding

Registered tables live in the connection's search_path (normally "public").
*/
type Engine struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", Open)
}

// Open creates a pooled Postgres engine and verifies connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Engine, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: missing dsn")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Engine{pool: pool}, nil
}

func (e *Engine) Kind() string { return "postgres" }

// Close closes the connection pool.
func (e *Engine) Close() error {
	e.pool.Close()
	return nil
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
			if _, err := e.pool.Exec(ctx, buildDropTableSQL(t.Name)); err != nil {
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

func (e *Engine) registerTable(ctx context.Context, t storage.TableSpec, cols []string) error {
	kinds := storage.ColumnKinds(t)

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, buildDropTableSQL(t.Name)); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if _, err := tx.Exec(ctx, buildCreateTableSQL(t.Name, cols, kinds)); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = storage.RowValues(r, cols, kinds)
	}
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{t.Name}, cols, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		if n != int64(len(rows)) {
			return fmt.Errorf("copy: loaded %d of %d rows", n, len(rows))
		}
	}

	return tx.Commit(ctx)
}

// Execute runs q and decodes every cell with fromPG.
func (e *Engine) Execute(ctx context.Context, q string) ([]storage.Row, error) {
	rows, err := e.pool.Query(ctx, q)
	if err != nil {
		return nil, &storage.QueryError{SQL: q, Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []storage.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, &storage.QueryError{SQL: q, Err: err}
		}
		r := make(storage.Row, len(fields))
		for i, f := range fields {
			r[i] = storage.Field{Name: f.Name, Value: fromPG(vals[i])}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.QueryError{SQL: q, Err: err}
	}
	return out, nil
}

// fromPG handles the pgx-specific decodings before falling back to
// storage.FromDriver. NUMERIC arrives as pgtype.Numeric and UUID as [16]byte.
func fromPG(v any) storage.Value {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return storage.Null()
		}
		return storage.Number(f.Float64)
	case [16]byte:
		return storage.String(uuid.UUID(t).String())
	default:
		return storage.FromDriver(v)
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func pgType(k storage.Kind) string {
	switch k {
	case storage.KindNumber:
		return "DOUBLE PRECISION"
	case storage.KindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func buildDropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + pgIdent(table)
}

func buildCreateTableSQL(table string, cols []string, kinds map[string]storage.Kind) string {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, pgIdent(c)+" "+pgType(kinds[c]))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", pgIdent(table), strings.Join(defs, ", "))
}
