package postgres

import (
	"context"
	"math"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"chartql/internal/storage"
)

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	kinds := map[string]storage.Kind{
		"region": storage.KindString,
		"amount": storage.KindNumber,
		"active": storage.KindBool,
	}
	got := buildCreateTableSQL("sales", []string{"region", "amount", "active"}, kinds)
	want := `CREATE TABLE "sales" ("region" TEXT, "amount" DOUBLE PRECISION, "active" BOOLEAN)`
	if got != want {
		t.Fatalf("buildCreateTableSQL()=%q\nwant %q", got, want)
	}
	if got := buildDropTableSQL(`a"b`); got != `DROP TABLE IF EXISTS "a""b"` {
		t.Fatalf("buildDropTableSQL()=%q", got)
	}
}

func TestFromPG_TableDriven(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		in       any
		wantKind storage.Kind
		wantStr  string
	}{
		{name: "nil", in: nil, wantKind: storage.KindNull, wantStr: "NULL"},
		{name: "int8", in: int64(42), wantKind: storage.KindNumber, wantStr: "42"},
		{name: "int4", in: int32(7), wantKind: storage.KindNumber, wantStr: "7"},
		{name: "float8", in: 2.5, wantKind: storage.KindNumber, wantStr: "2.5"},
		{name: "bool", in: true, wantKind: storage.KindBool, wantStr: "true"},
		{name: "text", in: "eu", wantKind: storage.KindString, wantStr: "eu"},
		{name: "timestamptz", in: ts, wantKind: storage.KindString, wantStr: "2026-03-01T12:00:00Z"},
		{
			name:     "numeric",
			in:       pgtype.Numeric{Int: big.NewInt(1234), Exp: -2, Valid: true},
			wantKind: storage.KindNumber,
			wantStr:  "12.34",
		},
		{name: "numeric_null", in: pgtype.Numeric{}, wantKind: storage.KindNull, wantStr: "NULL"},
		{
			name:     "uuid",
			in:       [16]byte{0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00},
			wantKind: storage.KindString,
			wantStr:  "123e4567-e89b-12d3-a456-426614174000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fromPG(tt.in)
			if got.Kind() != tt.wantKind || got.String() != tt.wantStr {
				t.Fatalf("fromPG(%v)=%s(%s), want %s(%s)", tt.in, got.Kind(), got, tt.wantKind, tt.wantStr)
			}
		})
	}
}

func TestFromPG_NumericNaNIsPoisoned(t *testing.T) {
	t.Parallel()

	got := fromPG(pgtype.Numeric{NaN: true, Valid: true})
	if !got.IsNaN() || !math.IsNaN(got.Float()) {
		t.Fatalf("fromPG(NaN numeric)=%v, want NaN number", got)
	}
}

func TestOpen_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), storage.Config{Kind: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "missing dsn") {
		t.Fatalf("Open() err=%v, want missing dsn", err)
	}
}

// TestEngine_RoundTrip runs against a live server when CHARTQL_TEST_POSTGRES_DSN is set.
func TestEngine_RoundTrip(t *testing.T) {
	dsn := os.Getenv("CHARTQL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHARTQL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	e, err := Open(ctx, storage.Config{Kind: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer e.Close()

	tbl := storage.TableSpec{
		Name:    "chartql_roundtrip",
		Columns: []storage.ColumnSpec{{Name: "k", Included: true}, {Name: "v", Included: true}},
		Rows: []storage.Row{
			{{Name: "k", Value: storage.String("a")}, {Name: "v", Value: storage.Number(1.5)}},
			{{Name: "k", Value: storage.String("b")}},
		},
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{tbl}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}
	rows, err := e.Execute(ctx, `SELECT k, v FROM chartql_roundtrip ORDER BY k`)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows)=%d, want 2", len(rows))
	}
	if v, _ := rows[1].Get("v"); !v.IsNull() {
		t.Fatalf("missing field loaded as %v, want NULL", v)
	}
	_, _ = e.Execute(ctx, `DROP TABLE chartql_roundtrip`)
}
