package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chartql/internal/selfheal"
	"chartql/internal/storage"
)

func openTestEngine(t *testing.T) storage.Engine {
	t.Helper()
	e, err := Open(context.Background(), storage.Config{Kind: "sqlite"})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func salesTable() storage.TableSpec {
	row := func(region string, amount storage.Value) storage.Row {
		return storage.Row{
			{Name: "region", Value: storage.String(region)},
			{Name: "amount", Value: amount},
		}
	}
	return storage.TableSpec{
		Name: "sales",
		Columns: []storage.ColumnSpec{
			{Name: "region", Included: true},
			{Name: "amount", Included: true},
			{Name: "internal_note", Included: false},
		},
		Rows: []storage.Row{
			row("eu", storage.Number(10)),
			row("eu", storage.Number(5.5)),
			row("us", storage.Number(7)),
			row("apac", storage.Null()),
		},
	}
}

func TestRegisterTables_QueryableUnderIdentifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	if err := e.RegisterTables(ctx, []storage.TableSpec{salesTable()}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}

	rows, err := e.Execute(ctx, `SELECT region, SUM(amount) AS total, COUNT(*) AS n FROM sales WHERE amount IS NOT NULL GROUP BY region ORDER BY region`)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows)=%d, want 2", len(rows))
	}

	region, _ := rows[0].Get("region")
	total, _ := rows[0].Get("total")
	n, _ := rows[0].Get("n")
	if region.Str() != "eu" || total.Float() != 15.5 || n.Float() != 2 {
		t.Fatalf("row 0 = %v, want eu/15.5/2", rows[0])
	}
	if got := strings.Join(rows[0].Columns(), ","); got != "region,total,n" {
		t.Fatalf("columns=%s, want region,total,n", got)
	}
}

func TestRegisterTables_ExcludedColumnIsNotCreated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	if err := e.RegisterTables(ctx, []storage.TableSpec{salesTable()}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}
	_, err := e.Execute(ctx, `SELECT internal_note FROM sales`)
	var qe *storage.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("Execute() err=%v, want *storage.QueryError", err)
	}
}

func TestRegisterTables_ZeroIncludedColumnsIsSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	hidden := storage.TableSpec{
		Name:    "hidden",
		Columns: []storage.ColumnSpec{{Name: "a"}, {Name: "b"}},
		Rows:    []storage.Row{{{Name: "a", Value: storage.Number(1)}}},
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{hidden, salesTable()}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}

	_, err := e.Execute(ctx, `SELECT * FROM hidden`)
	if err == nil {
		t.Fatalf("Execute() on skipped table succeeded, want error")
	}
	if !strings.Contains(err.Error(), "hidden") {
		t.Fatalf("Execute() err=%q, want engine message naming the table", err)
	}
	if _, err := e.Execute(ctx, `SELECT COUNT(*) AS n FROM sales`); err != nil {
		t.Fatalf("sales should still be registered: %v", err)
	}
}

func TestRegisterTables_ReplacesExistingTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	first := salesTable()
	if err := e.RegisterTables(ctx, []storage.TableSpec{first}); err != nil {
		t.Fatalf("first RegisterTables() err=%v", err)
	}
	second := storage.TableSpec{
		Name:    "sales",
		Columns: []storage.ColumnSpec{{Name: "region", Included: true}},
		Rows:    []storage.Row{{{Name: "region", Value: storage.String("latam")}}},
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{second}); err != nil {
		t.Fatalf("second RegisterTables() err=%v", err)
	}

	rows, err := e.Execute(ctx, `SELECT region FROM sales`)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows)=%d, want 1", len(rows))
	}
	if v, _ := rows[0].Get("region"); v.Str() != "latam" {
		t.Fatalf("region=%v, want latam", v)
	}
	if _, err := e.Execute(ctx, `SELECT amount FROM sales`); err == nil {
		t.Fatalf("old column survived replacement")
	}
}

func TestRegisterTables_AllExcludedDropsEarlierRegistration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	if err := e.RegisterTables(ctx, []storage.TableSpec{salesTable()}); err != nil {
		t.Fatalf("first RegisterTables() err=%v", err)
	}
	emptied := salesTable()
	for i := range emptied.Columns {
		emptied.Columns[i].Included = false
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{emptied}); err != nil {
		t.Fatalf("second RegisterTables() err=%v", err)
	}
	if _, err := e.Execute(ctx, `SELECT * FROM sales`); err == nil {
		t.Fatalf("sales still queryable after re-registering with no included columns")
	}
}

func TestExecute_BooleanColumnsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	flags := storage.TableSpec{
		Name: "flags",
		Columns: []storage.ColumnSpec{
			{Name: "id", Included: true},
			{Name: "active", Included: true},
		},
		Rows: []storage.Row{
			{{Name: "id", Value: storage.Number(1)}, {Name: "active", Value: storage.Bool(true)}},
			{{Name: "id", Value: storage.Number(2)}, {Name: "active", Value: storage.Bool(false)}},
			{{Name: "id", Value: storage.Number(3)}, {Name: "active", Value: storage.Null()}},
		},
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{flags}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}

	rows, err := e.Execute(ctx, `SELECT id, active FROM flags ORDER BY id`)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows)=%d, want 3", len(rows))
	}
	for i, want := range []bool{true, false} {
		v, _ := rows[i].Get("active")
		if v.Kind() != storage.KindBool || v.Bool() != want {
			t.Fatalf("row %d active=%s(%v), want bool(%t)", i, v.Kind(), v, want)
		}
	}
	if v, _ := rows[2].Get("active"); !v.IsNull() {
		t.Fatalf("row 2 active=%v, want Null", v)
	}
	if v, _ := rows[0].Get("id"); v.Kind() != storage.KindNumber {
		t.Fatalf("id kind=%s, want number", v.Kind())
	}
}

func TestRegisterTables_InvalidIdentifierFailsFast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	bad := storage.TableSpec{
		Name:    "Bad Name",
		Columns: []storage.ColumnSpec{{Name: "a", Included: true}},
	}
	err := e.RegisterTables(ctx, []storage.TableSpec{bad})
	var re *storage.RegistrationError
	if !errors.As(err, &re) {
		t.Fatalf("RegisterTables() err=%v, want *storage.RegistrationError", err)
	}
	if re.Table != "Bad Name" {
		t.Fatalf("RegistrationError.Table=%q", re.Table)
	}

	dup := storage.TableSpec{
		Name:    "dup",
		Columns: []storage.ColumnSpec{{Name: "a", Included: true}, {Name: "a", Included: true}},
	}
	err = e.RegisterTables(ctx, []storage.TableSpec{dup})
	if !errors.Is(err, storage.ErrColumnExists) {
		t.Fatalf("RegisterTables(dup) err=%v, want ErrColumnExists", err)
	}
	if _, err := e.Execute(ctx, `SELECT * FROM dup`); err == nil {
		t.Fatalf("table dup was created despite the registration error")
	}
}

func TestRegisterTables_SparseAndMixedValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	tbl := storage.TableSpec{
		Name: "mixed",
		Columns: []storage.ColumnSpec{
			{Name: "id", Included: true},
			{Name: "code", Included: true},
		},
		Rows: []storage.Row{
			{{Name: "id", Value: storage.Number(1)}, {Name: "code", Value: storage.Number(42)}},
			{{Name: "id", Value: storage.Number(2)}, {Name: "code", Value: storage.String("A7")}},
			{{Name: "id", Value: storage.Number(3)}},
		},
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{tbl}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}

	rows, err := e.Execute(ctx, `SELECT id, code FROM mixed ORDER BY id`)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	want := []string{"42", "A7", "NULL"}
	for i, r := range rows {
		v, _ := r.Get("code")
		if v.String() != want[i] {
			t.Fatalf("row %d code=%v (%s), want %s", i, v, v.Kind(), want[i])
		}
	}
	if v, _ := rows[0].Get("code"); v.Kind() != storage.KindString {
		t.Fatalf("mixed column kind=%s, want string", v.Kind())
	}
}

func TestRegisterTables_LoadsAcrossInsertBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	const n = 1200
	tbl := storage.TableSpec{
		Name:    "wide",
		Columns: []storage.ColumnSpec{{Name: "a", Included: true}, {Name: "b", Included: true}},
		Rows:    make([]storage.Row, n),
	}
	for i := range tbl.Rows {
		tbl.Rows[i] = storage.Row{
			{Name: "a", Value: storage.Number(float64(i))},
			{Name: "b", Value: storage.Number(1)},
		}
	}
	if err := e.RegisterTables(ctx, []storage.TableSpec{tbl}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}
	rows, err := e.Execute(ctx, `SELECT SUM(b) AS n FROM wide`)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if v, _ := rows[0].Get("n"); v.Float() != n {
		t.Fatalf("SUM(b)=%v, want %d", v, n)
	}
}

func TestExecute_SelfHealRecoversNullAggregate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	if err := e.RegisterTables(ctx, []storage.TableSpec{salesTable()}); err != nil {
		t.Fatalf("RegisterTables() err=%v", err)
	}

	// apac only has NULL amounts, so SUM yields NULL until the guard applies.
	rows, err := selfheal.Run(ctx, e, `SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region`, selfheal.DefaultMaxRetries)
	if err != nil {
		t.Fatalf("selfheal.Run() err=%v", err)
	}
	if v, _ := rows[0].Get("region"); v.Str() != "apac" {
		t.Fatalf("first region=%v, want apac", v)
	}
	if v, _ := rows[0].Get("total"); v.IsNull() || v.Float() != 0 {
		t.Fatalf("apac total=%v, want 0", v)
	}
}

func TestExecute_SelfHealSurfacesEngineMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := openTestEngine(t)

	_, direct := e.Execute(ctx, `SELECT nope FROM missing`)
	if direct == nil {
		t.Fatalf("Execute() succeeded on a missing table")
	}
	_, err := selfheal.Run(ctx, e, `SELECT nope FROM missing`, 2)
	if err == nil || err.Error() != direct.Error() {
		t.Fatalf("selfheal err=%v, want %q", err, direct.Error())
	}
}

func TestBuildSQL(t *testing.T) {
	t.Parallel()

	kinds := map[string]storage.Kind{"a": storage.KindNumber, "b": storage.KindBool, "c": storage.KindString}
	if got, want := buildCreateTableSQL("t", []string{"a", "b", "c"}, kinds), `CREATE TABLE "t" ("a" REAL, "b" BOOLEAN, "c" TEXT)`; got != want {
		t.Fatalf("create=%s\nwant   %s", got, want)
	}
	if got, want := buildInsertSQL("t", []string{"a", "b"}, 2), `INSERT INTO "t" ("a", "b") VALUES (?,?), (?,?)`; got != want {
		t.Fatalf("insert=%s\nwant   %s", got, want)
	}
	if got, want := buildDropTableSQL(`we"ird`), `DROP TABLE IF EXISTS "we""ird"`; got != want {
		t.Fatalf("drop=%s\nwant   %s", got, want)
	}
	if got := batchRows(2); got != 499 {
		t.Fatalf("batchRows(2)=%d, want 499", got)
	}
	if got := batchRows(5000); got != 1 {
		t.Fatalf("batchRows(5000)=%d, want 1", got)
	}
}
