package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chartql/internal/chartdata"
	"chartql/internal/storage"
)

func TestLoad_Defaults(t *testing.T) {
	d, err := Load("")
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if d.Engine.Kind != "sqlite" || d.Engine.DSN != "" {
		t.Fatalf("engine=%+v", d.Engine)
	}
	if d.Heal.MaxRetries != 2 || d.Runtime.Concurrency != 4 || d.Runtime.RawRowLimit != 100 {
		t.Fatalf("heal=%+v runtime=%+v", d.Heal, d.Runtime)
	}
	if d.Metrics.Backend != "none" || d.Metrics.FlushEvery != time.Minute {
		t.Fatalf("metrics=%+v", d.Metrics)
	}
	if d.Log.Level != "info" || d.Log.Format != "json" {
		t.Fatalf("log=%+v", d.Log)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dash.yaml")
	body := `
name: sales
engine:
  kind: sqlite
  dsn: file.db
heal:
  max_retries: 5
runtime:
  timeout: 3s
sources:
  - name: Orders
    path: orders.csv
    rename:
      amount: Total Amount
    exclude: [internal_id]
widgets:
  - title: Revenue by region
    sql: SELECT region, SUM(amount) AS total FROM orders GROUP BY region
    chart:
      type: bar
      x_axis: region
      y_axis: total
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHARTQL_ENGINE_DSN", "override.db")
	t.Setenv("CHARTQL_RUNTIME_CONCURRENCY", "8")

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if d.Name != "sales" || d.Engine.DSN != "override.db" || d.Runtime.Concurrency != 8 {
		t.Fatalf("name=%q dsn=%q concurrency=%d", d.Name, d.Engine.DSN, d.Runtime.Concurrency)
	}
	if d.Heal.MaxRetries != 5 || d.Runtime.Timeout != 3*time.Second {
		t.Fatalf("heal=%+v runtime=%+v", d.Heal, d.Runtime)
	}
	if len(d.Sources) != 1 || d.Sources[0].Rename["amount"] != "Total Amount" || d.Sources[0].Exclude[0] != "internal_id" {
		t.Fatalf("sources=%+v", d.Sources)
	}
	want := chartdata.ChartIntent{Type: chartdata.Bar, XAxis: "region", YAxis: "total"}
	if len(d.Widgets) != 1 || d.Widgets[0].Chart != want {
		t.Fatalf("widgets=%+v", d.Widgets)
	}
	if issues := Validate(d); Err(issues) != nil {
		t.Fatalf("Validate issues=%+v", issues)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing config file accepted")
	}
}

func TestValidate_Findings(t *testing.T) {
	t.Parallel()

	d := &Dashboard{
		Engine:  storage.Config{Kind: "postgres"},
		Heal:    Heal{MaxRetries: -1},
		Runtime: Runtime{Concurrency: 0, RawRowLimit: 100},
		Metrics: Metrics{Backend: "statsd"},
		Sources: []Source{
			{Path: "a.xlsx"},
			{Path: "b.csv", Comma: ";;"},
		},
		Widgets: []Widget{
			{SQL: "SELECT 1", Chart: chartdata.ChartIntent{Type: "donut"}},
			{Chart: chartdata.ChartIntent{Type: chartdata.Pie}},
		},
	}

	got := map[string]Severity{}
	for _, iss := range Validate(d) {
		got[iss.Path] = iss.Severity
	}
	want := map[string]Severity{
		"engine.dsn":              SeverityError,
		"heal.max_retries":        SeverityWarning,
		"runtime.concurrency":     SeverityError,
		"metrics.backend":         SeverityError,
		"sources[0].format":       SeverityError,
		"sources[1].comma":        SeverityError,
		"widgets[0].chart.type":   SeverityError,
		"widgets[1].sql":          SeverityError,
		"widgets[1].chart.y_axis": SeverityWarning,
	}
	for path, sev := range want {
		if got[path] != sev {
			t.Fatalf("issue %s severity=%q, want %q (all=%v)", path, got[path], sev, got)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("issues=%v, want exactly %v", got, want)
	}

	err := Err(Validate(d))
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "engine.dsn: required for postgres") {
		t.Fatalf("Err=%v", err)
	}
}

func TestSourceFormatAndComma(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src       Source
		wantFmt   string
		wantComma rune
	}{
		{src: Source{Path: "x.CSV"}, wantFmt: "csv", wantComma: ','},
		{src: Source{Path: "x.tsv"}, wantFmt: "csv", wantComma: '\t'},
		{src: Source{Path: "x.dat", Format: "CSV", Comma: "|"}, wantFmt: "csv", wantComma: '|'},
		{src: Source{Path: "x.txt", Comma: `\t`}, wantFmt: "csv", wantComma: '\t'},
		{src: Source{Path: "x.ndjson"}, wantFmt: "json", wantComma: ','},
		{src: Source{Path: "page.htm"}, wantFmt: "html", wantComma: ','},
		{src: Source{Path: "x.xlsx"}, wantFmt: "", wantComma: ','},
	}
	for _, tt := range tests {
		if got := SourceFormat(tt.src); got != tt.wantFmt {
			t.Fatalf("SourceFormat(%+v)=%q, want %q", tt.src, got, tt.wantFmt)
		}
		if got, err := SourceComma(tt.src); err != nil || got != tt.wantComma {
			t.Fatalf("SourceComma(%+v)=(%q,%v), want %q", tt.src, got, err, tt.wantComma)
		}
	}
}
