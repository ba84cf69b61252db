// Package config loads and validates a dashboard definition.
//
// A dashboard names the engine to open, the sources to ingest into it and
// the widgets (SQL + chart intent) to run against the registered tables.
// Values come from, in increasing precedence: defaults set here, the config
// file (YAML, JSON or TOML, chosen by extension) and CHARTQL_* environment
// variables (CHARTQL_ENGINE_DSN overrides engine.dsn, and so on).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chartql/internal/chartdata"
	"chartql/internal/selfheal"
	"chartql/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHARTQL"

// Dashboard is the root configuration object.
type Dashboard struct {
	Name    string         `mapstructure:"name" yaml:"name"`
	Engine  storage.Config `mapstructure:"engine" yaml:"engine"`
	Heal    Heal           `mapstructure:"heal" yaml:"heal"`
	Runtime Runtime        `mapstructure:"runtime" yaml:"runtime"`
	Metrics Metrics        `mapstructure:"metrics" yaml:"metrics"`
	Log     Log            `mapstructure:"log" yaml:"log"`
	Sources []Source       `mapstructure:"sources" yaml:"sources"`
	Widgets []Widget       `mapstructure:"widgets" yaml:"widgets"`
}

// Heal configures the self-healing retry loop.
type Heal struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// Runtime controls widget execution.
type Runtime struct {
	// Concurrency bounds how many widgets run at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// RawRowLimit truncates a healed result before chart shaping.
	RawRowLimit int `mapstructure:"raw_row_limit" yaml:"raw_row_limit"`
	// Timeout bounds one widget's heal loop; zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Metrics selects the metrics backend ("none" or "datadog").
type Metrics struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	Tags       string        `mapstructure:"tags" yaml:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every" yaml:"flush_every"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Source is one file ingested into the engine.
//
// Format is csv, json or html; empty means "infer from the file extension".
// Rename maps a column's ingested identifier to a new display name and
// Exclude lists identifiers that are ingested but not registered.
type Source struct {
	Name               string            `mapstructure:"name" yaml:"name"`
	Path               string            `mapstructure:"path" yaml:"path"`
	Format             string            `mapstructure:"format" yaml:"format"`
	Comma              string            `mapstructure:"comma" yaml:"comma,omitempty"`
	NoHeader           bool              `mapstructure:"no_header" yaml:"no_header,omitempty"`
	Selector           string            `mapstructure:"selector" yaml:"selector,omitempty"`
	ArrayJoinSeparator string            `mapstructure:"array_join_separator" yaml:"array_join_separator,omitempty"`
	Rename             map[string]string `mapstructure:"rename" yaml:"rename,omitempty"`
	Exclude            []string          `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// Widget is one chart: the SQL that feeds it and how it is drawn.
type Widget struct {
	Title string                `mapstructure:"title" yaml:"title"`
	SQL   string                `mapstructure:"sql" yaml:"sql"`
	Chart chartdata.ChartIntent `mapstructure:"chart" yaml:"chart"`
}

// Default values. Exported so the CLI can show them in flag help.
const (
	DefaultEngineKind  = "sqlite"
	DefaultConcurrency = 4
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultFlushEvery  = 60 * time.Second
)

// Load reads path (optional) and applies defaults and environment overrides.
//
// Errors:
//   - path is set but cannot be read or parsed.
//   - the merged values cannot be decoded into Dashboard.
func Load(path string) (*Dashboard, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var d Dashboard
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &d, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", "dashboard")
	v.SetDefault("engine.kind", DefaultEngineKind)
	v.SetDefault("engine.dsn", "")
	v.SetDefault("heal.max_retries", selfheal.DefaultMaxRetries)
	v.SetDefault("runtime.concurrency", DefaultConcurrency)
	v.SetDefault("runtime.raw_row_limit", chartdata.DefaultRawRowLimit)
	v.SetDefault("runtime.timeout", time.Duration(0))
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", DefaultFlushEvery)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	return v
}

// SourceFormat returns the effective format of s: its Format, or one derived
// from the file extension. It returns "" when neither says anything useful.
func SourceFormat(s Source) string {
	if f := strings.ToLower(strings.TrimSpace(s.Format)); f != "" {
		return f
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv", ".tsv", ".txt":
		return "csv"
	case ".json", ".jsonl", ".ndjson":
		return "json"
	case ".html", ".htm":
		return "html"
	}
	return ""
}

// SourceComma returns the CSV delimiter for s. ".tsv" files default to tab.
func SourceComma(s Source) (rune, error) {
	switch c := s.Comma; {
	case c == "":
		if strings.EqualFold(filepath.Ext(s.Path), ".tsv") {
			return '\t', nil
		}
		return ',', nil
	case c == `\t` || c == "tab":
		return '\t', nil
	case len([]rune(c)) == 1:
		return []rune(c)[0], nil
	default:
		return 0, fmt.Errorf("comma %q must be a single character", c)
	}
}

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// ErrInvalid is wrapped by Err when any issue has SeverityError.
var ErrInvalid = errors.New("config: invalid dashboard")

// Validate checks d and returns every finding, errors and warnings alike.
// An empty result means the dashboard is runnable as written.
func Validate(d *Dashboard) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	switch d.Engine.Kind {
	case "":
		add(SeverityError, "engine.kind", "must be set")
	case "postgres", "mssql":
		if strings.TrimSpace(d.Engine.DSN) == "" {
			add(SeverityError, "engine.dsn", "required for %s", d.Engine.Kind)
		}
	}

	if d.Heal.MaxRetries < 0 {
		add(SeverityWarning, "heal.max_retries", "negative value %d is treated as 0", d.Heal.MaxRetries)
	}
	if d.Runtime.Concurrency < 1 {
		add(SeverityError, "runtime.concurrency", "must be >= 1 (got %d)", d.Runtime.Concurrency)
	}
	if d.Runtime.RawRowLimit < 1 {
		add(SeverityError, "runtime.raw_row_limit", "must be >= 1 (got %d)", d.Runtime.RawRowLimit)
	}
	if d.Runtime.Timeout < 0 {
		add(SeverityError, "runtime.timeout", "must not be negative")
	}

	switch d.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none or datadog)", d.Metrics.Backend)
	}

	if len(d.Sources) == 0 {
		add(SeverityWarning, "sources", "no sources; widgets can only query engine-resident tables")
	}
	for i, s := range d.Sources {
		p := fmt.Sprintf("sources[%d]", i)
		if strings.TrimSpace(s.Path) == "" {
			add(SeverityError, p+".path", "must be set")
		}
		switch SourceFormat(s) {
		case "csv":
			if _, err := SourceComma(s); err != nil {
				add(SeverityError, p+".comma", "%v", err)
			}
		case "json", "html":
		case "":
			add(SeverityError, p+".format", "cannot infer format from %q; set format to csv, json or html", s.Path)
		default:
			add(SeverityError, p+".format", "unknown format %q", s.Format)
		}
	}

	if len(d.Widgets) == 0 {
		add(SeverityWarning, "widgets", "no widgets to run")
	}
	for i, w := range d.Widgets {
		p := fmt.Sprintf("widgets[%d]", i)
		if strings.TrimSpace(w.SQL) == "" {
			add(SeverityError, p+".sql", "must be set")
		}
		t := w.Chart.Type
		switch {
		case t == "":
			add(SeverityWarning, p+".chart.type", "not set; rows are returned unshaped")
		case !t.Valid():
			add(SeverityError, p+".chart.type", "unknown chart type %q", t)
		case t.Categorical() && w.Chart.YAxis == "":
			add(SeverityWarning, p+".chart.y_axis", "not set; categories are ranked as if every value were 0")
		}
	}

	return out
}

// Err folds issues into a single error, or nil when no issue is an error.
func Err(issues []Issue) error {
	var msgs []string
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
