package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"chartql/internal/chartdata"
	"chartql/internal/config"
	"chartql/internal/dashboard"
	"chartql/internal/identifier"
	"chartql/internal/probe"
)

func newRunCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every widget of a dashboard config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfgPath == "" {
				return errors.New("run: --config is required")
			}
			d, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.setupLogger(d); err != nil {
				return err
			}
			if err := a.reportIssues(config.Validate(d)); err != nil {
				return err
			}

			ctx := cmd.Context()
			defer a.setupMetrics(ctx, d)()

			res, err := dashboard.NewRunner(a.log).Run(ctx, d)
			if err != nil {
				return err
			}
			failed := 0
			for _, w := range res.Widgets {
				if w.Failed() {
					failed++
				}
			}
			a.log.Info("run: done",
				zap.String("run_id", res.RunID),
				zap.Int("widgets", len(res.Widgets)),
				zap.Int("failed", failed),
			)
			return writeOutput(a.stdout, output, res)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		sources    []string
		sql        string
		chart      string
		x, y, y2   string
		maxRetries int
		output     string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ingest files and run one self-healing query against them",
		Example: `  chartql query --source sales.csv \
    --sql "SELECT region, SUM(amount) AS total FROM sales GROUP BY region" \
    --chart bar --x region --y total`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(sql) == "" {
				return errors.New("query: --sql is required")
			}
			d, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.setupLogger(d); err != nil {
				return err
			}
			if cmd.Flags().Changed("max-retries") {
				d.Heal.MaxRetries = maxRetries
			}
			for _, p := range sources {
				d.Sources = append(d.Sources, config.Source{Path: p})
			}
			d.Widgets = []config.Widget{{
				Title: "query",
				SQL:   sql,
				Chart: chartdata.ChartIntent{Type: chartdata.ChartType(chart), XAxis: x, YAxis: y, YAxisSecondary: y2},
			}}
			if err := a.reportIssues(config.Validate(d)); err != nil {
				return err
			}

			ctx := cmd.Context()
			defer a.setupMetrics(ctx, d)()

			res, err := dashboard.NewRunner(a.log).Run(ctx, d)
			if err != nil {
				return err
			}
			w := res.Widgets[0]
			if err := writeOutput(a.stdout, output, w); err != nil {
				return err
			}
			if w.Failed() {
				return fmt.Errorf("query failed after %d attempts: %s", w.Attempts, w.Error)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&sources, "source", nil, "file to ingest (csv, json or html); repeatable")
	f.StringVar(&sql, "sql", "", "SQL to execute")
	f.StringVar(&chart, "chart", "", "chart type (bar, line, pie, area, radar, scatter, composed, kpi, gauge, heatmap, geo)")
	f.StringVar(&x, "x", "", "x axis column")
	f.StringVar(&y, "y", "", "y axis column")
	f.StringVar(&y2, "y2", "", "secondary y axis column")
	f.IntVar(&maxRetries, "max-retries", 0, "self-healing retry budget (default from config)")
	f.StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newSanitizeCmd(a *app) *cobra.Command {
	var independent bool

	cmd := &cobra.Command{
		Use:   "sanitize <name>...",
		Short: "Print the identifiers chartql derives from raw sheet or column names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var ids []string
			if independent {
				ids = make([]string, len(args))
				for i, s := range args {
					ids[i] = identifier.Sanitize(s)
				}
			} else {
				ids = identifier.EnsureUnique(args)
			}
			for i, s := range args {
				fmt.Fprintf(a.stdout, "%s\t%s\n", ids[i], s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&independent, "independent", false, "sanitize each name on its own instead of as one sibling set")
	return cmd
}

func newProbeCmd(a *app) *cobra.Command {
	var (
		sources []string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Ingest files and print the column profile of every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.loadConfig()
			if err != nil {
				return err
			}
			for _, p := range sources {
				d.Sources = append(d.Sources, config.Source{Path: p})
			}
			if len(d.Sources) == 0 {
				return errors.New("probe: no sources (use --source or a config with sources)")
			}

			tables, err := dashboard.LoadSources(cmd.Context(), d.Sources)
			if err != nil {
				return err
			}
			profiles := make([]probe.Table, len(tables))
			for i, t := range tables {
				profiles[i] = probe.Profile(t)
			}

			if output != "text" {
				return writeOutput(a.stdout, output, profiles)
			}
			for i, p := range profiles {
				if i > 0 {
					fmt.Fprintln(a.stdout)
				}
				fmt.Fprintln(a.stdout, probe.Format(p))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sources, "source", nil, "file to ingest (csv, json or html); repeatable")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a dashboard config and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if a.cfgPath == "" {
				return errors.New("validate: --config is required")
			}
			d, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.reportIssues(config.Validate(d)); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "configuration is valid: %s\n", a.cfgPath)
			return nil
		},
	}
}

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}
