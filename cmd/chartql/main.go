// Command chartql runs dashboards of LLM-generated SQL against ingested
// spreadsheets, healing poisoned results and shaping them for charts.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chartql/internal/config"
	"chartql/internal/logging"

	// register all backends with the storage factory; the config decides
	// which one is opened.
	_ "chartql/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chartql: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries the global flags and the per-invocation logger.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfgPath        string
	logLevel       string
	logFormat      string
	metricsBackend string

	log *zap.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "chartql",
		Short:         "Self-healing SQL execution and chart shaping",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "dashboard config file (yaml, json or toml)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default from config, else info)")
	f.StringVar(&a.logFormat, "log-format", "", "log format: json or console (default from config, else json)")
	f.StringVar(&a.metricsBackend, "metrics-backend", "", "metrics backend: none or datadog (default from config)")

	root.AddCommand(
		newRunCmd(a),
		newQueryCmd(a),
		newSanitizeCmd(a),
		newProbeCmd(a),
		newValidateCmd(a),
	)

	return root
}

// loadConfig loads the dashboard and applies global flag overrides.
func (a *app) loadConfig() (*config.Dashboard, error) {
	d, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		d.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		d.Log.Format = a.logFormat
	}
	if a.metricsBackend != "" {
		d.Metrics.Backend = a.metricsBackend
	}
	return d, nil
}

// setupLogger replaces a.log according to d's log section.
func (a *app) setupLogger(d *config.Dashboard) error {
	l, err := logging.New(d.Log.Level, d.Log.Format)
	if err != nil {
		return err
	}
	a.log = l
	return nil
}

// reportIssues prints validation findings the way `chartql validate` does
// and returns the folded error, if any.
func (a *app) reportIssues(issues []config.Issue) error {
	for _, iss := range issues {
		fmt.Fprintf(a.stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return config.Err(issues)
}
