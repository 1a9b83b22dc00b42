// Package app contains the Cobra command tree for usagewatch.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/blackwell-systems/usagewatch/internal/config"
	"github.com/blackwell-systems/usagewatch/internal/logging"
	"github.com/blackwell-systems/usagewatch/internal/output"
	"github.com/blackwell-systems/usagewatch/internal/pipeline"
	"github.com/spf13/cobra"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

// Process exit codes.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitNoData  = 2
	ExitPartial = 3
)

// exitError carries a non-zero exit code. A nil err means the outcome was
// already reported and nothing more should be printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var (
	flagNoColor     bool
	flagJSON        bool
	flagVerbose     bool
	flagConfig      string
	flagEnvFile     string
	flagStartDate   string
	flagEndDate     string
	flagEmails      []string
	flagAPIKeys     []string
	flagMappingFile string
	flagOutputDir   string
	flagStamp       string
	flagRawJSON     bool
	flagBatched     bool
)

var rootCmd = &cobra.Command{
	Use:   "usagewatch",
	Short: "Per-user usage reports from the team analytics API",
	Long: `usagewatch resolves user emails to their API keys through the team
directory, queries the analytics service for each key, and writes per-user
CSV reports with a manifest of what was found, missing, or skipped.

Every report accepts --emails and/or --api-keys. With neither, every user
in the directory is included.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute is the entry point called from main.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "error:", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(ExitFatal)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/usagewatch/config.yaml)")
	pf.StringVar(&flagEnvFile, "env-file", "", "Dotenv file with SERVICE_KEY (default: ./.env)")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&flagJSON, "json", false, "Output as JSON")
	pf.BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
	pf.StringVar(&flagStartDate, "start-date", "", "First day of the range (YYYY-MM-DD)")
	pf.StringVar(&flagEndDate, "end-date", "", "Last day of the range (YYYY-MM-DD)")
	pf.StringSliceVar(&flagEmails, "emails", nil, "Comma-separated user emails")
	pf.StringSliceVar(&flagAPIKeys, "api-keys", nil, "Comma-separated API keys to include directly")
	pf.StringVar(&flagMappingFile, "mapping-file", "", "Resolve emails from a saved mapping file instead of the directory ('latest' for the newest)")
	pf.StringVar(&flagOutputDir, "output-dir", "", "Directory for report files (default: output)")
	pf.StringVar(&flagStamp, "stamp", "", "Suffix for report file names (default: today's date)")
	pf.BoolVar(&flagRawJSON, "raw-json", false, "Also write raw API responses as JSON")
	pf.BoolVar(&flagBatched, "batched", false, "Query all keys at once and split rows locally")
}

// env bundles what every report command needs.
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	runner *pipeline.Runner
}

// setup loads and validates configuration, then builds the logger and
// runner. requireKey is false for commands that never call the service.
func setup(requireKey bool) (*env, error) {
	cfg, err := config.Load(flagConfig, flagEnvFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagOutputDir != "" {
		cfg.OutputDir = flagOutputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if requireKey {
		if err := cfg.RequireServiceKey(); err != nil {
			return nil, err
		}
	}

	output.AutoColor(os.Stdout, flagNoColor || flagJSON)

	level := cfg.Log.Level
	if flagVerbose {
		level = "debug"
	}
	log := logging.New(os.Stderr, level, cfg.Log.Format)

	svc := analytics.NewClient(cfg.BaseURL, cfg.ServiceKey)
	return &env{cfg: cfg, log: log, runner: pipeline.New(svc, cfg, log)}, nil
}

// dateRange parses --start-date/--end-date. With neither it returns the
// zero range so the pipeline applies the report's default window. A
// single bound is completed with today or the default lookback.
func dateRange(cfg *config.Config) (analytics.DateRange, error) {
	if flagStartDate == "" && flagEndDate == "" {
		return analytics.DateRange{}, nil
	}
	def := analytics.LastNDays(timeNow(), cfg.DefaultLookbackDays)
	start, end := flagStartDate, flagEndDate
	if start == "" {
		start = def.StartDate()
	}
	if end == "" {
		end = def.EndDate()
	}
	return analytics.ParseDateRange(start, end)
}

// baseRequest builds the request fields shared by every report.
func baseRequest(kind pipeline.Kind, cfg *config.Config) (pipeline.Request, error) {
	r, err := dateRange(cfg)
	if err != nil {
		return pipeline.Request{}, &config.ConfigurationError{Key: "date range", Problem: err.Error()}
	}
	return pipeline.Request{
		Kind:        kind,
		Emails:      flagEmails,
		Identifiers: flagAPIKeys,
		Range:       r,
		MappingFile: flagMappingFile,
		Batched:     flagBatched,
		RawJSON:     flagRawJSON,
		OutputDir:   cfg.OutputDir,
		Stamp:       flagStamp,
		Now:         timeNow(),
	}, nil
}

// signalContext cancels on interrupt so in-flight requests stop and
// staged files are discarded.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// exitFor maps a run outcome to the process exit code.
func exitFor(out *pipeline.Outcome) error {
	switch out.Status {
	case pipeline.StatusNoData:
		return &exitError{code: ExitNoData}
	case pipeline.StatusPartial:
		return &exitError{code: ExitPartial}
	}
	return nil
}
