// Package main provides the command-line interface of elohistory.
// It fits rating histories from CSV match lists, validates inputs, reports
// calibration, manages stored runs and opens the interactive browser.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/pashagolub/elohistory/pkg/data"
	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
	"github.com/pashagolub/elohistory/pkg/logger"
	"github.com/pashagolub/elohistory/pkg/store"
)

// Version information - set by build process
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// GlobalOptions defines global CLI flags
type GlobalOptions struct {
	Config   string `long:"config" short:"c" description:"Configuration file path" default:"elohistory.yaml"`
	LogLevel string `long:"log-level" description:"Log level (debug/info/warn/error), overrides log.level"`
	Verbose  bool   `long:"verbose" short:"v" description:"Enable debug logging"`
	Version  bool   `long:"version" description:"Show version information"`
}

// EloOverrides are rating parameters given on the command line.
// Unset flags keep the configured values.
type EloOverrides struct {
	K         *int     `long:"k" description:"Step size per match, overrides elo.k"`
	EloInit   *int     `long:"elo-init" description:"Starting rating, overrides elo.elo_init"`
	EloDiff   *int     `long:"elo-diff" description:"Probability scale, overrides elo.elo_diff"`
	Reversion *float64 `long:"reversion" description:"Seasonal mean reversion, at most 1, negative widens the spread; overrides elo.seasonal_mean_reversion"`
}

func (o EloOverrides) apply(cfg *data.EloConfig) {
	if o.K != nil {
		cfg.K = *o.K
	}
	if o.EloInit != nil {
		cfg.EloInit = *o.EloInit
	}
	if o.EloDiff != nil {
		cfg.EloDiff = *o.EloDiff
	}
	if o.Reversion != nil {
		cfg.SeasonalMeanReversion = *o.Reversion
	}
}

// ErrorCode represents CLI exit codes
type ErrorCode int

const (
	ExitSuccess ErrorCode = iota
	ExitFileError
	ExitConfigError
	ExitValidationError
	ExitExportError
	ExitStoreError
	ExitCalibrationError
	ExitAuditError
)

// CLIError represents a CLI error with exit code
type CLIError struct {
	Code        ErrorCode
	Message     string
	Details     map[string]any
	Suggestions []string
}

func (e *CLIError) Error() string {
	return e.Message
}

// formatErrorJSON formats error as JSON for structured output
func formatErrorJSON(err *CLIError) string {
	body := map[string]any{
		"code":    err.Code,
		"message": err.Message,
	}
	if err.Details != nil {
		body["details"] = err.Details
	}
	if err.Suggestions != nil {
		body["suggestions"] = err.Suggestions
	}

	jsonBytes, _ := json.MarshalIndent(map[string]any{"error": body}, "", "  ")
	return string(jsonBytes)
}

// CLI carries what every command shares: options, streams, the loaded
// configuration and the logger.
type CLI struct {
	Global GlobalOptions
	Stdout io.Writer
	Stderr io.Writer

	ctx    context.Context
	config *data.Config
	log    logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		var cliErr *CLIError
		if errors.As(err, &cliErr) {
			fmt.Fprintln(os.Stderr, formatErrorJSON(cliErr))
			os.Exit(int(cliErr.Code))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(ExitConfigError))
	}
}

func newParser(cli *CLI) *flags.Parser {
	parser := flags.NewParser(&cli.Global, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "elohistory"
	parser.Usage = "[OPTIONS] COMMAND [COMMAND-OPTIONS]"
	parser.SubcommandsOptional = true

	parser.AddCommand("fit", "Fit a rating history from a CSV match list",
		"Validates the matches, applies them in time order and exports the history ledger.", &FitCommand{cli: cli})
	parser.AddCommand("validate", "Validate a CSV match list",
		"Reads the match list and runs every check of a fit without computing ratings.", &ValidateCommand{cli: cli})
	parser.AddCommand("calibrate", "Report how well predicted probabilities match outcomes",
		"Fits the match list and bins the pre-match win probabilities into a calibration curve.", &CalibrateCommand{cli: cli})
	parser.AddCommand("browse", "Browse a rating history interactively", "", &BrowseCommand{cli: cli})
	parser.AddCommand("runs", "List or delete stored runs", "", &RunsCommand{cli: cli})
	parser.AddCommand("export", "Export a stored run", "", &ExportCommand{cli: cli})
	parser.AddCommand("config", "Write the effective configuration", "", &ConfigCommand{cli: cli})
	parser.AddCommand("audit", "Verify and query the audit log of a run", "", &AuditCommand{cli: cli})

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil || cli.Global.Version {
			return nil
		}
		if err := cli.prepare(); err != nil {
			return err
		}
		return cmd.Execute(args)
	}
	return parser
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli := &CLI{Stdout: stdout, Stderr: stderr, ctx: ctx}
	parser := newParser(cli)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(stdout, flagsErr.Message)
				return nil
			}
			return &CLIError{
				Code:        ExitConfigError,
				Message:     fmt.Sprintf("Invalid arguments: %v", err),
				Suggestions: []string{"Use 'elohistory --help' to see all available commands"},
			}
		}
		return err
	}

	if cli.Global.Version {
		return cli.showVersion()
	}
	if parser.Active == nil {
		parser.WriteHelp(stderr)
		return &CLIError{
			Code:    ExitConfigError,
			Message: "No command specified",
			Suggestions: []string{
				"Use 'elohistory fit --input matches.csv' to fit a rating history",
				"Use 'elohistory --help' to see all available commands",
			},
		}
	}
	return nil
}

// prepare loads the configuration and sets up logging before a command runs
func (c *CLI) prepare() error {
	path := data.FindConfig(c.Global.Config)
	cfg, err := data.Load(path)
	if err != nil {
		return &CLIError{
			Code:    ExitConfigError,
			Message: fmt.Sprintf("Failed to load configuration: %v", err),
			Details: map[string]any{"config": path},
			Suggestions: []string{
				"Check configuration file syntax",
				"Use --config flag to specify different config file",
				"Check ELOHISTORY_* environment variables",
			},
		}
	}

	logger.InitWriter(c.Stderr)
	level := cfg.Log.Level
	if c.Global.LogLevel != "" {
		level = c.Global.LogLevel
	}
	if c.Global.Verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		return &CLIError{Code: ExitConfigError, Message: err.Error()}
	}

	c.config = cfg
	c.log = logger.Named("cli")
	c.log.Debug(c.ctx, "configuration loaded", logger.String("path", path))
	return nil
}

func (c *CLI) showVersion() error {
	fmt.Fprintf(c.Stdout, "elohistory %s\n", Version)
	fmt.Fprintf(c.Stdout, "Build date: %s\n", BuildDate)
	fmt.Fprintf(c.Stdout, "Git commit: %s\n", GitCommit)
	return nil
}

// openStore connects to the configured run database. The DSN is kept out of
// the error details since it may carry credentials.
func (c *CLI) openStore() (*store.Store, error) {
	st, err := store.Open(c.ctx, c.config.Store.Driver, c.config.Store.DSN)
	if err != nil {
		return nil, &CLIError{
			Code:    ExitStoreError,
			Message: fmt.Sprintf("Failed to open run store: %v", err),
			Details: map[string]any{"driver": c.config.Store.Driver},
			Suggestions: []string{
				"Check store.driver and store.dsn in the configuration",
			},
		}
	}
	return st, nil
}

// loadRun fetches a stored run
func (c *CLI) loadRun(st *store.Store, runID string) (*journal.History, error) {
	history, err := st.LoadRun(c.ctx, runID)
	if err != nil {
		cliErr := &CLIError{
			Code:    ExitStoreError,
			Message: fmt.Sprintf("Failed to load run '%s': %v", runID, err),
			Details: map[string]any{"run_id": runID},
		}
		if errors.Is(err, store.ErrRunNotFound) {
			cliErr.Suggestions = []string{"Use 'elohistory runs' to see stored runs"}
		}
		return nil, cliErr
	}
	return history, nil
}

// checkConfig validates a configuration once command-line overrides are in
func checkConfig(cfg *data.Config) error {
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	return nil
}

func configError(err error) *CLIError {
	return &CLIError{
		Code:    ExitConfigError,
		Message: fmt.Sprintf("Invalid configuration: %v", err),
	}
}

// loadMatches reads a match list. Unreadable rows fail the command, a fit
// never silently drops matches.
func loadMatches(path string, cfg data.CSVConfig) (*data.MatchFile, error) {
	matches, err := data.LoadMatchesFromCSV(path, cfg)
	if err != nil {
		return nil, &CLIError{
			Code:    ExitFileError,
			Message: fmt.Sprintf("Failed to load CSV file: %v", err),
			Details: map[string]any{"file": path},
			Suggestions: []string{
				"Validate the file with 'elohistory validate --input " + path + "'",
				"Check the csv column mapping in the configuration",
			},
		}
	}
	if len(matches.ParseErrors) > 0 {
		issues := make([]string, 0, min(len(matches.ParseErrors), 10))
		for _, parseErr := range matches.ParseErrors[:cap(issues)] {
			issues = append(issues, parseErr.Error())
		}
		return nil, &CLIError{
			Code:    ExitValidationError,
			Message: fmt.Sprintf("%d rows of %s could not be read", len(matches.ParseErrors), path),
			Details: map[string]any{"file": path, "errors": issues},
			Suggestions: []string{
				"Run 'elohistory validate --input " + path + "' for the full list",
			},
		}
	}
	return matches, nil
}

// validationError maps an engine error onto the CLI error with the offending
// match in the details
func validationError(err error) *CLIError {
	details := map[string]any{}
	var selfPlay *elo.SelfPlayError
	var badTime *elo.TimestampParseError
	switch {
	case errors.As(err, &selfPlay):
		details["index"] = selfPlay.Index
		details["match_id"] = selfPlay.ID
		details["competitor"] = selfPlay.Competitor
	case errors.As(err, &badTime):
		details["index"] = badTime.Index
		details["value"] = badTime.Value
	}

	code := ExitValidationError
	if errors.Is(err, elo.ErrConfiguration) {
		code = ExitConfigError
	}
	return &CLIError{
		Code:    code,
		Message: fmt.Sprintf("Invalid match list: %v", err),
		Details: details,
	}
}

// exportOptions merges the export section with command-line overrides
func exportOptions(cfg data.ExportConfig, format, since string, decimals *int) (journal.ExportOptions, error) {
	if format != "" {
		cfg.Format = format
	}
	if since != "" {
		cfg.Since = since
	}
	if decimals != nil {
		cfg.RoundDecimals = *decimals
	}
	if err := cfg.Validate(); err != nil {
		return journal.ExportOptions{}, configError(err)
	}

	opts := journal.DefaultExportOptions()
	opts.Format = journal.ExportFormat(cfg.Format)
	opts.Decimals = cfg.RoundDecimals
	if cfg.Since != "" {
		t, err := elo.ParseTimestamp(cfg.Since)
		if err != nil {
			return journal.ExportOptions{}, configError(err)
		}
		opts.Since = t
	}
	return opts, nil
}

// export writes a history to path, or to stdout when path is empty
func (c *CLI) export(history *journal.History, path string, opts journal.ExportOptions) error {
	exporter := journal.NewExporter()
	var err error
	if path == "" {
		err = exporter.Export(history, c.Stdout, opts)
	} else {
		err = exporter.ExportToFile(history, path, opts)
	}
	if err != nil {
		cliErr := &CLIError{
			Code:    ExitExportError,
			Message: fmt.Sprintf("Failed to export run '%s': %v", history.RunID, err),
			Details: map[string]any{"format": string(opts.Format)},
		}
		if errors.Is(err, elo.ErrNoTimestamps) {
			cliErr.Suggestions = []string{"Drop --since, the match list has no timestamp column"}
		}
		return cliErr
	}
	return nil
}

// partitionPath derives the output file of one partition:
// ratings.csv with key "east" becomes ratings-east.csv
func partitionPath(base, key string) string {
	if key == "" {
		return base
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + safe + ext
}
