package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pashagolub/elohistory/pkg/calibration"
	"github.com/pashagolub/elohistory/pkg/data"
	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
	"github.com/pashagolub/elohistory/pkg/tui"
)

// ValidateCommand handles 'elohistory validate'
type ValidateCommand struct {
	Input   string `long:"input" short:"i" description:"CSV file to validate" required:"true"`
	Preview int    `long:"preview" description:"Number of rows to preview" default:"5"`
	Format  string `long:"format" description:"Report format" default:"text" choice:"text" choice:"json"`

	cli *CLI
}

// ValidationReport is the JSON form of a validation run
type ValidationReport struct {
	File        string          `json:"file"`
	Matches     *data.MatchFile `json:"matches"`
	Partitions  int             `json:"partitions"`
	Competitors int             `json:"competitors"`
	Valid       bool            `json:"valid"`
	Error       string          `json:"error,omitempty"`
}

// Execute implements flags.Commander
func (c *ValidateCommand) Execute(args []string) error {
	cfg := c.cli.config
	if err := checkConfig(cfg); err != nil {
		return err
	}
	matches, err := data.LoadMatchesFromCSV(c.Input, cfg.CSV)
	if err != nil {
		return &CLIError{
			Code:    ExitFileError,
			Message: fmt.Sprintf("Failed to load CSV file: %v", err),
			Details: map[string]any{"file": c.Input},
		}
	}

	report := ValidationReport{File: c.Input, Matches: matches}
	keys, parts := matches.SplitPartitions()
	report.Partitions = len(keys)
	report.Competitors, err = validatePartitions(cfg.Elo.EngineConfig(), parts)
	switch {
	case err != nil:
		report.Error = err.Error()
	case len(matches.ParseErrors) > 0:
		report.Error = fmt.Sprintf("%d rows could not be read", len(matches.ParseErrors))
	default:
		report.Valid = true
	}

	if c.Format == "json" {
		enc := json.NewEncoder(c.cli.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return &CLIError{Code: ExitExportError, Message: fmt.Sprintf("Failed to write report: %v", err)}
		}
	} else {
		c.writeText(report)
	}

	if !report.Valid {
		cliErr := &CLIError{
			Code:    ExitValidationError,
			Message: fmt.Sprintf("Validation of %s failed: %s", c.Input, report.Error),
			Details: map[string]any{"file": c.Input},
		}
		if err != nil {
			cliErr = validationError(err)
		}
		return cliErr
	}
	return nil
}

func (c *ValidateCommand) writeText(report ValidationReport) {
	out := c.cli.Stdout
	m := report.Matches
	fmt.Fprintf(out, "File: %s\n", report.File)
	fmt.Fprintf(out, "Rows: %d (%d read, %d skipped, %d errors)\n",
		m.TotalRows, m.SuccessfulRows, len(m.SkippedRows), len(m.ParseErrors))
	fmt.Fprintf(out, "Columns: %s\n", strings.Join(m.Metadata.Headers, ", "))
	if len(m.Metadata.UnmappedColumns) > 0 {
		fmt.Fprintf(out, "Unmapped: %s\n", strings.Join(m.Metadata.UnmappedColumns, ", "))
	}
	fmt.Fprintf(out, "IDs: %s  Timestamps: %s  Partitions: %d\n",
		yesNo(m.Metadata.HasIDs), yesNo(m.Metadata.HasTimestamps), report.Partitions)
	fmt.Fprintf(out, "Competitors: %d\n", report.Competitors)

	if preview := min(c.Preview, len(m.Input.Winners)); preview > 0 {
		fmt.Fprintln(out, "Preview:")
		for i := range preview {
			id := fmt.Sprintf("#%d", i)
			if m.Input.IDs != nil {
				id = m.Input.IDs[i]
			}
			when := ""
			if m.Input.Timestamps != nil {
				when = "  " + m.Input.Timestamps[i]
			}
			fmt.Fprintf(out, "  %s%s  %s beat %s\n", id, when, m.Input.Winners[i], m.Input.Losers[i])
		}
	}

	if len(m.ParseErrors) > 0 {
		fmt.Fprintln(out, "Parse errors:")
		for _, parseErr := range m.ParseErrors {
			fmt.Fprintf(out, "  - %s\n", parseErr.Error())
		}
	}

	if report.Valid {
		fmt.Fprintln(out, "Status: valid")
	} else {
		fmt.Fprintf(out, "Status: invalid (%s)\n", report.Error)
	}
}

// validatePartitions validates every pool and checks that no competitor is in
// two of them. It returns the number of distinct competitors.
func validatePartitions(cfg elo.Config, parts []elo.Input) (int, error) {
	owner := make(map[string]int)
	for i, part := range parts {
		batch, err := elo.Validate(cfg, part)
		if err != nil {
			if len(parts) > 1 {
				return 0, fmt.Errorf("partition %d: %w", i, err)
			}
			return 0, err
		}
		for _, competitor := range batch.Competitors {
			if j, ok := owner[competitor]; ok {
				return 0, fmt.Errorf("%w: %q is in partitions %d and %d", elo.ErrOverlappingPartitions, competitor, j, i)
			}
			owner[competitor] = i
		}
	}
	return len(owner), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// CalibrateCommand handles 'elohistory calibrate'
type CalibrateCommand struct {
	Input string `long:"input" short:"i" description:"CSV file with one match per row" required:"true"`
	EloOverrides

	Bins      *int     `long:"bins" description:"Number of uniform bins, overrides calibration.bins"`
	StartYear *int     `long:"start-year" description:"Only matches after the first instant of this year, 0 keeps all"`
	A         *float64 `long:"a" description:"Inverse sigmoid steepness, overrides calibration.a"`
	B         *float64 `long:"b" description:"Inverse sigmoid offset, overrides calibration.b"`
	Seed      *int64   `long:"seed" description:"Seed of the winner/loser split, overrides calibration.seed"`
	Format    string   `long:"format" description:"Report format" default:"table" choice:"table" choice:"json"`

	cli *CLI
}

// Execute implements flags.Commander. The whole file is fitted as one pool.
func (c *CalibrateCommand) Execute(args []string) error {
	cfg := *c.cli.config
	c.apply(&cfg.Elo)
	if c.Bins != nil {
		cfg.Calibration.Bins = *c.Bins
	}
	if c.StartYear != nil {
		cfg.Calibration.StartYear = *c.StartYear
	}
	if c.A != nil {
		cfg.Calibration.A = *c.A
	}
	if c.B != nil {
		cfg.Calibration.B = *c.B
	}
	if c.Seed != nil {
		cfg.Calibration.Seed = *c.Seed
	}
	if err := checkConfig(&cfg); err != nil {
		return err
	}

	matches, err := loadMatches(c.Input, cfg.CSV)
	if err != nil {
		return err
	}
	engine, err := elo.NewEngine(cfg.Elo.EngineConfig(), matches.Input)
	if err != nil {
		return validationError(err)
	}

	report, err := calibration.Evaluate(engine.Fit(), calibration.Options{
		Bins:      cfg.Calibration.Bins,
		StartYear: cfg.Calibration.StartYear,
		A:         cfg.Calibration.A,
		B:         cfg.Calibration.B,
		Seed:      uint64(cfg.Calibration.Seed),
	})
	if err != nil {
		cliErr := &CLIError{
			Code:    ExitCalibrationError,
			Message: fmt.Sprintf("Calibration failed: %v", err),
		}
		switch {
		case errors.Is(err, calibration.ErrStartYearNeedsTime):
			cliErr.Suggestions = []string{"Use '--start-year 0' for match lists without timestamps"}
		case errors.Is(err, calibration.ErrNoOutcomes):
			cliErr.Suggestions = []string{"Pick an earlier --start-year"}
		}
		return cliErr
	}

	if c.Format == "json" {
		enc := json.NewEncoder(c.cli.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return &CLIError{Code: ExitExportError, Message: fmt.Sprintf("Failed to write report: %v", err)}
		}
		return nil
	}

	out := c.cli.Stdout
	fmt.Fprintf(out, "Samples: %d  Brier: %.4f  Log loss: %.4f\n", report.Samples, report.Brier, report.LogLoss)
	fmt.Fprintf(out, "%-10s %-10s %s\n", "PREDICTED", "OBSERVED", "COUNT")
	for _, bin := range report.Curve {
		fmt.Fprintf(out, "%-10.4f %-10.4f %d\n", bin.ProbPred, bin.ProbTrue, bin.Count)
	}
	return nil
}

// BrowseCommand handles 'elohistory browse'
type BrowseCommand struct {
	Input string `long:"input" short:"i" description:"CSV file to fit and browse"`
	RunID string `long:"run-id" description:"Stored run to browse instead of a CSV file"`
	EloOverrides

	Output string `long:"output" short:"o" description:"File written by Ctrl-E"`
	Format string `long:"format" description:"Format of the Ctrl-E export (csv/json/text)"`

	cli *CLI
}

// Execute implements flags.Commander
func (c *BrowseCommand) Execute(args []string) error {
	if (c.Input == "") == (c.RunID == "") {
		return &CLIError{
			Code:    ExitConfigError,
			Message: "Exactly one of --input or --run-id is required",
		}
	}
	cfg := *c.cli.config
	c.apply(&cfg.Elo)
	if err := checkConfig(&cfg); err != nil {
		return err
	}
	opts, err := exportOptions(cfg.Export, c.Format, "", nil)
	if err != nil {
		return err
	}

	history, source, err := c.history(cfg)
	if err != nil {
		return err
	}

	app, err := tui.NewBrowser(history, tui.Options{Source: source, ExportPath: c.Output, ExportOptions: opts})
	if err != nil {
		return &CLIError{Code: ExitConfigError, Message: fmt.Sprintf("Failed to start browser: %v", err)}
	}
	if err := app.Run(); err != nil {
		return &CLIError{Code: ExitConfigError, Message: fmt.Sprintf("Browser failed: %v", err)}
	}
	return nil
}

func (c *BrowseCommand) history(cfg data.Config) (*journal.History, string, error) {
	if c.RunID != "" {
		st, err := c.cli.openStore()
		if err != nil {
			return nil, "", err
		}
		defer func() { _ = st.Close() }()
		history, err := c.cli.loadRun(st, c.RunID)
		return history, "run " + c.RunID, err
	}

	matches, err := loadMatches(c.Input, cfg.CSV)
	if err != nil {
		return nil, "", err
	}
	if matches.Metadata.HasPartitions {
		return nil, "", &CLIError{
			Code:    ExitConfigError,
			Message: "The browser shows one pool at a time",
			Suggestions: []string{
				"Fit with --save and browse a partition with --run-id <run>-<partition>",
			},
		}
	}
	engine, err := elo.NewEngine(cfg.Elo.EngineConfig(), matches.Input)
	if err != nil {
		return nil, "", validationError(err)
	}
	return journal.FromLedger("", engine.Fit()), c.Input, nil
}

// RunsCommand handles 'elohistory runs'
type RunsCommand struct {
	Format string `long:"format" description:"Output format" default:"table" choice:"table" choice:"json"`
	Delete string `long:"delete" description:"Delete the run with this id instead of listing"`

	cli *CLI
}

// Execute implements flags.Commander
func (c *RunsCommand) Execute(args []string) error {
	if err := checkConfig(c.cli.config); err != nil {
		return err
	}
	st, err := c.cli.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if c.Delete != "" {
		if err := st.DeleteRun(c.cli.ctx, c.Delete); err != nil {
			return &CLIError{
				Code:    ExitStoreError,
				Message: fmt.Sprintf("Failed to delete run '%s': %v", c.Delete, err),
				Details: map[string]any{"run_id": c.Delete},
			}
		}
		fmt.Fprintf(c.cli.Stdout, "Deleted run %s\n", c.Delete)
		return nil
	}

	runs, err := st.ListRuns(c.cli.ctx)
	if err != nil {
		return &CLIError{Code: ExitStoreError, Message: fmt.Sprintf("Failed to list runs: %v", err)}
	}

	out := c.cli.Stdout
	if c.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runs); err != nil {
			return &CLIError{Code: ExitExportError, Message: fmt.Sprintf("Failed to write runs: %v", err)}
		}
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No stored runs")
		return nil
	}
	fmt.Fprintf(out, "%-36s %-20s %8s %12s  %s\n", "ID", "CREATED", "MATCHES", "COMPETITORS", "SOURCE")
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s %-20s %8d %12d  %s\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Matches, r.Competitors, r.Source)
	}
	return nil
}

// ExportCommand handles 'elohistory export'
type ExportCommand struct {
	RunID    string `long:"run-id" description:"Stored run to export" required:"true"`
	Output   string `long:"output" short:"o" description:"Output file, stdout when empty"`
	Format   string `long:"format" description:"Export format (csv/json/text), overrides export.format"`
	Since    string `long:"since" description:"Only export rows at or after this date"`
	Decimals *int   `long:"decimals" description:"Decimal places of ratings and probabilities"`

	cli *CLI
}

// Execute implements flags.Commander
func (c *ExportCommand) Execute(args []string) error {
	if err := checkConfig(c.cli.config); err != nil {
		return err
	}
	opts, err := exportOptions(c.cli.config.Export, c.Format, c.Since, c.Decimals)
	if err != nil {
		return err
	}
	st, err := c.cli.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	history, err := c.cli.loadRun(st, c.RunID)
	if err != nil {
		return err
	}
	return c.cli.export(history, c.Output, opts)
}

// ConfigCommand handles 'elohistory config'
type ConfigCommand struct {
	Output string `long:"output" short:"o" description:"Write the configuration to this file, stdout when empty"`

	cli *CLI
}

// Execute implements flags.Commander
func (c *ConfigCommand) Execute(args []string) error {
	if err := checkConfig(c.cli.config); err != nil {
		return err
	}
	if c.Output != "" {
		if err := c.cli.config.SaveToFile(c.Output); err != nil {
			return &CLIError{
				Code:    ExitFileError,
				Message: err.Error(),
				Details: map[string]any{"file": c.Output},
			}
		}
		return nil
	}

	enc := yaml.NewEncoder(c.cli.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(c.cli.config); err != nil {
		return &CLIError{Code: ExitExportError, Message: fmt.Sprintf("Failed to write configuration: %v", err)}
	}
	return enc.Close()
}

// AuditCommand handles 'elohistory audit'
type AuditCommand struct {
	RunID      string   `long:"run-id" description:"Run whose audit log is read" required:"true"`
	Dir        string   `long:"audit-dir" description:"Directory holding the audit logs" default:"audit"`
	Events     []string `long:"event" description:"Only entries of this event type, repeatable" choice:"fit_started" choice:"match_applied" choice:"season_reverted" choice:"fit_completed"`
	Match      string   `long:"match" description:"Only entries of this match id"`
	Competitor string   `long:"competitor" description:"Only matches won or lost by this competitor"`
	Limit      int      `long:"limit" description:"Maximum number of entries, 0 lists all" default:"20"`
	Offset     int      `long:"offset" description:"Number of entries to skip"`
	Format     string   `long:"format" description:"Output format" default:"table" choice:"table" choice:"json"`

	cli *CLI
}

// AuditReport is the JSON form of an audit query
type AuditReport struct {
	Intact     bool                     `json:"intact"`
	Statistics *journal.AuditStatistics `json:"statistics"`
	Result     *journal.QueryResult     `json:"result"`
}

// Execute implements flags.Commander
func (c *AuditCommand) Execute(args []string) error {
	path := journal.AuditLogPath(c.Dir, c.RunID)
	if _, err := os.Stat(path); err != nil {
		return &CLIError{
			Code:        ExitFileError,
			Message:     fmt.Sprintf("No audit log for run '%s': %v", c.RunID, err),
			Details:     map[string]any{"file": path},
			Suggestions: []string{"Record fits with 'elohistory fit --audit-dir " + c.Dir + "'"},
		}
	}

	audit, err := journal.NewAuditTrail(c.RunID, c.Dir)
	if err != nil {
		return auditError(c.RunID, err)
	}
	defer func() { _ = audit.Close() }()
	if err := audit.VerifyIntegrity(); err != nil {
		return auditError(c.RunID, err)
	}

	stats, err := audit.GetStatistics()
	if err != nil {
		return auditError(c.RunID, err)
	}
	query := journal.QueryOptions{
		MatchID:    c.Match,
		Competitor: c.Competitor,
		Limit:      c.Limit,
		Offset:     c.Offset,
	}
	for _, event := range c.Events {
		query.EventTypes = append(query.EventTypes, journal.AuditEventType(event))
	}
	result, err := audit.Query(query)
	if err != nil {
		return auditError(c.RunID, err)
	}

	out := c.cli.Stdout
	if c.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(AuditReport{Intact: true, Statistics: stats, Result: result}); err != nil {
			return &CLIError{Code: ExitExportError, Message: fmt.Sprintf("Failed to write audit report: %v", err)}
		}
		return nil
	}

	fmt.Fprintf(out, "Run: %s  Entries: %d  Integrity: ok\n", stats.RunID, stats.TotalEntries)
	for _, event := range []journal.AuditEventType{
		journal.EventFitStarted, journal.EventMatchApplied, journal.EventSeasonReverted, journal.EventFitCompleted,
	} {
		if n := stats.EventCounts[event]; n > 0 {
			fmt.Fprintf(out, "  %-16s %d\n", event, n)
		}
	}
	fmt.Fprintf(out, "Showing %d of %d matching entries\n", len(result.Entries), result.TotalCount)
	for _, entry := range result.Entries {
		fmt.Fprintf(out, "%6d %s %-16s %s\n",
			entry.Sequence, entry.Timestamp.Local().Format(time.DateTime), entry.EventType, describeEntry(entry))
	}
	if result.HasMore {
		fmt.Fprintln(out, "More entries available, use --offset to page")
	}
	return nil
}

func describeEntry(entry journal.AuditEntry) string {
	d := entry.Data
	switch entry.EventType {
	case journal.EventMatchApplied:
		return fmt.Sprintf("%v: %v beat %v (p=%.3f)", d["match_id"], d["winner"], d["loser"], d["win_prob"])
	case journal.EventSeasonReverted:
		return fmt.Sprintf("year %v, mean %.1f", d["year"], d["mean"])
	case journal.EventFitStarted:
		return fmt.Sprintf("%v matches, %v competitors", d["matches"], d["competitors"])
	case journal.EventFitCompleted:
		return fmt.Sprintf("%v rows in %v", d["rows"], d["elapsed"])
	}
	return ""
}
