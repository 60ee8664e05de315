package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
	"github.com/pashagolub/elohistory/pkg/logger"
	"github.com/pashagolub/elohistory/pkg/metrics"
)

// FitCommand handles 'elohistory fit'
type FitCommand struct {
	Input string `long:"input" short:"i" description:"CSV file with one match per row" required:"true"`
	EloOverrides

	Partition   string `long:"partition-column" description:"Fit the pools split by this column concurrently, overrides csv.partition_column"`
	Output      string `long:"output" short:"o" description:"Output file, stdout when empty"`
	Format      string `long:"format" description:"Export format (csv/json/text), overrides export.format"`
	Since       string `long:"since" description:"Only export rows at or after this date"`
	Decimals    *int   `long:"decimals" description:"Decimal places of ratings and probabilities"`
	RunID       string `long:"run-id" description:"Run identifier, generated when empty"`
	Save        bool   `long:"save" description:"Store the run in the configured database"`
	MetricsFile string `long:"metrics-file" description:"Write the fit metrics in Prometheus text format to this file"`
	AuditDir    string `long:"audit-dir" description:"Record the fit in a hash-chained audit log inside this directory"`

	cli *CLI
}

// Execute implements flags.Commander
func (c *FitCommand) Execute(args []string) error {
	ctx := c.cli.ctx
	cfg := *c.cli.config
	c.apply(&cfg.Elo)
	if c.Partition != "" {
		cfg.CSV.PartitionColumn = c.Partition
	}
	if err := checkConfig(&cfg); err != nil {
		return err
	}
	opts, err := exportOptions(cfg.Export, c.Format, c.Since, c.Decimals)
	if err != nil {
		return err
	}

	matches, err := loadMatches(c.Input, cfg.CSV)
	if err != nil {
		return err
	}
	partitioned := matches.Metadata.HasPartitions
	if partitioned && c.Output == "" {
		return &CLIError{
			Code:        ExitConfigError,
			Message:     "A partitioned fit writes one file per partition and needs --output",
			Suggestions: []string{"Add '--output ratings.csv' to get ratings-<partition>.csv files"},
		}
	}
	if partitioned && c.AuditDir != "" {
		return &CLIError{
			Code:    ExitConfigError,
			Message: "The audit trail records a single pool, it cannot follow a partitioned fit",
		}
	}

	runID := c.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := c.cli.log.Named("fit")
	log.Debug(ctx, "matches loaded",
		logger.String("file", c.Input),
		logger.Int("rows", matches.SuccessfulRows),
		logger.Int("skipped", len(matches.SkippedRows)))

	mgr := metrics.NewManager(
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithSubsystem(cfg.Metrics.Subsystem),
		metrics.WithHistogramBuckets(cfg.Metrics.DurationBuckets),
		metrics.WithConstLabels(map[string]string{"input": filepath.Base(c.Input)}),
	)
	observers := []elo.Option{
		elo.WithObserver(mgr),
		elo.WithObserver(newLogObserver(ctx, log)),
	}

	engineConfig := cfg.Elo.EngineConfig()
	keys := []string{""}
	var histories []*journal.History
	if partitioned {
		var parts []elo.Input
		keys, parts = matches.SplitPartitions()
		ledgers, err := elo.FitPartitions(ctx, engineConfig, parts, observers...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &CLIError{Code: ExitValidationError, Message: fmt.Sprintf("Fit interrupted: %v", ctxErr)}
			}
			return validationError(err)
		}
		for i, ledger := range ledgers {
			histories = append(histories, journal.FromLedger(runID+"-"+keys[i], ledger))
		}
	} else {
		history, err := c.fit(engineConfig, matches.Input, runID, observers)
		if err != nil {
			return err
		}
		histories = append(histories, history)
	}

	for i, history := range histories {
		if err := c.cli.export(history, partitionPath(c.Output, keys[i]), opts); err != nil {
			return err
		}
	}

	if c.Save {
		if err := c.save(histories); err != nil {
			return err
		}
	}

	if c.MetricsFile != "" {
		if err := mgr.WriteTextfile(c.MetricsFile); err != nil {
			return &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to write metrics: %v", err),
				Details: map[string]any{"file": c.MetricsFile},
			}
		}
	}

	for _, history := range histories {
		log.Info(ctx, "fit completed",
			logger.String("run_id", history.RunID),
			logger.Int("matches", len(history.Rows)),
			logger.Int("competitors", len(history.Competitors)))
	}
	return nil
}

// fit runs a single pool, optionally recording it in the audit trail
func (c *FitCommand) fit(cfg elo.Config, in elo.Input, runID string, opts []elo.Option) (*journal.History, error) {
	if c.AuditDir == "" {
		engine, err := elo.NewEngine(cfg, in, opts...)
		if err != nil {
			return nil, validationError(err)
		}
		return journal.FromLedger(runID, engine.Fit()), nil
	}

	// the log is only opened for a batch that passed validation
	if _, err := elo.Validate(cfg, in); err != nil {
		return nil, validationError(err)
	}
	audit, err := journal.NewAuditTrail(runID, c.AuditDir)
	if err != nil {
		return nil, auditError(runID, err)
	}
	engine, err := elo.NewEngine(cfg, in, append(opts, elo.WithObserver(audit))...)
	if err != nil {
		_ = audit.Close()
		return nil, validationError(err)
	}
	batch := engine.Batch()
	if err := audit.LogFitStarted(engine.Config(), batch.Competitors, len(batch.Matches)); err != nil {
		_ = audit.Close()
		return nil, auditError(runID, err)
	}
	ledger := engine.Fit()
	if err := errors.Join(audit.Err(), audit.Close()); err != nil {
		return nil, auditError(runID, err)
	}
	return journal.FromLedger(runID, ledger), nil
}

func (c *FitCommand) save(histories []*journal.History) error {
	st, err := c.cli.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	for _, history := range histories {
		id, err := st.SaveRun(c.cli.ctx, history, c.Input)
		if err != nil {
			return &CLIError{
				Code:    ExitStoreError,
				Message: fmt.Sprintf("Failed to save run '%s': %v", history.RunID, err),
				Details: map[string]any{"run_id": history.RunID},
				Suggestions: []string{
					"Pick another --run-id or delete the old run with 'elohistory runs --delete'",
				},
			}
		}
		c.cli.log.Info(c.cli.ctx, "run saved", logger.String("run_id", id))
	}
	return nil
}

func auditError(runID string, err error) *CLIError {
	return &CLIError{
		Code:    ExitAuditError,
		Message: fmt.Sprintf("Audit trail of run '%s' failed: %v", runID, err),
		Details: map[string]any{"run_id": runID},
	}
}
