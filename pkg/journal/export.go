package journal

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pashagolub/elohistory/pkg/data"
	"github.com/pashagolub/elohistory/pkg/elo"
)

// ErrUnsupportedFormat is returned for unknown export formats
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportFormat represents the format for exporting results
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatText ExportFormat = "text"
)

// ExportOptions configures export behavior
type ExportOptions struct {
	Format   ExportFormat `json:"format"`          // Export format (csv, json, text)
	Decimals int          `json:"decimals"`        // Rounding of ratings and probabilities, negative keeps full precision
	Since    time.Time    `json:"since,omitempty"` // Only rows at or after this time, zero exports everything
	Recent   int          `json:"recent"`          // Matches listed by the text report
}

// DefaultExportOptions returns sensible export defaults
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Format:   FormatCSV,
		Decimals: 4,
		Recent:   10,
	}
}

// LedgerExport is the JSON document of a rating history
type LedgerExport struct {
	RunID       string        `json:"run_id,omitempty"`
	ExportedAt  time.Time     `json:"exported_at"`
	Config      elo.Config    `json:"config"`
	Competitors []string      `json:"competitors"`
	Rows        []ExportedRow `json:"rows"`
	Standings   []Standing    `json:"standings"`
}

// ExportedRow is a ledger row with ratings keyed by competitor
type ExportedRow struct {
	ID        string             `json:"id"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
	Winner    string             `json:"winner"`
	Loser     string             `json:"loser"`
	WinProb   float64            `json:"win_prob"`
	Ratings   map[string]float64 `json:"ratings"`
}

// Exporter writes rating histories
type Exporter struct {
	now func() time.Time
}

// NewExporter creates a new exporter instance
func NewExporter() *Exporter {
	return &Exporter{now: time.Now}
}

// Export writes the history to writer in the configured format
func (e *Exporter) Export(history *History, writer io.Writer, options ExportOptions) error {
	switch options.Format {
	case FormatCSV:
		return e.ExportCSV(history, writer, options)
	case FormatJSON:
		return e.ExportJSON(history, writer, options)
	case FormatText:
		return e.ExportReport(history, writer, options)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, options.Format)
}

// ExportToFile exports the history to a file, replacing it atomically
func (e *Exporter) ExportToFile(history *History, filePath string, options ExportOptions) (err error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	err = data.WriteFileAtomic(filePath, func(w io.Writer) error {
		return e.Export(history, w, options)
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

// ExportCSV writes one line per row: id, timestamp (when present), winner,
// loser, win_prob, then one column per competitor in snapshot order.
func (e *Exporter) ExportCSV(history *History, writer io.Writer, options ExportOptions) error {
	rows, err := history.Since(options.Since)
	if err != nil {
		return err
	}

	csvWriter := csv.NewWriter(writer)

	headers := []string{"id"}
	if history.HasTimestamps {
		headers = append(headers, "timestamp")
	}
	headers = append(headers, "winner", "loser", "win_prob")
	headers = append(headers, history.Competitors...)
	if err := csvWriter.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		record := make([]string, 0, len(headers))
		record = append(record, row.ID)
		if history.HasTimestamps {
			record = append(record, row.Timestamp.Format(time.RFC3339))
		}
		record = append(record, row.Winner, row.Loser, formatFloat(row.WinProb, options.Decimals))
		for _, r := range row.Ratings {
			record = append(record, formatFloat(r, options.Decimals))
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for match %s: %w", row.ID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ExportJSON writes the history as a single JSON document
func (e *Exporter) ExportJSON(history *History, writer io.Writer, options ExportOptions) error {
	rows, err := history.Since(options.Since)
	if err != nil {
		return err
	}

	export := &LedgerExport{
		RunID:       history.RunID,
		ExportedAt:  e.now().UTC(),
		Config:      history.Config,
		Competitors: history.Competitors,
		Rows:        make([]ExportedRow, 0, len(rows)),
		Standings:   history.Standings(),
	}
	for i := range export.Standings {
		export.Standings[i].Rating = roundTo(export.Standings[i].Rating, options.Decimals)
	}

	for _, row := range rows {
		out := ExportedRow{
			ID:      row.ID,
			Winner:  row.Winner,
			Loser:   row.Loser,
			WinProb: roundTo(row.WinProb, options.Decimals),
			Ratings: make(map[string]float64, len(row.Ratings)),
		}
		if history.HasTimestamps {
			ts := row.Timestamp
			out.Timestamp = &ts
		}
		for i, r := range row.Ratings {
			out.Ratings[history.Competitors[i]] = roundTo(r, options.Decimals)
		}
		export.Rows = append(export.Rows, out)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportReport generates a human-readable text report
func (e *Exporter) ExportReport(history *History, writer io.Writer, options ExportOptions) error {
	rows, err := history.Since(options.Since)
	if err != nil {
		return err
	}

	w := &errWriter{w: writer}
	w.printf("Rating History Report\n")
	w.printf("=====================\n\n")
	if history.RunID != "" {
		w.printf("Run ID: %s\n", history.RunID)
	}
	w.printf("Generated: %s\n", e.now().Format("2006-01-02 15:04:05"))
	w.printf("K: %d | Initial rating: %d | Scale: %d | Seasonal reversion: %g\n",
		history.Config.K, history.Config.InitialRating, history.Config.Scale, history.Config.SeasonalMeanReversion)
	w.printf("Matches: %d | Competitors: %d\n", len(history.Rows), len(history.Competitors))
	if history.HasTimestamps && len(history.Rows) > 0 {
		w.printf("Period: %s - %s\n",
			history.Rows[0].Timestamp.Format("2006-01-02"),
			history.Rows[len(history.Rows)-1].Timestamp.Format("2006-01-02"))
	}
	w.printf("\n")

	w.printf("Final Standings\n")
	w.printf("===============\n\n")
	for _, s := range history.Standings() {
		w.printf("%3d. %-24s %s  (%d-%d)\n", s.Rank, s.Competitor, formatFloat(s.Rating, 1), s.Wins, s.Losses)
	}
	w.printf("\n")

	recent := options.Recent
	if recent <= 0 || recent > len(rows) {
		recent = len(rows)
	}
	if recent > 0 {
		w.printf("Recent Matches\n")
		w.printf("==============\n\n")
		for _, row := range rows[len(rows)-recent:] {
			if history.HasTimestamps {
				w.printf("%s ", row.Timestamp.Format("2006-01-02"))
			}
			w.printf("[%s] %s beat %s (p=%s)\n", row.ID, row.Winner, row.Loser, formatFloat(row.WinProb, 3))
		}
	}
	return w.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// formatFloat formats a float with the given number of decimals, or the
// shortest exact representation when decimals is negative
func formatFloat(f float64, decimals int) string {
	return strconv.FormatFloat(f, 'f', decimals, 64)
}

func roundTo(f float64, decimals int) float64 {
	if decimals < 0 {
		return f
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(f*pow) / pow
}
