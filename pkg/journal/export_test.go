package journal

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/elohistory/pkg/data"
	"github.com/pashagolub/elohistory/pkg/elo"
)

// Helper function to create a fitted history for testing
func createTestHistory(t *testing.T, in elo.Input) *History {
	t.Helper()
	e, err := elo.NewEngine(elo.DefaultConfig(), in)
	require.NoError(t, err)
	return FromLedger("run-1", e.Fit())
}

func fixedExporter() *Exporter {
	return &Exporter{now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }}
}

func TestExporter_CSVExport(t *testing.T) {
	t.Run("single match without timestamps", func(t *testing.T) {
		history := createTestHistory(t, elo.Input{Winners: []string{"A"}, Losers: []string{"B"}})

		var buf bytes.Buffer
		require.NoError(t, NewExporter().ExportCSV(history, &buf, DefaultExportOptions()))
		assert.Equal(t, "id,winner,loser,win_prob,A,B\n0,A,B,0.5000,1510.0000,1490.0000\n", buf.String())
	})

	t.Run("timestamps and full precision", func(t *testing.T) {
		history := createTestHistory(t, elo.Input{
			Winners:    []string{"B", "A"},
			Losers:     []string{"A", "B"},
			IDs:        []string{"late", "early"},
			Timestamps: []string{"2020-01-01", "2019-01-01"},
		})

		options := DefaultExportOptions()
		options.Decimals = -1
		var buf bytes.Buffer
		require.NoError(t, NewExporter().ExportCSV(history, &buf, options))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"id", "timestamp", "winner", "loser", "win_prob", "A", "B"}, records[0])
		assert.Equal(t, []string{"early", "2019-01-01T00:00:00Z", "A", "B", "0.5", "1510", "1490"}, records[1])
		assert.Equal(t, "late", records[2][0])
	})

	t.Run("since filter", func(t *testing.T) {
		history := createTestHistory(t, elo.Input{
			Winners:    []string{"A", "B", "A"},
			Losers:     []string{"B", "A", "B"},
			Timestamps: []string{"2018-06-01", "2019-06-01", "2020-06-01"},
		})

		options := DefaultExportOptions()
		options.Since = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
		var buf bytes.Buffer
		require.NoError(t, NewExporter().ExportCSV(history, &buf, options))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		assert.Len(t, records, 3)
		assert.Equal(t, "1", records[1][0])
	})

	t.Run("since without timestamps", func(t *testing.T) {
		history := createTestHistory(t, elo.Input{Winners: []string{"A"}, Losers: []string{"B"}})

		options := DefaultExportOptions()
		options.Since = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
		err := NewExporter().ExportCSV(history, &bytes.Buffer{}, options)
		assert.ErrorIs(t, err, elo.ErrNoTimestamps)
	})

	t.Run("empty history writes header only", func(t *testing.T) {
		history := createTestHistory(t, elo.Input{Winners: []string{}, Losers: []string{}})

		var buf bytes.Buffer
		require.NoError(t, NewExporter().ExportCSV(history, &buf, DefaultExportOptions()))
		assert.Equal(t, "id,winner,loser,win_prob\n", buf.String())
	})
}

func TestExporter_JSONExport(t *testing.T) {
	history := createTestHistory(t, elo.Input{
		Winners:    []string{"A", "C"},
		Losers:     []string{"B", "A"},
		IDs:        []string{"g1", "g2"},
		Timestamps: []string{"2019-01-01", "2019-02-01"},
	})

	options := DefaultExportOptions()
	options.Format = FormatJSON
	var buf bytes.Buffer
	require.NoError(t, fixedExporter().Export(history, &buf, options))

	var export LedgerExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))

	assert.Equal(t, "run-1", export.RunID)
	assert.Equal(t, elo.DefaultConfig(), export.Config)
	assert.Equal(t, []string{"A", "B", "C"}, export.Competitors)
	require.Len(t, export.Rows, 2)
	assert.Equal(t, "g1", export.Rows[0].ID)
	require.NotNil(t, export.Rows[0].Timestamp)
	assert.Equal(t, 1510.0, export.Rows[0].Ratings["A"])
	assert.Equal(t, 1500.0, export.Rows[0].Ratings["C"])

	require.Len(t, export.Standings, 3)
	assert.Equal(t, 1, export.Standings[0].Rank)
	assert.Equal(t, "C", export.Standings[0].Competitor)
	assert.Equal(t, 1, export.Standings[0].Wins)
	assert.Equal(t, "B", export.Standings[2].Competitor)
}

func TestExporter_Report(t *testing.T) {
	history := createTestHistory(t, elo.Input{
		Winners:    []string{"A", "A", "B"},
		Losers:     []string{"B", "C", "C"},
		Timestamps: []string{"2019-01-01", "2019-01-02", "2019-01-03"},
	})

	options := DefaultExportOptions()
	options.Format = FormatText
	options.Recent = 2
	var buf bytes.Buffer
	require.NoError(t, fixedExporter().Export(history, &buf, options))

	report := buf.String()
	assert.Contains(t, report, "Rating History Report")
	assert.Contains(t, report, "Run ID: run-1")
	assert.Contains(t, report, "Generated: 2024-05-01 12:00:00")
	assert.Contains(t, report, "Matches: 3 | Competitors: 3")
	assert.Contains(t, report, "Period: 2019-01-01 - 2019-01-03")
	assert.Contains(t, report, "  1. A")
	assert.Contains(t, report, "(2-0)")
	assert.Contains(t, report, "[2] B beat C")
	assert.NotContains(t, report, "[0] A beat B")
}

func TestExporter_FileOperations(t *testing.T) {
	history := createTestHistory(t, elo.Input{Winners: []string{"A"}, Losers: []string{"B"}})
	tempDir := t.TempDir()

	t.Run("creates directories", func(t *testing.T) {
		path := filepath.Join(tempDir, "nested", "out.csv")
		require.NoError(t, NewExporter().ExportToFile(history, path, DefaultExportOptions()))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "id,winner,loser"))
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("unsupported format keeps the old file", func(t *testing.T) {
		path := filepath.Join(tempDir, "out.txt")
		require.NoError(t, os.WriteFile(path, []byte("previous"), 0644))

		options := DefaultExportOptions()
		options.Format = "xml"
		err := NewExporter().ExportToFile(history, path, options)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "previous", string(data))
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("target that cannot be replaced", func(t *testing.T) {
		path := filepath.Join(tempDir, "occupied")
		require.NoError(t, os.Mkdir(path, 0755))

		err := NewExporter().ExportToFile(history, path, DefaultExportOptions())
		assert.ErrorIs(t, err, data.ErrAtomicWrite)
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})
}

func TestHistory_Standings(t *testing.T) {
	t.Run("no matches keeps initial ratings in name order", func(t *testing.T) {
		h := &History{Config: elo.DefaultConfig(), Competitors: []string{"B", "A"}}
		standings := h.Standings()
		require.Len(t, standings, 2)
		assert.Equal(t, "A", standings[0].Competitor)
		assert.Equal(t, 1500.0, standings[0].Rating)
		assert.Equal(t, 2, standings[1].Rank)
	})

	t.Run("counts wins and losses", func(t *testing.T) {
		history := createTestHistory(t, elo.Input{Winners: []string{"A", "A", "B"}, Losers: []string{"B", "B", "A"}})
		standings := history.Standings()
		assert.Equal(t, "A", standings[0].Competitor)
		assert.Equal(t, 2, standings[0].Wins)
		assert.Equal(t, 1, standings[0].Losses)
		assert.Equal(t, 3, standings[0].Matches)
	})
}
