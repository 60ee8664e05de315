package screens

import (
	"testing"
	"time"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/tui/components"
)

func idsInTable(table *tview.Table) []string {
	out := make([]string, 0, table.GetRowCount()-1)
	for row := 1; row < table.GetRowCount(); row++ {
		out = append(out, table.GetCell(row, 0).Text)
	}
	return out
}

func enterLedger(t *testing.T) (*LedgerScreen, *mockApp) {
	t.Helper()
	app := &mockApp{history: createTestHistory(t)}
	screen := NewLedgerScreen()
	require.NoError(t, screen.OnEnter(app))
	return screen, app
}

func TestLedgerScreen_OnEnter(t *testing.T) {
	screen, _ := enterLedger(t)

	assert.Equal(t, "Ledger (6 matches)", screen.GetTitle())
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, idsInTable(screen.ledgerTable))
	assert.Equal(t, "Time", screen.ledgerTable.GetCell(0, 1).Text)
	assert.Equal(t, "2019-01-01 00:00:00", screen.ledgerTable.GetCell(1, 1).Text)
	assert.Equal(t, "Ann", screen.ledgerTable.GetCell(1, 2).Text)
	assert.Equal(t, "0.500", screen.ledgerTable.GetCell(1, 4).Text)
	assert.Equal(t, "1510.0", screen.ledgerTable.GetCell(1, 5).Text)
	assert.Equal(t, "1490.0", screen.ledgerTable.GetCell(1, 6).Text)

	snapshot := screen.snapshot.GetText(true)
	assert.Contains(t, snapshot, "After m1")
	assert.Contains(t, snapshot, "1510.0")

	assert.ErrorIs(t, NewLedgerScreen().OnEnter(struct{}{}), ErrNoHistory)
	assert.NoError(t, screen.OnExit(nil))
	assert.NotEmpty(t, screen.GetHelpText())
}

func TestLedgerScreen_WithoutTimestamps(t *testing.T) {
	screen := NewLedgerScreen()
	require.NoError(t, screen.OnEnter(&mockApp{history: fitHistory(t, elo.Input{
		Winners: []string{"A", "B"},
		Losers:  []string{"B", "A"},
	})}))

	assert.Equal(t, "Winner", screen.ledgerTable.GetCell(0, 1).Text)
	assert.Equal(t, []string{"0", "1"}, idsInTable(screen.ledgerTable))

	screen.filterForm.GetFormItemByLabel("Since:").(*tview.InputField).SetText("2020-01-01")
	assert.ErrorIs(t, screen.sinceErr, elo.ErrNoTimestamps)
	assert.Len(t, screen.filtered, 2, "a failing date filter keeps every row")
	assert.Contains(t, screen.statusBar.GetText(true), "timestamps")
}

func TestLedgerScreen_SnapshotFollowsSelection(t *testing.T) {
	screen, _ := enterLedger(t)

	screen.ledgerTable.Select(6, 0)
	snapshot := screen.snapshot.GetText(true)
	assert.Contains(t, snapshot, "After m6")
	assert.Equal(t, components.Position{Row: 6, Rows: 6, Year: 2020, Season: 2, Seasons: 2, SeasonRow: 3, SeasonRows: 3},
		screen.position.GetPosition())
	assert.Contains(t, snapshot, "  1. Ann")
	assert.Contains(t, snapshot, "  4. Dee")

	row, ok := screen.selectedRow(3)
	require.True(t, ok)
	assert.Equal(t, "m3", row.ID)

	_, ok = screen.selectedRow(0)
	assert.False(t, ok, "the header row holds no match")
	screen.updateSnapshot(99)
	assert.Contains(t, screen.snapshot.GetText(true), "No match selected")
	assert.Equal(t, components.Position{Rows: 6}, screen.position.GetPosition())

	t.Run("position follows the history, not the filtered view", func(t *testing.T) {
		screen.filter = LedgerFilter{Competitor: "dee"}
		screen.refresh()
		assert.Equal(t, 4, screen.position.GetPosition().Row, "m4 is the first match of Dee")
		assert.Equal(t, 1, screen.position.GetPosition().SeasonRow)
	})
}

func TestLedgerScreen_Filter(t *testing.T) {
	screen, app := enterLedger(t)

	tests := []struct {
		name   string
		filter LedgerFilter
		want   []string
	}{
		{"no filter", LedgerFilter{}, []string{"m1", "m2", "m3", "m4", "m5", "m6"}},
		{"competitor", LedgerFilter{Competitor: "cid"}, []string{"m2", "m3", "m6"}},
		{"since", LedgerFilter{Since: mustParse(t, "2020-01-01")}, []string{"m4", "m5", "m6"}},
		{"competitor since", LedgerFilter{Competitor: "bob", Since: mustParse(t, "2019-02-15")}, []string{"m3", "m5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			screen.filter = tt.filter
			screen.refresh()
			assert.Equal(t, tt.want, idsInTable(screen.ledgerTable))
		})
	}

	t.Run("form fields", func(t *testing.T) {
		screen.clearFilters()
		screen.filterForm.GetFormItemByLabel("Competitor:").(*tview.InputField).SetText("Dee")
		assert.Equal(t, []string{"m4", "m5", "m6"}, idsInTable(screen.ledgerTable))
		assert.Equal(t, "Ledger (3/6 matches)", screen.GetTitle())

		screen.filterForm.GetFormItemByLabel("Since:").(*tview.InputField).SetText("2020-02-01")
		assert.Equal(t, []string{"m5", "m6"}, idsInTable(screen.ledgerTable))

		// an invalid date keeps the previous filter
		screen.filterForm.GetFormItemByLabel("Since:").(*tview.InputField).SetText("2020-13-45")
		assert.Equal(t, mustParse(t, "2020-02-01"), screen.filter.Since)

		screen.clearFilters()
		assert.Equal(t, LedgerFilter{}, screen.filter)
		assert.Len(t, idsInTable(screen.ledgerTable), 6)
	})

	t.Run("upsets", func(t *testing.T) {
		screen.clearFilters()
		screen.toggleUpsets()
		assert.True(t, screen.filter.UpsetsOnly)
		for _, r := range screen.filtered {
			assert.Less(t, r.WinProb, 0.5)
		}
		checkbox := screen.filterForm.GetFormItemByLabel("Upsets only:").(*tview.Checkbox)
		assert.True(t, checkbox.IsChecked())

		screen.toggleUpsets()
		assert.False(t, screen.filter.UpsetsOnly)
		assert.Len(t, screen.filtered, 6)
	})

	t.Run("focus", func(t *testing.T) {
		screen.focus(screen.filterForm)
		assert.Equal(t, screen.filterForm, app.focused)
	})
}

func mustParse(t *testing.T, raw string) time.Time {
	t.Helper()
	ts, err := elo.ParseTimestamp(raw)
	require.NoError(t, err)
	return ts
}
