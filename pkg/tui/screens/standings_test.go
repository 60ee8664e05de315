package screens

import (
	"errors"
	"testing"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
)

// mockApp implements what the screens expect from the application
type mockApp struct {
	history *journal.History
	err     error
	focused tview.Primitive
}

func (m *mockApp) GetHistory() (*journal.History, error) {
	return m.history, m.err
}

func (m *mockApp) SetFocus(p tview.Primitive) {
	m.focused = p
}

func fitHistory(t *testing.T, in elo.Input) *journal.History {
	t.Helper()
	e, err := elo.NewEngine(elo.DefaultConfig(), in)
	require.NoError(t, err)
	return journal.FromLedger("test", e.Fit())
}

// createTestHistory: Ann beats everybody, Bob wins twice, Cid once, Dee never
func createTestHistory(t *testing.T) *journal.History {
	return fitHistory(t, elo.Input{
		Winners:    []string{"Ann", "Ann", "Bob", "Ann", "Bob", "Cid"},
		Losers:     []string{"Bob", "Cid", "Cid", "Dee", "Dee", "Dee"},
		IDs:        []string{"m1", "m2", "m3", "m4", "m5", "m6"},
		Timestamps: []string{"2019-01-01", "2019-02-01", "2019-03-01", "2020-01-01", "2020-02-01", "2020-03-01"},
	})
}

func competitorsInTable(table *tview.Table) []string {
	out := make([]string, 0, table.GetRowCount()-1)
	for row := 1; row < table.GetRowCount(); row++ {
		out = append(out, table.GetCell(row, 1).Text)
	}
	return out
}

func TestNewStandingsScreen(t *testing.T) {
	screen := NewStandingsScreen()
	require.NotNil(t, screen)
	assert.Equal(t, screen.container, screen.GetPrimitive())
	assert.Equal(t, SortByRank, screen.sortField)
	assert.Equal(t, SortAsc, screen.sortOrder)
	assert.Equal(t, "Standings (0 competitors)", screen.GetTitle())
	assert.NotEmpty(t, screen.GetHelpText())
	assert.NoError(t, screen.OnExit(nil))
}

func TestStandingsScreen_OnEnter(t *testing.T) {
	t.Run("loads the standings", func(t *testing.T) {
		screen := NewStandingsScreen()
		require.NoError(t, screen.OnEnter(&mockApp{history: createTestHistory(t)}))

		assert.Equal(t, "Standings (4 competitors)", screen.GetTitle())
		assert.Equal(t, []string{"Ann", "Bob", "Cid", "Dee"}, competitorsInTable(screen.standingsTable))
		assert.Equal(t, "3", screen.standingsTable.GetCell(1, 4).Text, "Ann wins")
		assert.Equal(t, "100%", screen.standingsTable.GetCell(1, 6).Text)
		assert.Contains(t, screen.statisticsPanel.GetText(true), "Total: 4")
	})

	t.Run("application without history", func(t *testing.T) {
		screen := NewStandingsScreen()
		assert.ErrorIs(t, screen.OnEnter(struct{}{}), ErrNoHistory)
	})

	t.Run("history error", func(t *testing.T) {
		boom := errors.New("boom")
		screen := NewStandingsScreen()
		assert.ErrorIs(t, screen.OnEnter(&mockApp{err: boom}), boom)
	})
}

func TestStandingsScreen_Sort(t *testing.T) {
	screen := NewStandingsScreen()
	require.NoError(t, screen.OnEnter(&mockApp{history: createTestHistory(t)}))

	tests := []struct {
		field SortField
		order SortOrder
		want  []string
	}{
		{SortByRank, SortAsc, []string{"Ann", "Bob", "Cid", "Dee"}},
		{SortByRank, SortDesc, []string{"Dee", "Cid", "Bob", "Ann"}},
		{SortByName, SortDesc, []string{"Dee", "Cid", "Bob", "Ann"}},
		{SortByMatches, SortAsc, []string{"Ann", "Bob", "Cid", "Dee"}}, // everybody played three
		{SortByWinRate, SortAsc, []string{"Ann", "Bob", "Cid", "Dee"}},
	}
	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			screen.sortField = tt.field
			screen.sortOrder = tt.order
			screen.refresh()
			assert.Equal(t, tt.want, competitorsInTable(screen.standingsTable))
		})
	}
}

func TestStandingsScreen_CycleAndToggle(t *testing.T) {
	screen := NewStandingsScreen()
	require.NoError(t, screen.OnEnter(&mockApp{history: createTestHistory(t)}))

	for i := 1; i <= int(sortFieldCount); i++ {
		screen.cycleSortField()
		assert.Equal(t, SortField(i%int(sortFieldCount)), screen.sortField)
	}

	screen.toggleSortOrder()
	assert.Equal(t, SortDesc, screen.sortOrder)
	screen.toggleSortOrder()
	assert.Equal(t, SortAsc, screen.sortOrder)

	assert.Equal(t, "unknown", SortField(-1).String())
}

func TestStandingsScreen_Filter(t *testing.T) {
	app := &mockApp{history: createTestHistory(t)}
	screen := NewStandingsScreen()
	require.NoError(t, screen.OnEnter(app))

	search := screen.filterForm.GetFormItemByLabel("Search:").(*tview.InputField)
	search.SetText("b")
	assert.Equal(t, []string{"Bob"}, competitorsInTable(screen.standingsTable))
	assert.Equal(t, "Standings (1/4 competitors)", screen.GetTitle())

	search.SetText("")
	screen.filterForm.GetFormItemByLabel("Min Rating:").(*tview.InputField).SetText("1500")
	for _, name := range competitorsInTable(screen.standingsTable) {
		assert.NotEqual(t, "Dee", name)
	}

	screen.filterForm.GetFormItemByLabel("Min Rating:").(*tview.InputField).SetText("not a number")
	assert.Equal(t, 1500.0, screen.filter.MinRating, "invalid input keeps the previous value")

	screen.clearFilters()
	assert.Equal(t, defaultFilter(), screen.filter)
	assert.Len(t, competitorsInTable(screen.standingsTable), 4)

	screen.focusFilterForm()
	assert.Equal(t, screen.filterForm, app.focused)
}

func TestStandingsScreen_EmptyHistory(t *testing.T) {
	screen := NewStandingsScreen()
	require.NoError(t, screen.OnEnter(&mockApp{history: fitHistory(t, elo.Input{Winners: []string{}, Losers: []string{}})}))
	assert.Equal(t, 1, screen.standingsTable.GetRowCount())
	assert.Contains(t, screen.statisticsPanel.GetText(true), "No competitors")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ÄÖÜäöüß...", truncate("ÄÖÜäöüßÄÖÜäöüß", 10))
}
