// Package screens provides the TUI screens of the rating history browser.
// This file implements the standings screen, where users view the final
// ratings of every competitor, sort and filter them.
package screens

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pashagolub/elohistory/pkg/journal"
)

// SortOrder represents the sorting direction for standings
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

// SortField represents the field to sort standings by
type SortField int

const (
	SortByRank SortField = iota
	SortByRating
	SortByName
	SortByMatches
	SortByWinRate
	sortFieldCount
)

var sortFieldNames = []string{"Rank", "Rating", "Name", "Matches", "Win %"}

// String returns the display name of the sort field
func (f SortField) String() string {
	if f < 0 || f >= sortFieldCount {
		return "unknown"
	}
	return sortFieldNames[f]
}

// FilterCriteria holds the current filtering settings
type FilterCriteria struct {
	SearchText string  // Substring of the competitor name
	MinRating  float64 // Minimum final rating
	MaxRating  float64 // Maximum final rating
	MinMatches int     // Minimum number of matches played
}

func defaultFilter() FilterCriteria {
	return FilterCriteria{MinRating: 0, MaxRating: 5000}
}

// ErrNoHistory is returned when a screen is entered without a history to show
var ErrNoHistory = errors.New("application does not provide a history")

// HistoryProvider is what the screens need from the application
type HistoryProvider interface {
	GetHistory() (*journal.History, error)
}

// StandingsScreen implements the standings display
type StandingsScreen struct {
	container     *tview.Flex
	mainLayout    *tview.Flex
	sidebarLayout *tview.Flex

	standingsTable  *tview.Table
	filterForm      *tview.Form
	statisticsPanel *tview.TextView
	statusBar       *tview.TextView
	helpBar         *tview.TextView

	standings []journal.Standing
	filtered  []journal.Standing
	sortField SortField
	sortOrder SortOrder
	filter    FilterCriteria

	app any
}

// NewStandingsScreen creates a new standings screen instance
func NewStandingsScreen() *StandingsScreen {
	ss := &StandingsScreen{
		container:       tview.NewFlex(),
		mainLayout:      tview.NewFlex(),
		sidebarLayout:   tview.NewFlex(),
		standingsTable:  tview.NewTable(),
		filterForm:      tview.NewForm(),
		statisticsPanel: tview.NewTextView(),
		statusBar:       tview.NewTextView(),
		helpBar:         tview.NewTextView(),
		sortField:       SortByRank,
		sortOrder:       SortAsc,
		filter:          defaultFilter(),
	}

	ss.setupUI()
	ss.setupKeyBindings()

	return ss
}

// GetPrimitive returns the main primitive for the standings screen
func (ss *StandingsScreen) GetPrimitive() tview.Primitive {
	return ss.container
}

// OnEnter is called when the standings screen becomes active
func (ss *StandingsScreen) OnEnter(app any) error {
	ss.app = app
	if err := ss.loadStandings(); err != nil {
		return fmt.Errorf("failed to load standings: %w", err)
	}
	ss.applyFilterAndSort()
	ss.updateDisplay()
	return nil
}

// OnExit is called when leaving the standings screen
func (ss *StandingsScreen) OnExit(app any) error {
	return nil
}

// GetTitle returns the screen title
func (ss *StandingsScreen) GetTitle() string {
	if len(ss.filtered) != len(ss.standings) {
		return fmt.Sprintf("Standings (%d/%d competitors)", len(ss.filtered), len(ss.standings))
	}
	return fmt.Sprintf("Standings (%d competitors)", len(ss.standings))
}

// GetHelpText returns help text for the standings screen
func (ss *StandingsScreen) GetHelpText() []string {
	return []string{
		"Arrow Keys: Navigate standings",
		"S: Change sort field",
		"O: Toggle sort order",
		"F: Focus filter panel",
		"C: Clear all filters",
	}
}

func (ss *StandingsScreen) setupUI() {
	ss.standingsTable.SetBorder(true).
		SetTitle(" Standings ").
		SetTitleAlign(tview.AlignLeft)
	ss.standingsTable.SetSelectable(true, false).
		SetFixed(1, 0)
	ss.setupTableHeaders()

	ss.setupFilterForm()

	ss.statisticsPanel.SetBorder(true).
		SetTitle(" Statistics ").
		SetTitleAlign(tview.AlignLeft)
	ss.statisticsPanel.SetDynamicColors(true)

	ss.statusBar.SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)

	ss.helpBar.SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]S:Sort  O:Order  F:Filter  C:Clear[white]")

	ss.sidebarLayout.SetDirection(tview.FlexRow).
		AddItem(ss.filterForm, 0, 2, false).
		AddItem(ss.statisticsPanel, 0, 1, false)

	ss.mainLayout.SetDirection(tview.FlexColumn).
		AddItem(ss.standingsTable, 0, 3, true).
		AddItem(ss.sidebarLayout, 40, 1, false)

	ss.container.SetDirection(tview.FlexRow).
		AddItem(ss.mainLayout, 0, 1, true).
		AddItem(ss.statusBar, 1, 1, false).
		AddItem(ss.helpBar, 1, 1, false)
}

func (ss *StandingsScreen) setupTableHeaders() {
	headers := []string{"Rank", "Competitor", "Rating", "Matches", "W", "L", "Win %"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false).
			SetExpansion(1)
		if col == 1 {
			cell.SetExpansion(3)
		}
		ss.standingsTable.SetCell(0, col, cell)
	}
}

func (ss *StandingsScreen) setupFilterForm() {
	ss.filterForm.SetBorder(true).
		SetTitle(" Filters ").
		SetTitleAlign(tview.AlignLeft)

	ss.filterForm.AddInputField("Search:", "", 20, nil, func(text string) {
		ss.filter.SearchText = text
		ss.refresh()
	})
	ss.filterForm.AddInputField("Min Rating:", formatRating(ss.filter.MinRating), 10, nil, func(text string) {
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			ss.filter.MinRating = v
			ss.refresh()
		}
	})
	ss.filterForm.AddInputField("Max Rating:", formatRating(ss.filter.MaxRating), 10, nil, func(text string) {
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			ss.filter.MaxRating = v
			ss.refresh()
		}
	})
	ss.filterForm.AddInputField("Min Matches:", "0", 10, nil, func(text string) {
		if v, err := strconv.Atoi(text); err == nil {
			ss.filter.MinMatches = v
			ss.refresh()
		}
	})
	ss.filterForm.AddButton("Clear All", ss.clearFilters)
}

func (ss *StandingsScreen) setupKeyBindings() {
	ss.standingsTable.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 's', 'S':
			ss.cycleSortField()
			return nil
		case 'o', 'O':
			ss.toggleSortOrder()
			return nil
		case 'f', 'F':
			ss.focusFilterForm()
			return nil
		case 'c', 'C':
			ss.clearFilters()
			return nil
		}
		return event
	})
	ss.filterForm.SetCancelFunc(func() {
		ss.focus(ss.standingsTable)
	})
}

func (ss *StandingsScreen) loadStandings() error {
	provider, ok := ss.app.(HistoryProvider)
	if !ok {
		return ErrNoHistory
	}
	history, err := provider.GetHistory()
	if err != nil {
		return err
	}
	ss.standings = history.Standings()
	return nil
}

func (ss *StandingsScreen) refresh() {
	ss.applyFilterAndSort()
	ss.updateDisplay()
}

func (ss *StandingsScreen) applyFilterAndSort() {
	ss.filtered = make([]journal.Standing, 0, len(ss.standings))
	for _, s := range ss.standings {
		if ss.matchesFilter(s) {
			ss.filtered = append(ss.filtered, s)
		}
	}
	ss.sortStandings()
}

func (ss *StandingsScreen) matchesFilter(s journal.Standing) bool {
	if ss.filter.SearchText != "" &&
		!strings.Contains(strings.ToLower(s.Competitor), strings.ToLower(ss.filter.SearchText)) {
		return false
	}
	if s.Rating < ss.filter.MinRating || s.Rating > ss.filter.MaxRating {
		return false
	}
	return s.Matches >= ss.filter.MinMatches
}

func winRate(s journal.Standing) float64 {
	if s.Matches == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Matches)
}

func (ss *StandingsScreen) sortStandings() {
	slices.SortStableFunc(ss.filtered, func(a, b journal.Standing) int {
		var result int
		switch ss.sortField {
		case SortByRank:
			result = a.Rank - b.Rank
		case SortByRating:
			result = compareFloat(b.Rating, a.Rating)
		case SortByName:
			result = strings.Compare(a.Competitor, b.Competitor)
		case SortByMatches:
			result = b.Matches - a.Matches
		case SortByWinRate:
			result = compareFloat(winRate(b), winRate(a))
		}
		if ss.sortOrder == SortDesc {
			result = -result
		}
		return result
	})
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (ss *StandingsScreen) updateDisplay() {
	selected, _ := ss.standingsTable.GetSelection()
	ss.standingsTable.Clear()
	ss.setupTableHeaders()

	for i, s := range ss.filtered {
		ss.addStandingRow(i+1, s)
	}

	ss.updateStatusBar()
	ss.updateStatistics()

	if len(ss.filtered) > 0 {
		selected = max(1, min(selected, len(ss.filtered)))
		ss.standingsTable.Select(selected, 0)
	}
}

func (ss *StandingsScreen) addStandingRow(row int, s journal.Standing) {
	ss.standingsTable.SetCell(row, 0,
		tview.NewTableCell(strconv.Itoa(s.Rank)).
			SetAlign(tview.AlignCenter))
	ss.standingsTable.SetCell(row, 1,
		tview.NewTableCell(truncate(s.Competitor, 30)).
			SetAlign(tview.AlignLeft).
			SetExpansion(3))
	ss.standingsTable.SetCell(row, 2,
		tview.NewTableCell(fmt.Sprintf("%.1f", s.Rating)).
			SetAlign(tview.AlignRight).
			SetTextColor(ss.ratingColor(s.Rating)))
	ss.standingsTable.SetCell(row, 3,
		tview.NewTableCell(strconv.Itoa(s.Matches)).
			SetAlign(tview.AlignRight))
	ss.standingsTable.SetCell(row, 4,
		tview.NewTableCell(strconv.Itoa(s.Wins)).
			SetAlign(tview.AlignRight).
			SetTextColor(tcell.ColorGreen))
	ss.standingsTable.SetCell(row, 5,
		tview.NewTableCell(strconv.Itoa(s.Losses)).
			SetAlign(tview.AlignRight).
			SetTextColor(tcell.ColorRed))
	ss.standingsTable.SetCell(row, 6,
		tview.NewTableCell(fmt.Sprintf("%.0f%%", 100*winRate(s))).
			SetAlign(tview.AlignRight))
}

// ratingColor colours a rating by its distance from the initial rating
func (ss *StandingsScreen) ratingColor(rating float64) tcell.Color {
	base := ss.initialRating()
	switch {
	case rating >= base+100:
		return tcell.ColorGreen
	case rating <= base-100:
		return tcell.ColorRed
	default:
		return tcell.ColorYellow
	}
}

func (ss *StandingsScreen) initialRating() float64 {
	if provider, ok := ss.app.(HistoryProvider); ok {
		if history, err := provider.GetHistory(); err == nil {
			return float64(history.Config.InitialRating)
		}
	}
	return 1500
}

func (ss *StandingsScreen) updateStatusBar() {
	order := map[SortOrder]string{SortAsc: "↑", SortDesc: "↓"}[ss.sortOrder]
	status := fmt.Sprintf("[blue]Showing %d/%d competitors | Sort: %s %s",
		len(ss.filtered), len(ss.standings), ss.sortField, order)
	if ss.filter.SearchText != "" {
		status += fmt.Sprintf(" | Search: '%s'", ss.filter.SearchText)
	}
	ss.statusBar.SetText(status + "[white]")
}

func (ss *StandingsScreen) updateStatistics() {
	if len(ss.filtered) == 0 {
		ss.statisticsPanel.SetText("[gray]No competitors to show[white]")
		return
	}

	var total float64
	lowest, highest := ss.filtered[0].Rating, ss.filtered[0].Rating
	for _, s := range ss.filtered {
		total += s.Rating
		lowest = min(lowest, s.Rating)
		highest = max(highest, s.Rating)
	}

	ss.statisticsPanel.SetText(fmt.Sprintf(`[yellow]Ratings:[white]
Average: %.1f
Range: %.1f - %.1f
Spread: %.1f

[yellow]Competitors:[white]
Displayed: %d
Total: %d`,
		total/float64(len(ss.filtered)), lowest, highest, highest-lowest,
		len(ss.filtered), len(ss.standings)))
}

func (ss *StandingsScreen) cycleSortField() {
	ss.sortField = (ss.sortField + 1) % sortFieldCount
	ss.refresh()
}

func (ss *StandingsScreen) toggleSortOrder() {
	if ss.sortOrder == SortAsc {
		ss.sortOrder = SortDesc
	} else {
		ss.sortOrder = SortAsc
	}
	ss.refresh()
}

func (ss *StandingsScreen) focusFilterForm() {
	ss.focus(ss.filterForm)
}

func (ss *StandingsScreen) focus(p tview.Primitive) {
	if f, ok := ss.app.(interface{ SetFocus(tview.Primitive) }); ok {
		f.SetFocus(p)
	}
}

func (ss *StandingsScreen) clearFilters() {
	ss.filter = defaultFilter()

	ss.filterForm.GetFormItemByLabel("Search:").(*tview.InputField).SetText("")
	ss.filterForm.GetFormItemByLabel("Min Rating:").(*tview.InputField).SetText(formatRating(ss.filter.MinRating))
	ss.filterForm.GetFormItemByLabel("Max Rating:").(*tview.InputField).SetText(formatRating(ss.filter.MaxRating))
	ss.filterForm.GetFormItemByLabel("Min Matches:").(*tview.InputField).SetText("0")

	ss.refresh()
}

func formatRating(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
