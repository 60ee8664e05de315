// This file implements the ledger screen: the match-by-match history with
// the full ratings snapshot of the selected row.
package screens

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
	"github.com/pashagolub/elohistory/pkg/tui/components"
)

// LedgerFilter holds the ledger filtering settings
type LedgerFilter struct {
	Competitor string    // Substring of the winner or loser
	Since      time.Time // Zero keeps every row
	UpsetsOnly bool      // Only matches won at less than even odds
}

// LedgerScreen shows the rows of a history
type LedgerScreen struct {
	container   *tview.Flex
	mainLayout  *tview.Flex
	sideLayout  *tview.Flex
	ledgerTable *tview.Table
	filterForm  *tview.Form
	snapshot    *tview.TextView
	position    *components.Progress
	statusBar   *tview.TextView
	helpBar     *tview.TextView

	history  *journal.History
	rowIndex map[string]int // match id -> row in the history
	filtered []elo.Row
	filter   LedgerFilter
	sinceErr error

	app any
}

// NewLedgerScreen creates a new ledger screen instance
func NewLedgerScreen() *LedgerScreen {
	ls := &LedgerScreen{
		container:   tview.NewFlex(),
		mainLayout:  tview.NewFlex(),
		sideLayout:  tview.NewFlex(),
		ledgerTable: tview.NewTable(),
		filterForm:  tview.NewForm(),
		snapshot:    tview.NewTextView(),
		position:    components.NewProgress(components.DefaultProgressConfig()),
		statusBar:   tview.NewTextView(),
		helpBar:     tview.NewTextView(),
	}

	ls.setupUI()
	ls.setupKeyBindings()

	return ls
}

// GetPrimitive returns the main primitive for the ledger screen
func (ls *LedgerScreen) GetPrimitive() tview.Primitive {
	return ls.container
}

// OnEnter is called when the ledger screen becomes active
func (ls *LedgerScreen) OnEnter(app any) error {
	ls.app = app
	provider, ok := app.(HistoryProvider)
	if !ok {
		return ErrNoHistory
	}
	history, err := provider.GetHistory()
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	ls.history = history
	ls.rowIndex = make(map[string]int, len(history.Rows))
	for i, r := range history.Rows {
		ls.rowIndex[r.ID] = i
	}
	ls.refresh()
	return nil
}

// OnExit is called when leaving the ledger screen
func (ls *LedgerScreen) OnExit(app any) error {
	return nil
}

// GetTitle returns the screen title
func (ls *LedgerScreen) GetTitle() string {
	total := 0
	if ls.history != nil {
		total = len(ls.history.Rows)
	}
	if len(ls.filtered) != total {
		return fmt.Sprintf("Ledger (%d/%d matches)", len(ls.filtered), total)
	}
	return fmt.Sprintf("Ledger (%d matches)", total)
}

// GetHelpText returns help text for the ledger screen
func (ls *LedgerScreen) GetHelpText() []string {
	return []string{
		"Arrow Keys: Navigate matches",
		"F: Focus filter panel",
		"U: Toggle upsets only",
		"C: Clear all filters",
		"Esc (in filters): Back to the ledger",
	}
}

func (ls *LedgerScreen) setupUI() {
	ls.ledgerTable.SetBorder(true).
		SetTitle(" Matches ").
		SetTitleAlign(tview.AlignLeft)
	ls.ledgerTable.SetSelectable(true, false).
		SetFixed(1, 0)
	ls.ledgerTable.SetSelectionChangedFunc(func(row, _ int) {
		ls.updateSnapshot(row)
	})

	ls.filterForm.SetBorder(true).
		SetTitle(" Filters ").
		SetTitleAlign(tview.AlignLeft)
	ls.filterForm.AddInputField("Competitor:", "", 20, nil, func(text string) {
		ls.filter.Competitor = text
		ls.refresh()
	})
	ls.filterForm.AddInputField("Since:", "", 20, nil, func(text string) {
		ls.setSince(text)
	})
	ls.filterForm.AddCheckbox("Upsets only:", false, func(checked bool) {
		ls.filter.UpsetsOnly = checked
		ls.refresh()
	})
	ls.filterForm.AddButton("Clear All", ls.clearFilters)

	ls.snapshot.SetBorder(true).
		SetTitle(" Ratings ").
		SetTitleAlign(tview.AlignLeft)
	ls.snapshot.SetDynamicColors(true).
		SetScrollable(true)

	ls.statusBar.SetDynamicColors(true)
	ls.helpBar.SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]F:Filter  U:Upsets  C:Clear[white]")

	ls.sideLayout.SetDirection(tview.FlexRow).
		AddItem(ls.filterForm, 9, 0, false).
		AddItem(ls.position.GetContainer(), 6, 0, false).
		AddItem(ls.snapshot, 0, 1, false)

	ls.mainLayout.SetDirection(tview.FlexColumn).
		AddItem(ls.ledgerTable, 0, 3, true).
		AddItem(ls.sideLayout, 40, 1, false)

	ls.container.SetDirection(tview.FlexRow).
		AddItem(ls.mainLayout, 0, 1, true).
		AddItem(ls.statusBar, 1, 1, false).
		AddItem(ls.helpBar, 1, 1, false)
}

func (ls *LedgerScreen) setupKeyBindings() {
	ls.ledgerTable.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'f', 'F':
			ls.focus(ls.filterForm)
			return nil
		case 'u', 'U':
			ls.toggleUpsets()
			return nil
		case 'c', 'C':
			ls.clearFilters()
			return nil
		}
		return event
	})
	ls.filterForm.SetCancelFunc(func() {
		ls.focus(ls.ledgerTable)
	})
}

func (ls *LedgerScreen) focus(p tview.Primitive) {
	if f, ok := ls.app.(interface{ SetFocus(tview.Primitive) }); ok {
		f.SetFocus(p)
	}
}

// setSince parses the since field; incomplete dates keep the previous filter
func (ls *LedgerScreen) setSince(text string) {
	if strings.TrimSpace(text) == "" {
		ls.filter.Since = time.Time{}
		ls.refresh()
		return
	}
	t, err := elo.ParseTimestamp(text)
	if err != nil {
		return
	}
	ls.filter.Since = t
	ls.refresh()
}

func (ls *LedgerScreen) toggleUpsets() {
	ls.filter.UpsetsOnly = !ls.filter.UpsetsOnly
	if cb, ok := ls.filterForm.GetFormItemByLabel("Upsets only:").(*tview.Checkbox); ok {
		cb.SetChecked(ls.filter.UpsetsOnly)
	}
	ls.refresh()
}

func (ls *LedgerScreen) clearFilters() {
	ls.filter = LedgerFilter{}
	ls.filterForm.GetFormItemByLabel("Competitor:").(*tview.InputField).SetText("")
	ls.filterForm.GetFormItemByLabel("Since:").(*tview.InputField).SetText("")
	ls.filterForm.GetFormItemByLabel("Upsets only:").(*tview.Checkbox).SetChecked(false)
	ls.refresh()
}

func (ls *LedgerScreen) refresh() {
	if ls.history == nil {
		return
	}
	ls.applyFilter()
	ls.updateDisplay()
}

func (ls *LedgerScreen) applyFilter() {
	rows, err := ls.history.Since(ls.filter.Since)
	ls.sinceErr = err
	if err != nil {
		rows = ls.history.Rows
	}
	needle := strings.ToLower(ls.filter.Competitor)
	ls.filtered = make([]elo.Row, 0, len(rows))
	for _, r := range rows {
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Winner), needle) &&
			!strings.Contains(strings.ToLower(r.Loser), needle) {
			continue
		}
		if ls.filter.UpsetsOnly && r.WinProb >= 0.5 {
			continue
		}
		ls.filtered = append(ls.filtered, r)
	}
}

func (ls *LedgerScreen) headers() []string {
	if ls.history != nil && ls.history.HasTimestamps {
		return []string{"ID", "Time", "Winner", "Loser", "P(win)", "Winner Elo", "Loser Elo"}
	}
	return []string{"ID", "Winner", "Loser", "P(win)", "Winner Elo", "Loser Elo"}
}

func (ls *LedgerScreen) updateDisplay() {
	ls.ledgerTable.Clear()
	for col, header := range ls.headers() {
		ls.ledgerTable.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false).
			SetExpansion(1))
	}

	index := make(map[string]int, len(ls.history.Competitors))
	for i, c := range ls.history.Competitors {
		index[c] = i
	}
	for i, r := range ls.filtered {
		ls.addRow(i+1, r, index)
	}

	ls.updateStatusBar()
	if len(ls.filtered) > 0 {
		ls.ledgerTable.Select(1, 0)
		ls.ledgerTable.ScrollToBeginning()
	}
	ls.updateSnapshot(1)
}

func (ls *LedgerScreen) addRow(row int, r elo.Row, index map[string]int) {
	col := 0
	cell := func(text string, align int, color tcell.Color) {
		ls.ledgerTable.SetCell(row, col, tview.NewTableCell(text).
			SetAlign(align).
			SetTextColor(color))
		col++
	}

	cell(r.ID, tview.AlignLeft, tcell.ColorWhite)
	if ls.history.HasTimestamps {
		cell(r.Timestamp.Format(time.DateTime), tview.AlignLeft, tcell.ColorLightBlue)
	}
	cell(truncate(r.Winner, 20), tview.AlignLeft, tcell.ColorGreen)
	cell(truncate(r.Loser, 20), tview.AlignLeft, tcell.ColorRed)

	probColor := tcell.ColorWhite
	if r.WinProb < 0.5 {
		probColor = tcell.ColorOrange
	}
	cell(fmt.Sprintf("%.3f", r.WinProb), tview.AlignRight, probColor)
	cell(fmt.Sprintf("%.1f", r.Ratings[index[r.Winner]]), tview.AlignRight, tcell.ColorWhite)
	cell(fmt.Sprintf("%.1f", r.Ratings[index[r.Loser]]), tview.AlignRight, tcell.ColorWhite)
}

// selectedRow returns the history row shown at a table row
func (ls *LedgerScreen) selectedRow(tableRow int) (elo.Row, bool) {
	if tableRow < 1 || tableRow > len(ls.filtered) {
		return elo.Row{}, false
	}
	return ls.filtered[tableRow-1], true
}

func (ls *LedgerScreen) updateSnapshot(tableRow int) {
	r, ok := ls.selectedRow(tableRow)
	if !ok {
		var pos components.Position
		if ls.history != nil {
			pos.Rows = len(ls.history.Rows)
		}
		ls.position.Update(pos)
		ls.snapshot.SetText("[gray]No match selected[white]")
		return
	}
	ls.position.Update(components.PositionOf(ls.history.Rows, ls.rowIndex[r.ID], ls.history.HasTimestamps))

	type entry struct {
		name   string
		rating float64
	}
	entries := make([]entry, len(ls.history.Competitors))
	for i, c := range ls.history.Competitors {
		entries[i] = entry{name: c, rating: r.Ratings[i]}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		if c := compareFloat(b.rating, a.rating); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "[yellow]After %s[white]\n\n", r.ID)
	for i, e := range entries {
		name := truncate(e.name, 22)
		switch e.name {
		case r.Winner:
			name = "[green]" + name + "[white]"
		case r.Loser:
			name = "[red]" + name + "[white]"
		}
		fmt.Fprintf(&sb, "%3d. %s %8.1f\n", i+1, name, e.rating)
	}
	ls.snapshot.SetText(sb.String())
	ls.snapshot.ScrollToBeginning()
}

func (ls *LedgerScreen) updateStatusBar() {
	upsets := 0
	for _, r := range ls.filtered {
		if r.WinProb < 0.5 {
			upsets++
		}
	}
	status := fmt.Sprintf("[blue]Showing %d/%d matches | Upsets: %d",
		len(ls.filtered), len(ls.history.Rows), upsets)
	if !ls.filter.Since.IsZero() {
		status += " | Since: " + ls.filter.Since.Format(time.DateOnly)
	}
	if ls.sinceErr != nil {
		status += fmt.Sprintf(" | [red]%v[blue]", ls.sinceErr)
	}
	ls.statusBar.SetText(status + "[white]")
}
