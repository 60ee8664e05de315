// Package components provides reusable TUI widgets of the rating history browser.
// This file implements the position indicator: where the selected match sits
// in the whole ledger and inside its season.
package components

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// Position of one row inside a ledger. Rows and seasons are 1-based.
type Position struct {
	Row        int // Row of the match in the ledger
	Rows       int // Matches in the ledger
	Year       int // Calendar year of the match, 0 without timestamps
	Season     int // Season of the match, 0 without timestamps
	Seasons    int // Seasons in the ledger
	SeasonRow  int // Row of the match inside its season
	SeasonRows int // Matches in the season
}

// PositionOf locates row i (0-based) of a chronological ledger. Seasons are
// calendar years, the same boundaries that trigger seasonal reversion.
func PositionOf(rows []elo.Row, i int, hasTimestamps bool) Position {
	p := Position{Rows: len(rows)}
	if i < 0 || i >= len(rows) {
		return p
	}
	p.Row = i + 1
	if !hasTimestamps {
		return p
	}

	p.Year = rows[i].Timestamp.Year()
	year := 0
	for j, r := range rows {
		if y := r.Timestamp.Year(); j == 0 || y != year {
			year = y
			p.Seasons++
		}
		if year != p.Year {
			continue
		}
		p.Season = p.Seasons
		p.SeasonRows++
		if j <= i {
			p.SeasonRow++
		}
	}
	return p
}

// ProgressConfig holds configuration options for the position indicator
type ProgressConfig struct {
	BarWidth      int
	ProgressColor string // tview color tag of the filled part
	CompleteColor string // used once the last row is reached
}

// DefaultProgressConfig returns sensible defaults for the position indicator
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		BarWidth:      30,
		ProgressColor: "blue",
		CompleteColor: "green",
	}
}

// Progress displays the position of the selected match as two bars
type Progress struct {
	container *tview.Flex
	ledgerBar *tview.TextView
	seasonBar *tview.TextView

	position Position
	config   ProgressConfig
}

// NewProgress creates a new position indicator
func NewProgress(config ProgressConfig) *Progress {
	defaults := DefaultProgressConfig()
	if config.BarWidth <= 0 {
		config.BarWidth = defaults.BarWidth
	}
	if config.ProgressColor == "" {
		config.ProgressColor = defaults.ProgressColor
	}
	if config.CompleteColor == "" {
		config.CompleteColor = defaults.CompleteColor
	}

	p := &Progress{
		container: tview.NewFlex(),
		ledgerBar: tview.NewTextView(),
		seasonBar: tview.NewTextView(),
		config:    config,
	}
	p.initializeUI()
	p.Update(Position{})
	return p
}

func (p *Progress) initializeUI() {
	p.ledgerBar.SetDynamicColors(true)
	p.seasonBar.SetDynamicColors(true)

	p.container.SetDirection(tview.FlexRow).
		AddItem(p.ledgerBar, 2, 0, false).
		AddItem(p.seasonBar, 2, 0, false)
	p.container.SetBorder(true).
		SetTitle(" Position ").
		SetTitleAlign(tview.AlignLeft)
}

// Update redraws both bars for a new position
func (p *Progress) Update(pos Position) {
	p.position = pos

	if pos.Row == 0 {
		p.ledgerBar.SetText(fmt.Sprintf("Match -/%d\n%s", pos.Rows, p.createProgressBar(0, false)))
	} else {
		p.ledgerBar.SetText(fmt.Sprintf("Match %d/%d\n%s", pos.Row, pos.Rows,
			p.createProgressBar(ratio(pos.Row, pos.Rows), pos.Row == pos.Rows)))
	}

	switch {
	case pos.Seasons == 0:
		p.seasonBar.SetText("[gray]No seasons, the ledger has no timestamps[white]")
	default:
		p.seasonBar.SetText(fmt.Sprintf("Season %d (%d/%d), match %d/%d\n%s",
			pos.Year, pos.Season, pos.Seasons, pos.SeasonRow, pos.SeasonRows,
			p.createProgressBar(ratio(pos.SeasonRow, pos.SeasonRows), pos.SeasonRow == pos.SeasonRows)))
	}
}

// GetContainer returns the root primitive of the indicator
func (p *Progress) GetContainer() tview.Primitive {
	return p.container
}

// GetPosition returns the position shown
func (p *Progress) GetPosition() Position {
	return p.position
}

// createProgressBar creates a visual progress bar using text characters
func (p *Progress) createProgressBar(progress float64, isComplete bool) string {
	width := p.config.BarWidth
	filled := min(max(int(progress*float64(width)), 0), width)

	color := p.config.ProgressColor
	if isComplete {
		color = p.config.CompleteColor
	}
	return "[" + color + "]" + strings.Repeat("█", filled) + "[gray]" + strings.Repeat("░", width-filled) + "[white]"
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
