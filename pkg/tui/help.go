// This file implements the help screen that lists keyboard shortcuts and
// explains the columns of the browser.
package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// HelpScreen provides help and keyboard shortcut information
type HelpScreen struct {
	root     *tview.Flex
	textView *tview.TextView
	app      *App
}

// NewHelpScreen creates a new help screen
func NewHelpScreen() *HelpScreen {
	hs := &HelpScreen{
		root:     tview.NewFlex(),
		textView: tview.NewTextView(),
	}

	hs.setupLayout()
	return hs
}

// GetPrimitive returns the root primitive for this screen
func (hs *HelpScreen) GetPrimitive() tview.Primitive {
	return hs.root
}

// OnEnter is called when the help screen becomes active
func (hs *HelpScreen) OnEnter(app any) error {
	if a, ok := app.(*App); ok {
		hs.app = a
	}
	hs.updateContent()
	return nil
}

// OnExit is called when leaving the help screen
func (hs *HelpScreen) OnExit(app any) error {
	return nil
}

// GetTitle returns the screen title
func (hs *HelpScreen) GetTitle() string {
	return "Help"
}

func (hs *HelpScreen) setupLayout() {
	hs.textView.
		SetBorder(true).
		SetTitle("Help - Rating History Browser").
		SetTitleAlign(tview.AlignCenter)

	hs.textView.SetWrap(true).
		SetDynamicColors(true).
		SetScrollable(true)

	hs.textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc || event.Rune() == 'q' || event.Rune() == 'Q' {
			if hs.app != nil {
				_ = hs.app.GoBack()
			}
			return nil
		}
		return event
	})

	hs.root.AddItem(hs.textView, 0, 1, true)
}

func (hs *HelpScreen) updateContent() {
	var content strings.Builder

	content.WriteString("[yellow]Rating History Browser[-]\n\n")
	content.WriteString("Every row of the ledger is one match, in the order it was applied.\n")
	content.WriteString("P(win) is the winner's win probability before the match; below 0.5 the match was an upset.\n")
	content.WriteString("The ratings panel shows every competitor's rating right after the selected match.\n")

	if hs.app != nil {
		if history, err := hs.app.GetHistory(); err == nil {
			cfg := history.Config
			content.WriteString("\n[green]Parameters[-]\n")
			fmt.Fprintf(&content, "K factor: %d\nInitial rating: %d\nScale: %d\nSeasonal reversion: %g\n",
				cfg.K, cfg.InitialRating, cfg.Scale, cfg.SeasonalMeanReversion)
			if cfg.SeasonalMeanReversion > 0 && history.HasTimestamps {
				content.WriteString("Ratings are pulled toward the population mean when the calendar year changes.\n")
			}
		}
	}

	content.WriteString("\n[green]Global Keyboard Shortcuts[-]\n")
	for _, binding := range globalKeyBindings {
		fmt.Fprintf(&content, "[white]%s[-]  - %s\n", keyName(binding), binding.Description)
	}

	content.WriteString("\n[green]Ledger[-]\n")
	content.WriteString("[white]F[-] filters by competitor or date, [white]U[-] toggles upsets, [white]C[-] clears filters\n")
	content.WriteString("\n[green]Standings[-]\n")
	content.WriteString("[white]S[-] cycles the sort field, [white]O[-] flips the order, [white]F[-] filters, [white]C[-] clears\n")
	content.WriteString("\nPress Esc or q to go back.\n")

	hs.textView.SetText(content.String())
	hs.textView.ScrollToBeginning()
}
