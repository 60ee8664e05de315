// Package tui provides the terminal browser of a rating history.
// It implements the main application structure with screen management,
// keyboard shortcuts and export of the browsed history.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pashagolub/elohistory/pkg/journal"
	"github.com/pashagolub/elohistory/pkg/tui/screens"
)

var (
	ErrNilHistory       = errors.New("history cannot be nil")
	ErrNilScreen        = errors.New("screen cannot be nil")
	ErrScreenNotFound   = errors.New("screen not registered")
	ErrNoExportPath     = errors.New("no export path configured")
	ErrNoPreviousScreen = errors.New("no previous screen")
)

// ScreenType represents different screens in the TUI application
type ScreenType int

const (
	ScreenLedger ScreenType = iota
	ScreenStandings
	ScreenHelp
)

// String returns the string representation of ScreenType
func (s ScreenType) String() string {
	switch s {
	case ScreenLedger:
		return "ledger"
	case ScreenStandings:
		return "standings"
	case ScreenHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Screen interface defines the contract for all TUI screens
type Screen interface {
	// GetPrimitive returns the tview.Primitive for this screen
	GetPrimitive() tview.Primitive

	// OnEnter is called when the screen becomes active
	OnEnter(app any) error

	// OnExit is called when leaving the screen
	OnExit(app any) error

	// GetTitle returns the screen title for display
	GetTitle() string
}

// Options configures the browser
type Options struct {
	Source        string // shown in the header, usually the input file
	ExportPath    string // target of Ctrl-E, empty disables export
	ExportOptions journal.ExportOptions
}

// AppState represents the current application state
type AppState struct {
	mu             sync.RWMutex
	history        *journal.History
	currentScreen  ScreenType
	previousScreen ScreenType
	hasPrevious    bool
	entered        bool // a screen has been entered
	isRunning      bool
	lastExportTime *time.Time
	lastExportErr  error
}

// App represents the main TUI application
type App struct {
	tviewApp *tview.Application
	pages    *tview.Pages
	header   *tview.TextView
	footer   *tview.TextView
	state    *AppState
	options  Options
	exporter *journal.Exporter
	screens  map[ScreenType]Screen
	mu       sync.RWMutex
}

// KeyBinding represents a keyboard shortcut
type KeyBinding struct {
	Key         tcell.Key
	Description string
	Handler     func(app *App) error
}

// Global key bindings available across all screens. Runes are left to the
// screens and their filter fields.
var globalKeyBindings = []KeyBinding{
	{Key: tcell.KeyCtrlC, Description: "Exit", Handler: (*App).Exit},
	{Key: tcell.KeyF1, Description: "Help", Handler: (*App).ShowHelp},
	{Key: tcell.KeyF2, Description: "Ledger", Handler: (*App).ShowLedger},
	{Key: tcell.KeyF3, Description: "Standings", Handler: (*App).ShowStandings},
	{Key: tcell.KeyCtrlE, Description: "Export", Handler: (*App).ExportHistory},
}

// NewApp creates a new TUI application instance without screens
func NewApp(history *journal.History, options Options) (*App, error) {
	if history == nil {
		return nil, ErrNilHistory
	}

	app := &App{
		tviewApp: tview.NewApplication(),
		pages:    tview.NewPages(),
		header:   tview.NewTextView(),
		footer:   tview.NewTextView(),
		state: &AppState{
			history:       history,
			currentScreen: ScreenLedger,
		},
		options:  options,
		exporter: journal.NewExporter(),
		screens:  make(map[ScreenType]Screen),
	}
	app.setupUI()
	return app, nil
}

// NewBrowser creates the application with the ledger, standings and help screens registered
func NewBrowser(history *journal.History, options Options) (*App, error) {
	app, err := NewApp(history, options)
	if err != nil {
		return nil, err
	}
	registrations := []struct {
		screenType ScreenType
		screen     Screen
	}{
		{ScreenLedger, screens.NewLedgerScreen()},
		{ScreenStandings, screens.NewStandingsScreen()},
		{ScreenHelp, NewHelpScreen()},
	}
	for _, r := range registrations {
		if err := app.RegisterScreen(r.screenType, r.screen); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func (a *App) setupUI() {
	a.header.SetBorder(true).
		SetTitle("Rating History").
		SetTitleAlign(tview.AlignCenter).
		SetBackgroundColor(tcell.ColorDarkBlue)
	a.header.SetTextColor(tcell.ColorWhite)

	a.footer.SetBorder(true).
		SetTitle("Keyboard Shortcuts").
		SetTitleAlign(tview.AlignCenter).
		SetBackgroundColor(tcell.ColorDarkGreen)
	a.footer.SetTextColor(tcell.ColorWhite)
	a.updateFooter()

	mainLayout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 3, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.footer, 3, 0, false)
	mainLayout.SetInputCapture(a.handleGlobalInput)

	a.tviewApp.SetRoot(mainLayout, true)
	a.tviewApp.EnableMouse(true)
	a.tviewApp.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		a.updateHeader()
		return false
	})
}

// RegisterScreen registers a screen with the application
func (a *App) RegisterScreen(screenType ScreenType, screen Screen) error {
	if screen == nil {
		return ErrNilScreen
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.screens[screenType] = screen
	a.pages.AddPage(screenType.String(), screen.GetPrimitive(), true, false)
	return nil
}

func (a *App) screen(screenType ScreenType) (Screen, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.screens[screenType]
	return s, ok
}

// NavigateTo switches to the specified screen
func (a *App) NavigateTo(screenType ScreenType) error {
	screen, exists := a.screen(screenType)
	if !exists {
		return fmt.Errorf("%w: %s", ErrScreenNotFound, screenType)
	}

	a.state.mu.RLock()
	previous := a.state.currentScreen
	entered := a.state.entered
	a.state.mu.RUnlock()

	if current, ok := a.screen(previous); ok && entered {
		if err := current.OnExit(a); err != nil {
			return fmt.Errorf("failed to exit screen %s: %w", previous, err)
		}
	}

	if err := screen.OnEnter(a); err != nil {
		return fmt.Errorf("failed to enter screen %s: %w", screenType, err)
	}

	a.state.mu.Lock()
	if entered && previous != screenType {
		a.state.previousScreen = previous
		a.state.hasPrevious = true
	}
	a.state.currentScreen = screenType
	a.state.entered = true
	a.state.mu.Unlock()

	a.pages.SwitchToPage(screenType.String())
	return nil
}

// ShowLedger displays the ledger screen
func (a *App) ShowLedger() error {
	return a.NavigateTo(ScreenLedger)
}

// ShowStandings displays the standings screen
func (a *App) ShowStandings() error {
	return a.NavigateTo(ScreenStandings)
}

// ShowHelp displays the help screen
func (a *App) ShowHelp() error {
	return a.NavigateTo(ScreenHelp)
}

// GoBack returns to the previously shown screen
func (a *App) GoBack() error {
	a.state.mu.RLock()
	previous, ok := a.state.previousScreen, a.state.hasPrevious
	a.state.mu.RUnlock()
	if !ok {
		return ErrNoPreviousScreen
	}
	return a.NavigateTo(previous)
}

// Exit stops the application
func (a *App) Exit() error {
	a.state.mu.Lock()
	a.state.isRunning = false
	a.state.mu.Unlock()

	a.tviewApp.Stop()
	return nil
}

// ExportHistory writes the browsed history to the configured export path
func (a *App) ExportHistory() error {
	history, err := a.GetHistory()
	if err != nil {
		return err
	}
	if a.options.ExportPath == "" {
		a.showErrorDialog("Export Error", "No export path configured.\n\nStart the browser with --output to enable export.")
		return ErrNoExportPath
	}

	err = a.exporter.ExportToFile(history, a.options.ExportPath, a.options.ExportOptions)

	now := time.Now()
	a.state.mu.Lock()
	a.state.lastExportErr = err
	if err == nil {
		a.state.lastExportTime = &now
	}
	a.state.mu.Unlock()

	if err != nil {
		a.showErrorDialog("Export Failed", fmt.Sprintf("Failed to export history:\n\n%v", err))
		return fmt.Errorf("failed to export history: %w", err)
	}
	a.updateHeader()
	return nil
}

// Run starts the TUI application on the ledger screen
func (a *App) Run() error {
	if err := a.NavigateTo(ScreenLedger); err != nil {
		return fmt.Errorf("failed to navigate to ledger screen: %w", err)
	}

	a.state.mu.Lock()
	a.state.isRunning = true
	a.state.mu.Unlock()

	return a.tviewApp.Run()
}

// Stop gracefully stops the application
func (a *App) Stop() {
	if a.IsRunning() {
		_ = a.Exit()
	}
}

// GetHistory returns the browsed history
func (a *App) GetHistory() (*journal.History, error) {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	if a.state.history == nil {
		return nil, ErrNilHistory
	}
	return a.state.history, nil
}

// SetFocus moves keyboard focus to a primitive of the current screen
func (a *App) SetFocus(p tview.Primitive) {
	a.tviewApp.SetFocus(p)
}

// GetTViewApp returns the underlying tview application for advanced usage
func (a *App) GetTViewApp() *tview.Application {
	return a.tviewApp
}

// IsRunning returns whether the application is currently running
func (a *App) IsRunning() bool {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.isRunning
}

// GetCurrentScreen returns the current screen type
func (a *App) GetCurrentScreen() ScreenType {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.currentScreen
}

// handleGlobalInput handles global keyboard shortcuts. It runs on the
// event loop, so handlers may touch primitives directly.
func (a *App) handleGlobalInput(event *tcell.EventKey) *tcell.EventKey {
	for _, binding := range globalKeyBindings {
		if event.Key() != binding.Key {
			continue
		}
		if err := binding.Handler(a); err != nil && !errors.Is(err, ErrNoExportPath) {
			a.showErrorDialog("Error", err.Error())
		}
		return nil
	}
	return event
}

// headerText describes the current screen, the run and the export status
func (a *App) headerText() string {
	a.state.mu.RLock()
	currentScreen := a.state.currentScreen
	history := a.state.history
	lastExport := a.state.lastExportTime
	lastErr := a.state.lastExportErr
	a.state.mu.RUnlock()

	var sb strings.Builder
	if screen, ok := a.screen(currentScreen); ok {
		sb.WriteString(screen.GetTitle())
	}
	if a.options.Source != "" {
		fmt.Fprintf(&sb, " | Source: %s", a.options.Source)
	}
	if history.RunID != "" {
		fmt.Fprintf(&sb, " | Run: %s", history.RunID)
	}
	cfg := history.Config
	fmt.Fprintf(&sb, " | K=%d init=%d scale=%d reversion=%g",
		cfg.K, cfg.InitialRating, cfg.Scale, cfg.SeasonalMeanReversion)

	switch {
	case lastErr != nil:
		sb.WriteString(" | Export failed")
	case lastExport != nil:
		elapsed := time.Since(*lastExport)
		if elapsed < time.Minute {
			fmt.Fprintf(&sb, " | Exported %ds ago", int(elapsed.Seconds()))
		} else if elapsed < time.Hour {
			fmt.Fprintf(&sb, " | Exported %dm ago", int(elapsed.Minutes()))
		} else {
			fmt.Fprintf(&sb, " | Exported at %s", lastExport.Format("15:04"))
		}
	case a.options.ExportPath != "":
		sb.WriteString(" | Not exported yet")
	}
	return sb.String()
}

func (a *App) updateHeader() {
	a.header.SetText(a.headerText())
}

func (a *App) showErrorDialog(title, message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			a.pages.RemovePage("error-dialog")
		})

	modal.SetTitle(title).
		SetBorder(true).
		SetBackgroundColor(tcell.ColorDarkRed)

	a.pages.AddPage("error-dialog", modal, true, true)
}

// keyName returns the display name of a key binding
func keyName(binding KeyBinding) string {
	if name, ok := tcell.KeyNames[binding.Key]; ok {
		return name
	}
	return fmt.Sprintf("Key(%d)", binding.Key)
}

func (a *App) updateFooter() {
	parts := make([]string, len(globalKeyBindings))
	for i, binding := range globalKeyBindings {
		parts[i] = fmt.Sprintf("%s: %s", keyName(binding), binding.Description)
	}
	a.footer.SetText(strings.Join(parts, " | "))
}
