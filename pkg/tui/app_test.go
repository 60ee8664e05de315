package tui

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
)

// mockScreen is a mock implementation of Screen interface for testing
type mockScreen struct {
	title       string
	primitive   *testPrimitive
	enters      int
	exits       int
	onEnterFunc func(app any) error
}

type testPrimitive struct{}

func (tp *testPrimitive) Draw(screen tcell.Screen)        {}
func (tp *testPrimitive) GetRect() (int, int, int, int)   { return 0, 0, 0, 0 }
func (tp *testPrimitive) SetRect(x, y, width, height int) {}
func (tp *testPrimitive) InputHandler() func(event *tcell.EventKey, setFocus func(p tview.Primitive)) {
	return nil
}
func (tp *testPrimitive) Focus(delegate func(p tview.Primitive)) {}
func (tp *testPrimitive) Blur()                                  {}
func (tp *testPrimitive) HasFocus() bool                         { return false }
func (tp *testPrimitive) PasteHandler() func(pastedText string, setFocus func(p tview.Primitive)) {
	return nil
}
func (tp *testPrimitive) MouseHandler() func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (consumed bool, capture tview.Primitive) {
	return nil
}

func newMockScreen(title string) *mockScreen {
	return &mockScreen{title: title, primitive: &testPrimitive{}}
}

func (ms *mockScreen) GetPrimitive() tview.Primitive { return ms.primitive }
func (ms *mockScreen) GetTitle() string              { return ms.title }

func (ms *mockScreen) OnEnter(app any) error {
	ms.enters++
	if ms.onEnterFunc != nil {
		return ms.onEnterFunc(app)
	}
	return nil
}

func (ms *mockScreen) OnExit(app any) error {
	ms.exits++
	return nil
}

// createTestHistory fits a small timestamped history
func createTestHistory(t *testing.T) *journal.History {
	t.Helper()
	cfg := elo.DefaultConfig()
	cfg.SeasonalMeanReversion = 0.3
	e, err := elo.NewEngine(cfg, elo.Input{
		Winners:    []string{"Ann", "Bob", "Cid", "Ann", "Dee"},
		Losers:     []string{"Bob", "Cid", "Ann", "Dee", "Bob"},
		Timestamps: []string{"2019-03-01", "2019-04-01", "2019-05-01", "2020-01-15", "2020-02-01"},
	})
	require.NoError(t, err)
	return journal.FromLedger("run-1", e.Fit())
}

func TestNewApp(t *testing.T) {
	t.Run("valid history", func(t *testing.T) {
		app, err := NewApp(createTestHistory(t), Options{})
		require.NoError(t, err)
		assert.NotNil(t, app.tviewApp)
		assert.NotNil(t, app.pages)
		assert.Equal(t, ScreenLedger, app.GetCurrentScreen())
		assert.False(t, app.IsRunning())
	})

	t.Run("nil history", func(t *testing.T) {
		app, err := NewApp(nil, Options{})
		assert.ErrorIs(t, err, ErrNilHistory)
		assert.Nil(t, app)
	})
}

func TestScreenTypeString(t *testing.T) {
	assert.Equal(t, "ledger", ScreenLedger.String())
	assert.Equal(t, "standings", ScreenStandings.String())
	assert.Equal(t, "help", ScreenHelp.String())
	assert.Equal(t, "unknown", ScreenType(42).String())
}

func TestAppScreenRegistration(t *testing.T) {
	app, err := NewApp(createTestHistory(t), Options{})
	require.NoError(t, err)

	require.NoError(t, app.RegisterScreen(ScreenLedger, newMockScreen("Ledger")))
	assert.Contains(t, app.screens, ScreenLedger)

	assert.ErrorIs(t, app.RegisterScreen(ScreenStandings, nil), ErrNilScreen)
}

func TestAppNavigation(t *testing.T) {
	app, err := NewApp(createTestHistory(t), Options{})
	require.NoError(t, err)

	ledger := newMockScreen("Ledger")
	standings := newMockScreen("Standings")
	require.NoError(t, app.RegisterScreen(ScreenLedger, ledger))
	require.NoError(t, app.RegisterScreen(ScreenStandings, standings))

	assert.ErrorIs(t, app.GoBack(), ErrNoPreviousScreen)

	require.NoError(t, app.ShowLedger())
	assert.Equal(t, 1, ledger.enters)
	assert.Equal(t, 0, ledger.exits, "the first screen has nothing to leave")

	require.NoError(t, app.ShowStandings())
	assert.Equal(t, ScreenStandings, app.GetCurrentScreen())
	assert.Equal(t, 1, ledger.exits)
	assert.Equal(t, 1, standings.enters)

	require.NoError(t, app.GoBack())
	assert.Equal(t, ScreenLedger, app.GetCurrentScreen())
	assert.Equal(t, 1, standings.exits)

	err = app.NavigateTo(ScreenHelp)
	assert.ErrorIs(t, err, ErrScreenNotFound)
	assert.Equal(t, ScreenLedger, app.GetCurrentScreen())

	t.Run("failed enter keeps the current screen", func(t *testing.T) {
		standings.onEnterFunc = func(any) error { return errors.New("boom") }
		err := app.ShowStandings()
		assert.Error(t, err)
		assert.Equal(t, ScreenLedger, app.GetCurrentScreen())
	})
}

func TestAppKeyBindings(t *testing.T) {
	app, err := NewApp(createTestHistory(t), Options{})
	require.NoError(t, err)
	require.NoError(t, app.RegisterScreen(ScreenLedger, newMockScreen("Ledger")))
	require.NoError(t, app.RegisterScreen(ScreenStandings, newMockScreen("Standings")))
	require.NoError(t, app.RegisterScreen(ScreenHelp, NewHelpScreen()))
	require.NoError(t, app.ShowLedger())

	tests := []struct {
		name   string
		event  *tcell.EventKey
		screen ScreenType
	}{
		{"F3 shows standings", tcell.NewEventKey(tcell.KeyF3, 0, tcell.ModNone), ScreenStandings},
		{"F1 shows help", tcell.NewEventKey(tcell.KeyF1, 0, tcell.ModNone), ScreenHelp},
		{"F2 shows ledger", tcell.NewEventKey(tcell.KeyF2, 0, tcell.ModNone), ScreenLedger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, app.handleGlobalInput(tt.event), "event should be consumed")
			assert.Equal(t, tt.screen, app.GetCurrentScreen())
		})
	}

	t.Run("runes pass through", func(t *testing.T) {
		event := tcell.NewEventKey(tcell.KeyRune, 's', tcell.ModNone)
		assert.Equal(t, event, app.handleGlobalInput(event))
	})
}

func TestExportHistory(t *testing.T) {
	history := createTestHistory(t)

	t.Run("writes the configured file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "ledger.csv")
		app, err := NewApp(history, Options{ExportPath: path, ExportOptions: journal.DefaultExportOptions()})
		require.NoError(t, err)
		assert.Contains(t, app.headerText(), "Not exported yet")

		require.NoError(t, app.ExportHistory())
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "win_prob")
		assert.Contains(t, app.headerText(), "Exported")
	})

	t.Run("no export path", func(t *testing.T) {
		app, err := NewApp(history, Options{})
		require.NoError(t, err)
		assert.ErrorIs(t, app.ExportHistory(), ErrNoExportPath)
		assert.True(t, app.pages.HasPage("error-dialog"))
	})

	t.Run("unsupported format", func(t *testing.T) {
		options := journal.DefaultExportOptions()
		options.Format = "xml"
		app, err := NewApp(history, Options{ExportPath: filepath.Join(t.TempDir(), "x"), ExportOptions: options})
		require.NoError(t, err)
		assert.ErrorIs(t, app.ExportHistory(), journal.ErrUnsupportedFormat)
		assert.Contains(t, app.headerText(), "Export failed")
	})
}

func TestHeaderText(t *testing.T) {
	app, err := NewBrowser(createTestHistory(t), Options{Source: "matches.csv"})
	require.NoError(t, err)
	require.NoError(t, app.ShowLedger())

	header := app.headerText()
	assert.Contains(t, header, "Ledger (5 matches)")
	assert.Contains(t, header, "Source: matches.csv")
	assert.Contains(t, header, "Run: run-1")
	assert.Contains(t, header, "K=20 init=1500 scale=400 reversion=0.3")
	assert.NotContains(t, header, "export", "export status is hidden without a path")
}

func TestBrowserScreens(t *testing.T) {
	app, err := NewBrowser(createTestHistory(t), Options{})
	require.NoError(t, err)

	for _, screenType := range []ScreenType{ScreenLedger, ScreenStandings, ScreenHelp} {
		t.Run(screenType.String(), func(t *testing.T) {
			require.NoError(t, app.NavigateTo(screenType))
			assert.True(t, app.pages.HasPage(screenType.String()))
			name, _ := app.pages.GetFrontPage()
			assert.Equal(t, screenType.String(), name)
		})
	}

	t.Run("help lists the parameters and bindings", func(t *testing.T) {
		help, ok := app.screens[ScreenHelp].(*HelpScreen)
		require.True(t, ok)
		text := help.textView.GetText(true)
		assert.Contains(t, text, "K factor: 20")
		assert.Contains(t, text, "Seasonal reversion: 0.3")
		assert.Contains(t, text, "F3")
		assert.Contains(t, text, "Standings")
	})

	t.Run("escape on help goes back", func(t *testing.T) {
		require.NoError(t, app.ShowStandings())
		require.NoError(t, app.ShowHelp())
		help := app.screens[ScreenHelp].(*HelpScreen)
		capture := help.textView.GetInputCapture()
		assert.Nil(t, capture(tcell.NewEventKey(tcell.KeyEsc, 0, tcell.ModNone)))
		assert.Equal(t, ScreenStandings, app.GetCurrentScreen())
	})
}
