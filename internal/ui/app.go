package ui

import (
	"context"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/events"
	"github.com/zsprackett/cursor-balance/internal/ui/dialogs"
)

const (
	DashboardURL = "https://cursor.com/dashboard?tab=usage"
	LoginURL     = "https://cursor.com/login"
)

// relabelInterval keeps "Updated Nm ago" current between polls.
const relabelInterval = 30 * time.Second

type Poller interface {
	Fetch(ctx context.Context) bool
	Logout(ctx context.Context) bool
}

type Loader interface {
	Load() (balance.Record, error)
}

type TokenSetter interface {
	SetSessionToken(token string) error
}

type Options struct {
	Store   Loader
	Poller  Poller
	Tokens  TokenSetter
	History dialogs.SnapshotSource
	// Updates delivers poller events; the view reloads on each one.
	Updates <-chan events.Event
	// OpenURL opens a page in the user's browser. Defaults to OpenBrowser.
	OpenURL func(string) error
	Logger  *slog.Logger
}

type App struct {
	tapp    *tview.Application
	pages   *tview.Pages
	home    *Home
	opts    Options
	history *dialogs.HistoryDialog
	logger  *slog.Logger
}

func NewApp(o Options) *App {
	if o.OpenURL == nil {
		o.OpenURL = OpenBrowser
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	a := &App{opts: o, logger: o.Logger}

	a.tapp = tview.NewApplication()
	a.pages = tview.NewPages()
	a.home = NewHome()

	a.pages.AddPage("home", a.home, true, true)
	a.tapp.SetRoot(a.pages, true).EnableMouse(false)
	a.tapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == '?' && !a.dialogOpen() {
			a.showHelp()
			return nil
		}
		return event
	})
	a.setupInput()
	return a
}

// SetBadge implements badge.Indicator. It is safe to call from any goroutine.
func (a *App) SetBadge(b badge.Badge) {
	a.tapp.QueueUpdateDraw(func() {
		a.home.SetBadge(b)
	})
}

// Run blocks until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.refreshHome()
	go a.watch(ctx)
	go func() {
		<-ctx.Done()
		a.tapp.Stop()
	}()
	return a.tapp.Run()
}

func (a *App) watch(ctx context.Context) {
	ticker := time.NewTicker(relabelInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-a.opts.Updates:
			if !ok {
				a.opts.Updates = nil
				continue
			}
			a.tapp.QueueUpdateDraw(a.refreshHome)
		case <-ticker.C:
			a.tapp.QueueUpdateDraw(a.refreshHome)
		}
	}
}

// refreshHome must run on the UI goroutine.
func (a *App) refreshHome() {
	rec, err := a.opts.Store.Load()
	if err != nil {
		a.logger.Warn("ui: load record", "err", err)
		rec = balance.Record{}
	}
	a.home.Update(rec, time.Now())
	if a.history != nil {
		a.history.Reload()
	}
}

func (a *App) setupInput() {
	a.home.body.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'r':
			a.onRefresh()
			return nil
		case 'd':
			a.open(DashboardURL)
			return nil
		case 'o':
			a.open(LoginURL)
			return nil
		case 'i':
			a.onToken()
			return nil
		case 'l':
			a.onLogout()
			return nil
		case 'h':
			a.onHistory()
			return nil
		case 'q':
			a.tapp.Stop()
			return nil
		}
		return event
	})
}

func (a *App) dialogOpen() bool {
	name, _ := a.pages.GetFrontPage()
	return name != "home"
}

func (a *App) showDialog(name string, widget tview.Primitive, width, height int) {
	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(nil, 0, 1, false).
			AddItem(widget, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(name, modal, true, true)
	a.tapp.SetFocus(widget)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	a.tapp.SetFocus(a.home.body)
}

func (a *App) showHelp() {
	help := dialogs.HelpDialog(func() {
		a.closeDialog("help")
	})
	a.showDialog("help", help, 56, 28)
}

// fetch runs a poll in the background and reports failures in the header.
// Must be called on the UI goroutine.
func (a *App) fetch() {
	a.home.SetStatus("Refreshing...")
	go func() {
		ok := a.opts.Poller.Fetch(context.Background())
		a.tapp.QueueUpdateDraw(func() {
			if ok {
				a.home.SetStatus("")
			} else {
				a.home.SetStatus("Refresh failed")
			}
			a.refreshHome()
		})
	}()
}

func (a *App) onRefresh() {
	a.home.ShowLoading()
	a.fetch()
}

func (a *App) open(url string) {
	if err := a.opts.OpenURL(url); err != nil {
		a.logger.Warn("ui: open browser", "url", url, "err", err)
		a.showError("Could not open a browser.\n\n" + url)
	}
}

func (a *App) onToken() {
	form := dialogs.TokenDialog(func(token string) {
		a.closeDialog("token")
		if err := a.opts.Tokens.SetSessionToken(token); err != nil {
			a.showError("Could not save token: " + err.Error())
			return
		}
		// the cookie change schedules a fetch; show progress until it lands
		a.home.ShowLoading()
	}, func() {
		a.closeDialog("token")
	})
	a.showDialog("token", form, 64, 7)
}

func (a *App) onLogout() {
	modal := dialogs.ConfirmDialog("Are you sure you want to log out?", "Log out", func() {
		a.closeDialog("confirm")
		a.home.ShowLoading()
		go func() {
			ok := a.opts.Poller.Logout(context.Background())
			a.tapp.QueueUpdateDraw(func() {
				if !ok {
					a.home.SetStatus("Logout failed")
				}
				a.refreshHome()
			})
		}()
	}, func() {
		a.closeDialog("confirm")
	})
	a.pages.AddPage("confirm", modal, true, true)
	a.tapp.SetFocus(modal)
}

func (a *App) onHistory() {
	if a.opts.History == nil {
		return
	}
	a.history = dialogs.NewHistoryDialog(a.opts.History, func() {
		a.history = nil
		a.closeDialog("history")
	}, func() {
		a.tapp.QueueUpdateDraw(a.fetch)
	})
	a.showDialog("history", a.history, 60, 16)
}

func (a *App) showError(msg string) {
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(_ int, _ string) {
			a.closeDialog("error")
		})
	a.pages.AddPage("error", modal, true, true)
	a.tapp.SetFocus(modal)
}
