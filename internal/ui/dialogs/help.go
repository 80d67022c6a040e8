package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const helpText = `[yellow]Keys[-]

  [green]r[-]   Refresh usage now
  [green]d[-]   Open the usage dashboard
  [green]h[-]   Usage history
  [green]i[-]   Paste a session token
  [green]o[-]   Open the login page
  [green]l[-]   Log out
  [green]?[-]   This help
  [green]q[-]   Quit

[yellow]Badge[-]

  [#22c55e]green[-]   under 50% of the plan
  [#f59e0b]yellow[-]  under 80%
  [#ef4444]red[-]     80% and above
  [#666666]?[-]       no data or logged out

Detailed usage comes from a saved dashboard page
(cursorbal scrape) or the events API.

Press [green]Escape[-] or [green]?[-] to close.`

func HelpDialog(onClose func()) *tview.TextView {
	tv := tview.NewTextView()
	tv.SetBorder(true).SetTitle(" Help ").SetTitleAlign(tview.AlignLeft)
	tv.SetDynamicColors(true)
	tv.SetBackgroundColor(tcell.ColorDefault)
	tv.SetText(helpText)
	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == '?' {
			onClose()
			return nil
		}
		return event
	})
	return tv
}
