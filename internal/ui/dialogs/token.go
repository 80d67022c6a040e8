package dialogs

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const tokenLabel = "Session token"

// TokenDialog asks for the WorkosCursorSessionToken cookie value. Input is
// masked; blank submissions are ignored.
func TokenDialog(onSubmit func(string), onCancel func()) *tview.Form {
	form := tview.NewForm()
	form.SetBorder(true).SetTitle(" Log in ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(tcell.ColorDefault)
	form.SetFieldBackgroundColor(tcell.ColorDefault)

	form.AddPasswordField(tokenLabel, "", 48, '*', nil)
	form.AddButton("Save", func() {
		token := strings.TrimSpace(form.GetFormItemByLabel(tokenLabel).(*tview.InputField).GetText())
		if token != "" {
			onSubmit(token)
		}
	})
	form.AddButton("Cancel", onCancel)
	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onCancel()
			return nil
		}
		return event
	})
	return form
}
