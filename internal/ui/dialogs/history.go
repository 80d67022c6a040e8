package dialogs

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/db"
)

const sparkChars = "▁▂▃▄▅▆▇█"

// historyLen is how many snapshots the sparklines cover (4 hours at the
// default 5 minute interval).
const historyLen = 48

// SnapshotSource is the slice of the DB the history dialog reads.
type SnapshotSource interface {
	GetUsageSnapshots(limit int) ([]db.UsageSnapshot, error)
}

// HistoryDialog shows recent usage snapshots as sparklines.
type HistoryDialog struct {
	*tview.TextView
	source SnapshotSource
}

// NewHistoryDialog loads snapshots from source. onClose runs on Q or
// Escape. onRefresh runs on R in its own goroutine; it should fetch and
// then call Reload through QueueUpdateDraw.
func NewHistoryDialog(source SnapshotSource, onClose func(), onRefresh func()) *HistoryDialog {
	d := &HistoryDialog{
		TextView: tview.NewTextView(),
		source:   source,
	}
	d.SetBorder(true).SetTitle(" Usage History ").SetTitleAlign(tview.AlignLeft)
	d.SetDynamicColors(true)
	d.SetBackgroundColor(tcell.ColorDefault)

	d.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q', event.Rune() == 'Q':
			onClose()
			return nil
		case event.Rune() == 'r', event.Rune() == 'R':
			d.SetText(d.GetText(false) + "\n\n  [yellow]Refreshing...[-]")
			go onRefresh()
			return nil
		}
		return event
	})

	d.Reload()
	return d
}

// Reload re-reads the snapshots and redraws the text.
func (d *HistoryDialog) Reload() {
	history, _ := d.source.GetUsageSnapshots(historyLen)
	d.SetText(buildHistoryText(history))
}

// buildHistoryText renders history, which is newest first.
func buildHistoryText(history []db.UsageSnapshot) string {
	var sb strings.Builder

	if len(history) == 0 {
		sb.WriteString("\n  [yellow]No usage history yet.[-]\n\n")
		sb.WriteString("  Press [green]R[-] to fetch current usage.\n")
		sb.WriteString("\n  [dim]Press Q or Esc to close.[-]")
		return sb.String()
	}

	latest := history[0]
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  [yellow]API usage[-]  [%s]%.0f%%[-]  %s / %s\n",
		badge.LevelFor(latest.APIPercent).Color(), latest.APIPercent,
		trimFloat(latest.Used), trimFloat(latest.Limit))
	if latest.DetailedTotal > 0 {
		fmt.Fprintf(&sb, "  [yellow]Detailed[-]   $%.2f\n", latest.DetailedTotal)
	}
	sb.WriteString("\n")

	if len(history) > 1 {
		sb.WriteString("  [yellow]History (newest right)[-]\n")
		fmt.Fprintf(&sb, "  api   %s\n", buildSparkline(history, func(s db.UsageSnapshot) float64 {
			return s.APIPercent / 100
		}))
		maxSpend := 0.0
		for _, s := range history {
			maxSpend = max(maxSpend, s.DetailedTotal)
		}
		if maxSpend > 0 {
			fmt.Fprintf(&sb, "  spend %s\n", buildSparkline(history, func(s db.UsageSnapshot) float64 {
				return s.DetailedTotal / maxSpend
			}))
		}

		oldest := time.UnixMilli(history[len(history)-1].TsMs)
		newest := time.UnixMilli(latest.TsMs)
		fmt.Fprintf(&sb, "  [dim]%s  →  %s[-]\n",
			oldest.Local().Format("Jan 2 15:04"),
			newest.Local().Format("Jan 2 15:04"))
		sb.WriteString("\n")
	}

	ts := time.UnixMilli(latest.TsMs).Local()
	fmt.Fprintf(&sb, "  [dim]Last updated: %s[-]\n", ts.Format("Jan 2 15:04:05"))
	sb.WriteString("\n  [green]R[-] refresh  [green]Q/Esc[-] close")

	return sb.String()
}

// buildSparkline builds a sparkline from snapshots (history[0] is newest).
// val returns a fraction in [0,1]; values outside are clamped.
func buildSparkline(history []db.UsageSnapshot, val func(db.UsageSnapshot) float64) string {
	runes := []rune(sparkChars)
	var sb strings.Builder
	for i := len(history) - 1; i >= 0; i-- {
		v := min(max(val(history[i]), 0), 1)
		sb.WriteRune(runes[int(v*float64(len(runes)-1))])
	}
	return sb.String()
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
