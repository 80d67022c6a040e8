package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
)

const barWidth = 30

const footerText = "[" + tagKey + "]r[-] refresh  [" + tagKey + "]d[-] dashboard  " +
	"[" + tagKey + "]h[-] history  [" + tagKey + "]i[-] token  [" + tagKey + "]o[-] login  " +
	"[" + tagKey + "]l[-] logout  [" + tagKey + "]?[-] help  [" + tagKey + "]q[-] quit"

// Home is the main screen: badge header, account body and key hints.
type Home struct {
	*tview.Flex
	header *tview.TextView
	body   *tview.TextView
	footer *tview.TextView

	badge  badge.Badge
	status string
}

func NewHome() *Home {
	h := &Home{badge: badge.Unknown}

	h.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.header.SetBackgroundColor(ColorBackgroundPanel)

	h.body = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	h.body.SetBackgroundColor(ColorBackground)
	h.body.SetTextColor(ColorText)
	h.body.SetBorder(true).SetBorderColor(ColorBorder)

	h.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.footer.SetBackgroundColor(ColorBackgroundPanel)
	h.footer.SetText(footerText)

	h.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(h.header, 1, 0, false).
		AddItem(h.body, 0, 1, true).
		AddItem(h.footer, 1, 0, false)

	h.updateHeader()
	h.ShowLoading()
	return h
}

// SetBadge must be called on the UI goroutine.
func (h *Home) SetBadge(b badge.Badge) {
	h.badge = b
	if b.Level == badge.LevelUnknown {
		h.body.SetBorderColor(ColorBorder)
	} else {
		h.body.SetBorderColor(LevelColor(b.Level))
	}
	h.updateHeader()
}

// SetStatus shows a transient message next to the badge. Empty clears it.
func (h *Home) SetStatus(msg string) {
	h.status = msg
	h.updateHeader()
}

func (h *Home) ShowLoading() {
	h.body.SetText(renderLoading())
}

func (h *Home) Update(rec balance.Record, now time.Time) {
	h.body.SetText(renderRecord(rec, now))
}

func (h *Home) updateHeader() {
	text := fmt.Sprintf("[%s::b]CURSOR BALANCE[-::-]  %s", tagHeading, BadgeText(h.badge))
	if h.status != "" {
		text += fmt.Sprintf("  [%s]%s[-]", tagWarn, tview.Escape(h.status))
	}
	h.header.SetText(text)
}

func renderLoading() string {
	return fmt.Sprintf("\n  [%s]Loading...[-]", tagMuted)
}

func renderLoggedOut() string {
	var sb strings.Builder
	sb.WriteString("\n  [::b]Not logged in[::-]\n\n")
	sb.WriteString("  Log in to cursor.com to see your usage.\n\n")
	fmt.Fprintf(&sb, "  Press [%s]i[-] to paste a session token\n", tagKey)
	fmt.Fprintf(&sb, "  or [%s]o[-] to open the login page.\n", tagKey)
	return sb.String()
}

func renderRecord(rec balance.Record, now time.Time) string {
	if !rec.IsLoggedIn {
		return renderLoggedOut()
	}

	var sb strings.Builder
	sb.WriteString("\n")

	email := "Unknown"
	if rec.User != nil && rec.User.Email != "" {
		email = rec.User.Email
	}
	fmt.Fprintf(&sb, "  [::b]%s[::-]", tview.Escape(email))

	if u := rec.Usage; u != nil {
		if m := FormatMembership(u.MembershipType); m != "" {
			fmt.Fprintf(&sb, "  [%s]%s[-]", tagHeading, m)
		}
		sb.WriteString("\n\n")

		percent := math.Round(u.APIPercentUsed)
		fmt.Fprintf(&sb, "  [%s]API Usage[-]  [%s]%d%%[-]\n", tagWarn, levelTag(percent), int(percent))
		fmt.Fprintf(&sb, "  %s\n", progressBar(math.Min(percent, 100)/100, barWidth, levelTag(percent)))
		fmt.Fprintf(&sb, "  %s / %s used\n", FormatCount(u.Used), FormatCount(u.Limit))
		if end := FormatCycleEnd(*u, now); end != "" {
			fmt.Fprintf(&sb, "  [%s]Cycle resets %s[-]\n", tagMuted, end)
		}
	} else {
		sb.WriteString("\n")
	}

	if tr := rec.Trial; tr != nil && tr.IsOnTrial {
		text, frac := FormatTrial(*tr)
		fmt.Fprintf(&sb, "\n  [%s]Trial[-]  %s\n", tagWarn, text)
		fmt.Fprintf(&sb, "  %s\n", progressBar(frac, barWidth, tagHeading))
	}

	if d := rec.DetailedUsage; d != nil {
		fmt.Fprintf(&sb, "\n  [%s]Detailed Usage[-]", tagWarn)
		if rec.LastDetailedUpdate != 0 {
			fmt.Fprintf(&sb, "  [%s]%s[-]", tagMuted, FormatTimeAgo(rec.LastDetailedUpdate, now))
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "  Total        %s\n", FormatCurrency(d.Total))
		fmt.Fprintf(&sb, "  Paid Models  %s\n", FormatCurrency(d.Others))
		fmt.Fprintf(&sb, "  Auto         %s\n", FormatCurrency(d.Auto))
	}

	fmt.Fprintf(&sb, "\n  [%s]Updated %s[-]", tagMuted, FormatTimeAgo(rec.LastUpdate, now))
	return sb.String()
}
