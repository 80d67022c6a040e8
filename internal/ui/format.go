package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zsprackett/cursor-balance/internal/balance"
)

const defaultTrialDays = 7

var membershipLabels = map[string]string{
	"free_trial": "Free Trial",
	"free":       "Free",
	"pro":        "Pro",
	"business":   "Business",
}

func FormatCurrency(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// FormatTimeAgo renders a unix-ms timestamp relative to now. Zero means the
// record was never updated.
func FormatTimeAgo(tsMs int64, now time.Time) string {
	if tsMs == 0 {
		return "Never"
	}
	diff := now.Sub(time.UnixMilli(tsMs))
	switch {
	case diff >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	case diff >= time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff >= time.Minute:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	default:
		return "Just now"
	}
}

func FormatMembership(t string) string {
	if t == "" {
		return ""
	}
	if label, ok := membershipLabels[t]; ok {
		return label
	}
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(strings.ReplaceAll(t, "_", " "))
}

// FormatTrial returns the trial line and the used fraction in [0,1].
func FormatTrial(tr balance.Trial) (string, float64) {
	remaining := 0
	if tr.DaysRemaining != nil {
		remaining = *tr.DaysRemaining
	}
	total := defaultTrialDays
	if tr.TotalDays != nil && *tr.TotalDays != 0 {
		total = *tr.TotalDays
	}
	used := total - remaining
	return fmt.Sprintf("%d / %d days (%d left)", used, total, remaining), float64(used) / float64(total)
}

// FormatCycleEnd renders the billing cycle end as "in 12 days (Nov 1)".
func FormatCycleEnd(u balance.Usage, now time.Time) string {
	end, ok := u.BillingCycleEndTime()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s (%s)", humanize.RelTime(end, now, "ago", "from now"), end.Local().Format("Jan 2"))
}

// FormatCount prints whole request counts with thousands separators and keeps
// fractional values as-is.
func FormatCount(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return humanize.Comma(int64(v))
	}
	return humanize.Commaf(v)
}

// progressBar renders a bar for a fraction in [0,1] in the given tview color.
func progressBar(frac float64, width int, color string) string {
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * float64(width)))
	return fmt.Sprintf("[%s]%s[-][%s]%s[-]",
		color, strings.Repeat("█", filled),
		tagMuted, strings.Repeat("░", width-filled))
}
