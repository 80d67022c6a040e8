package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/ui"
)

const statusBarWidth = 20

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// paint wraps s in a 24-bit ANSI foreground for a #rrggbb color.
func paint(s, hex string, color bool) string {
	if !color {
		return s
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return s
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", v>>16&0xff, v>>8&0xff, v&0xff, s)
}

func textBar(frac float64) string {
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * statusBarWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", statusBarWidth-filled) + "]"
}

// printStatus writes the stored record the way the popup lays it out.
func printStatus(w io.Writer, rec balance.Record, now time.Time, color bool) {
	if !rec.IsLoggedIn {
		fmt.Fprintln(w, "Not logged in. Run `cursorbal login` to add a session.")
		return
	}

	email := "Unknown"
	if rec.User != nil && rec.User.Email != "" {
		email = rec.User.Email
	}
	if u := rec.Usage; u != nil && u.MembershipType != "" {
		fmt.Fprintf(w, "%s (%s)\n", email, ui.FormatMembership(u.MembershipType))
	} else {
		fmt.Fprintln(w, email)
	}

	if u := rec.Usage; u != nil {
		b := badge.ForUsage(u)
		percent := math.Round(u.APIPercentUsed)
		fmt.Fprintf(w, "API usage  %s %s\n", paint(b.Text, b.Color, color), textBar(math.Min(percent, 100)/100))
		fmt.Fprintf(w, "Used       %s / %s\n", ui.FormatCount(u.Used), ui.FormatCount(u.Limit))
		if end := ui.FormatCycleEnd(*u, now); end != "" {
			fmt.Fprintf(w, "Resets     %s\n", end)
		}
	}

	if tr := rec.Trial; tr != nil && tr.IsOnTrial {
		text, _ := ui.FormatTrial(*tr)
		fmt.Fprintf(w, "Trial      %s\n", text)
	}

	if d := rec.DetailedUsage; d != nil {
		fmt.Fprintf(w, "Spend      total %s  paid %s  auto %s\n",
			ui.FormatCurrency(d.Total), ui.FormatCurrency(d.Others), ui.FormatCurrency(d.Auto))
	}

	fmt.Fprintf(w, "Updated    %s\n", ui.FormatTimeAgo(rec.LastUpdate, now))
}
