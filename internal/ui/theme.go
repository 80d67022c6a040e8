package ui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/zsprackett/cursor-balance/internal/badge"
)

// Theme colors for the TUI.
var (
	ColorBackground      = tcell.NewHexColor(0x1e1e2e)
	ColorBackgroundPanel = tcell.NewHexColor(0x181825)
	ColorText            = tcell.NewHexColor(0xcdd6f4)
	ColorBorder          = tcell.NewHexColor(0x45475a)
)

// tview color tags
const (
	tagHeading = "#89b4fa"
	tagMuted   = "#6c7086"
	tagKey     = "#a6e3a1"
	tagWarn    = "#f9e2af"
)

// LevelColor is the badge background for a level. The hex values match the
// badge package so the terminal and the file/tmux sinks agree.
func LevelColor(l badge.Level) tcell.Color {
	return tcell.GetColor(l.Color())
}

// BadgeText renders a badge as a colored block for the header.
func BadgeText(b badge.Badge) string {
	return "[#ffffff:" + b.Color + ":b] " + b.Text + " [-:-:-]"
}

// levelTag is the tview color tag for a usage percent.
func levelTag(percent float64) string {
	return badge.LevelFor(percent).Color()
}
