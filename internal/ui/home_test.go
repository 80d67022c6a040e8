package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
)

func loggedIn() balance.Record {
	return balance.Record{
		IsLoggedIn: true,
		LastUpdate: ago(5 * time.Minute),
		User:       &balance.User{Email: "dev@example.com"},
		Usage: &balance.Usage{
			APIPercentUsed: 85.4,
			Used:           427,
			Limit:          500,
			MembershipType: "pro",
		},
	}
}

func TestRenderLoggedOut(t *testing.T) {
	out := renderRecord(balance.Record{}, now)
	assert.Contains(t, out, "Not logged in")
	assert.Contains(t, out, "]i[-]")
	assert.Contains(t, out, "]o[-]")
}

func TestRenderLoggedIn(t *testing.T) {
	out := renderRecord(loggedIn(), now)
	assert.Contains(t, out, "dev@example.com")
	assert.Contains(t, out, "Pro")
	assert.Contains(t, out, "["+badge.ColorRed+"]85%[-]")
	assert.Contains(t, out, "427 / 500 used")
	assert.Contains(t, out, "Updated 5m ago")
	assert.NotContains(t, out, "Trial")
	assert.NotContains(t, out, "Detailed Usage")
}

func TestRenderBarCapsAtFull(t *testing.T) {
	rec := loggedIn()
	rec.Usage.APIPercentUsed = 140
	out := renderRecord(rec, now)
	assert.Contains(t, out, "140%")
	assert.Contains(t, out, strings.Repeat("█", barWidth))
	assert.NotContains(t, out, "░")
}

func TestRenderUnknownEmail(t *testing.T) {
	rec := loggedIn()
	rec.User = nil
	assert.Contains(t, renderRecord(rec, now), "Unknown")
}

func TestRenderTrialAndDetailed(t *testing.T) {
	rec := loggedIn()
	rec.Trial = &balance.Trial{DaysRemaining: intPtr(2), IsOnTrial: true}
	rec.DetailedUsage = &balance.DetailedUsage{Total: 7.5, Auto: 2.5, Others: 5}
	rec.LastDetailedUpdate = ago(2 * time.Hour)

	out := renderRecord(rec, now)
	assert.Contains(t, out, "5 / 7 days (2 left)")
	assert.Contains(t, out, "Total        $7.50")
	assert.Contains(t, out, "Paid Models  $5.00")
	assert.Contains(t, out, "Auto         $2.50")
	assert.Contains(t, out, "2h ago")
}

func TestRenderTrialHiddenWhenNotOnTrial(t *testing.T) {
	rec := loggedIn()
	rec.Trial = &balance.Trial{DaysRemaining: intPtr(2)}
	assert.NotContains(t, renderRecord(rec, now), "days (")
}

func TestHomeHeaderShowsBadgeAndStatus(t *testing.T) {
	h := NewHome()
	h.SetBadge(badge.ForPercent(42))
	h.SetStatus("Refresh failed")
	text := h.header.GetText(false)
	assert.Contains(t, text, BadgeText(badge.ForPercent(42)))
	assert.Contains(t, text, "Refresh failed")
}
