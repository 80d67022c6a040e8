package scrape

import (
	"fmt"
	"math"
	"strings"
)

const summaryBarWidth = 40

// Summary is the block drawn above the usage table: three amounts and two
// adjacent bars scaled against maxBalance.
type Summary struct {
	Total  float64
	Paid   float64
	Auto   float64
	// PaidPercent spans [0, PaidPercent]. AutoPercent starts where the paid
	// bar ends.
	PaidPercent float64
	AutoPercent float64
	MaxBalance  float64
}

// RenderSummary scales s against maxBalance. A non-positive maxBalance uses
// DefaultMaxBalance.
func RenderSummary(s Sums, maxBalance float64) Summary {
	if maxBalance <= 0 {
		maxBalance = DefaultMaxBalance
	}
	return Summary{
		Total:       s.Total,
		Paid:        s.Others,
		Auto:        s.Auto,
		PaidPercent: barPercent(s.Others, maxBalance),
		AutoPercent: barPercent(s.Auto, maxBalance),
		MaxBalance:  maxBalance,
	}
}

func barPercent(v, maxBalance float64) float64 {
	return math.Min(v/maxBalance*100, 100)
}

// AutoOffset is where the auto bar begins, in percent.
func (s Summary) AutoOffset() float64 { return s.PaidPercent }

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s%-14s%-14s\n", "Total", "Paid Models", "Auto")
	fmt.Fprintf(&b, "%-14s%-14s%-14s\n",
		fmt.Sprintf("%.2f$", s.Total),
		fmt.Sprintf("%.2f$", s.Paid),
		fmt.Sprintf("%.2f$", s.Auto))
	b.WriteString("[" + s.Bar(summaryBarWidth) + "]")
	return b.String()
}

// Bar draws both bars in width cells: '#' for paid, '=' for auto and '.'
// for the rest. The auto bar is clipped at the right edge.
func (s Summary) Bar(width int) string {
	paid := cells(s.PaidPercent, width)
	auto := cells(s.AutoPercent, width)
	if paid+auto > width {
		auto = width - paid
	}
	return strings.Repeat("#", paid) + strings.Repeat("=", auto) + strings.Repeat(".", width-paid-auto)
}

func cells(percent float64, width int) int {
	if percent <= 0 {
		return 0
	}
	n := int(math.Round(percent / 100 * float64(width)))
	return min(n, width)
}
