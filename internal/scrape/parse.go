// Package scrape reads the usage table of the cursor.com dashboard and sums
// spend by model family.
package scrape

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultMaxBalance = 10.0

	selTable         = "table"
	selTableRows     = "table tbody tr"
	selDivRows       = `div[role="row"].dashboard-table-row`
	selDivCells      = `div[role="cell"]`
	selScrollBox     = ".dashboard-table-scroll-container"
	selDash          = ".text-brand-gray-400"
	selPageURLMeta   = `meta[name="cursorbal:url"]`
	autoModelMarker  = "auto"
	usageTabFragment = "tab=usage"
)

// Sums is spend in dollars. Auto covers models whose name contains "auto",
// Others everything else.
type Sums struct {
	Total  float64 `json:"total"`
	Auto   float64 `json:"auto"`
	Others float64 `json:"others"`
}

// Add buckets a single cost. Non-positive costs are ignored.
func (s *Sums) Add(model string, cost float64) {
	if cost <= 0 {
		return
	}
	s.Total += cost
	if strings.Contains(strings.ToLower(model), autoModelMarker) {
		s.Auto += cost
	} else {
		s.Others += cost
	}
}

// ParseCost reads a displayed cost such as "$1,234.56" or "12,50 $".
// When both separators appear the last one is the decimal point. A lone
// comma followed by exactly three digits groups thousands ("$12,500");
// any other lone comma is a decimal point. Unparseable text gives 0.
func ParseCost(text string) float64 {
	text = strings.ReplaceAll(text, "&nbsp;", "")
	var b strings.Builder
	for _, r := range text {
		if r == '$' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	num := leadingNumber(b.String())
	if num == "" {
		return 0
	}

	lastComma := strings.LastIndexByte(num, ',')
	lastDot := strings.LastIndexByte(num, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(num, ",") > 1 || len(num)-lastComma-1 == 3 {
			num = strings.ReplaceAll(num, ",", "")
		} else {
			num = strings.Replace(num, ",", ".", 1)
		}
	case strings.Count(num, ".") > 1:
		num = strings.ReplaceAll(num, ".", "")
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return v
}

// leadingNumber returns the signed run of digits and separators at the
// start of s.
func leadingNumber(s string) string {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			digits = true
		} else if c != '.' && c != ',' {
			break
		}
		end++
	}
	if !digits {
		return ""
	}
	return strings.TrimRight(s[:end], ".,")
}

// CalculateSums walks both dashboard layouts. It returns nil when the page
// has neither a table nor div rows.
func CalculateSums(doc *goquery.Document) *Sums {
	tables := doc.Find(selTable)
	divRows := doc.Find(selDivRows)
	if tables.Length() == 0 && divRows.Length() == 0 {
		return nil
	}

	sums := &Sums{}
	tables.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		model := strings.ToLower(strings.TrimSpace(cells.Eq(1).Text()))
		sums.Add(model, ParseCost(cellCost(cells.Last())))
	})

	divRows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(selDivCells)
		if cells.Length() < 3 {
			return
		}
		var model string
		if title, ok := cells.Eq(2).Find("span[title]").First().Attr("title"); ok {
			model = strings.ToLower(strings.TrimSpace(title))
		}
		last := cells.Last()
		if dash := last.Find(selDash).First(); dash.Length() > 0 && strings.TrimSpace(dash.Text()) == "-" {
			return
		}
		sums.Add(model, ParseCost(cellCost(last)))
	})
	return sums
}

func cellCost(cell *goquery.Selection) string {
	if title, ok := cell.Find("[title]").First().Attr("title"); ok {
		return title
	}
	return cell.Text()
}

// HasData reports whether the usage table has rendered at least one row.
func HasData(doc *goquery.Document) bool {
	if doc.Find(selScrollBox).Length() == 0 {
		return false
	}
	return doc.Find(selDivRows).Length() > 0 || doc.Find(selTableRows).Length() > 0
}

// IsUsagePage reports whether u is the usage tab of the dashboard.
func IsUsagePage(u *url.URL) bool {
	if u == nil || u.Path != "/dashboard" {
		return false
	}
	return strings.Contains(u.RawQuery, usageTabFragment) || strings.Contains(u.Fragment, usageTabFragment)
}

// IsUsagePageURL parses raw and applies IsUsagePage.
func IsUsagePageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return IsUsagePage(u)
}

// PageURL returns the page address recorded in a saved page, if any.
func PageURL(doc *goquery.Document) string {
	v, _ := doc.Find(selPageURLMeta).First().Attr("content")
	return strings.TrimSpace(v)
}
