package scrape_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/cursor-balance/internal/scrape"
)

const tablePage = `<html><body>
<div class="dashboard-table-scroll-container">
<table>
  <thead><tr><th>Date</th><th>Model</th><th>Tokens</th><th>Cost</th></tr></thead>
  <tbody>
    <tr><td>Oct 1</td><td> Auto </td><td>12k</td><td>$0.40</td></tr>
    <tr><td>Oct 1</td><td>claude-4-sonnet</td><td>40k</td><td><span title="$1.25">$1.2</span></td></tr>
    <tr><td>Oct 2</td><td>gpt-5</td><td>1k</td><td>$0.00</td></tr>
    <tr><td>only one cell</td></tr>
    <tr><td>Oct 3</td><td>o3</td><td>3k</td><td>Included</td></tr>
  </tbody>
</table>
</div>
</body></html>`

const divPage = `<html><head><meta name="cursorbal:url" content="https://cursor.com/dashboard?tab=usage"></head><body>
<div class="dashboard-table-scroll-container">
  <div role="row" class="dashboard-table-row">
    <div role="cell">Oct 1</div><div role="cell">On-Demand</div>
    <div role="cell"><span title="Auto">auto</span></div>
    <div role="cell"><span title="$2.50">$2.50</span></div>
  </div>
  <div role="row" class="dashboard-table-row">
    <div role="cell">Oct 1</div><div role="cell">On-Demand</div>
    <div role="cell"><span title="Claude-4.5-Opus">opus</span></div>
    <div role="cell">$1,234.56</div>
  </div>
  <div role="row" class="dashboard-table-row">
    <div role="cell">Oct 2</div><div role="cell">Included</div>
    <div role="cell"><span title="gpt-5">gpt-5</span></div>
    <div role="cell"><span class="text-brand-gray-400">-</span></div>
  </div>
  <div role="row" class="dashboard-table-row">
    <div role="cell">Oct 2</div><div role="cell">$9.00</div>
  </div>
  <div role="row" class="not-a-dashboard-row">
    <div role="cell">x</div><div role="cell">x</div><div role="cell"><span title="x">x</span></div><div role="cell">$50</div>
  </div>
</div>
</body></html>`

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func TestParseCost(t *testing.T) {
	cases := map[string]float64{
		"":            0,
		"-":           0,
		"$0.00":       0,
		"$1.25":       1.25,
		" $ 3.5 ":     3.5,
		"1234.56":     1234.56,
		"$1,234.56":   1234.56,
		"1.234,56 $":  1234.56,
		"12,50":       12.5,
		"$12,500":     12500,
		"$1,234":      1234,
		"0,5":         0.5,
		"1,000,000":   1000000,
		"$0.40&nbsp;": 0.4,
		"\u00a0$7.10": 7.1,
		"Included":    0,
		"$4.20 (est)": 4.2,
		"1.":          1,
	}
	for in, want := range cases {
		assert.InDelta(t, want, scrape.ParseCost(in), 1e-9, "ParseCost(%q)", in)
	}
}

func TestCalculateSumsTable(t *testing.T) {
	sums := scrape.CalculateSums(doc(t, tablePage))
	require.NotNil(t, sums)
	assert.InDelta(t, 0.40, sums.Auto, 1e-9)
	assert.InDelta(t, 1.25, sums.Others, 1e-9)
	assert.InDelta(t, 1.65, sums.Total, 1e-9)
}

func TestCalculateSumsDivRows(t *testing.T) {
	sums := scrape.CalculateSums(doc(t, divPage))
	require.NotNil(t, sums)
	assert.InDelta(t, 2.50, sums.Auto, 1e-9)
	assert.InDelta(t, 1234.56, sums.Others, 1e-9)
	assert.InDelta(t, 1237.06, sums.Total, 1e-9)
}

func TestCalculateSumsNoTable(t *testing.T) {
	assert.Nil(t, scrape.CalculateSums(doc(t, `<html><body><p>loading</p></body></html>`)))

	empty := scrape.CalculateSums(doc(t, `<table><tbody></tbody></table>`))
	require.NotNil(t, empty)
	assert.Equal(t, scrape.Sums{}, *empty)
}

func TestSumsAdd(t *testing.T) {
	var s scrape.Sums
	s.Add("AUTO-fast", 1)
	s.Add("sonnet", 2)
	s.Add("auto", -3)
	s.Add("auto", 0)
	assert.Equal(t, scrape.Sums{Total: 3, Auto: 1, Others: 2}, s)
}

func TestHasData(t *testing.T) {
	assert.True(t, scrape.HasData(doc(t, tablePage)))
	assert.True(t, scrape.HasData(doc(t, divPage)))
	assert.False(t, scrape.HasData(doc(t, `<div class="dashboard-table-scroll-container"></div>`)))
	assert.False(t, scrape.HasData(doc(t, `<table><tbody><tr><td>a</td></tr></tbody></table>`)))
}

func TestIsUsagePage(t *testing.T) {
	cases := map[string]bool{
		"https://cursor.com/dashboard?tab=usage":          true,
		"https://cursor.com/dashboard?foo=1&tab=usage":    true,
		"https://cursor.com/dashboard#tab=usage":          true,
		"https://cursor.com/dashboard?tab=settings":       false,
		"https://cursor.com/dashboard/usage?tab=usage":    false,
		"https://cursor.com/settings":                     false,
		"https://www.cursor.com/dashboard?tab=usage-more": true,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, scrape.IsUsagePage(u), raw)
		assert.Equal(t, want, scrape.IsUsagePageURL(raw), raw)
	}
	assert.False(t, scrape.IsUsagePage(nil))
}

func TestPageURL(t *testing.T) {
	assert.Equal(t, "https://cursor.com/dashboard?tab=usage", scrape.PageURL(doc(t, divPage)))
	assert.Empty(t, scrape.PageURL(doc(t, tablePage)))
}

func TestRenderSummary(t *testing.T) {
	s := scrape.RenderSummary(scrape.Sums{Total: 7.5, Auto: 2.5, Others: 5}, 0)
	assert.Equal(t, scrape.DefaultMaxBalance, s.MaxBalance)
	assert.InDelta(t, 50, s.PaidPercent, 1e-9)
	assert.InDelta(t, 25, s.AutoPercent, 1e-9)
	assert.InDelta(t, 50, s.AutoOffset(), 1e-9)
	assert.Equal(t, "#####===..", s.Bar(10))

	out := s.String()
	assert.Contains(t, out, "Paid Models")
	assert.Contains(t, out, "7.50$")
	assert.Contains(t, out, "5.00$")
	assert.Contains(t, out, "2.50$")
}

func TestRenderSummaryClamps(t *testing.T) {
	s := scrape.RenderSummary(scrape.Sums{Total: 30, Auto: 10, Others: 20}, 10)
	assert.InDelta(t, 100, s.PaidPercent, 1e-9)
	assert.InDelta(t, 100, s.AutoPercent, 1e-9)
	assert.Equal(t, "##########", s.Bar(10))

	s = scrape.RenderSummary(scrape.Sums{Total: 9, Auto: 6, Others: 3}, 10)
	assert.Equal(t, "###======.", s.Bar(10))
}

func TestScrapeSnapshot(t *testing.T) {
	sums, err := scrape.ScrapeSnapshot("https://cursor.com/dashboard?tab=usage", tablePage)
	require.NoError(t, err)
	require.NotNil(t, sums)
	assert.InDelta(t, 1.65, sums.Total, 1e-9)

	sums, err = scrape.ScrapeSnapshot("https://cursor.com/settings", tablePage)
	require.NoError(t, err)
	assert.Nil(t, sums)

	sums, err = scrape.ScrapeSnapshot("https://cursor.com/dashboard?tab=usage", `<p>loading</p>`)
	require.NoError(t, err)
	assert.Nil(t, sums)
}
