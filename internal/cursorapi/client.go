// Package cursorapi talks to the cursor.com dashboard endpoints using a
// reconstructed browser cookie header.
package cursorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zsprackett/cursor-balance/internal/scrape"
)

const (
	DefaultBaseURL = "https://cursor.com"

	PathMe             = "/api/auth/me"
	PathUsageSummary   = "/api/usage-summary"
	PathStripe         = "/api/auth/stripe"
	PathFilteredEvents = "/api/dashboard/get-filtered-usage-events"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
	eventsPageSize = 500
	maxEventPages  = 100
)

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. An empty baseURL uses cursor.com.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// FetchMe retrieves the signed-in user.
func (c *Client) FetchMe(ctx context.Context, cookieHeader string) (*Me, error) {
	body, err := c.do(ctx, http.MethodGet, PathMe, cookieHeader, nil)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)
	return &Me{
		Email: res.Get("email").String(),
		Name:  res.Get("name").String(),
	}, nil
}

// FetchUsageSummary retrieves plan usage for the current billing cycle.
func (c *Client) FetchUsageSummary(ctx context.Context, cookieHeader string) (*UsageSummary, error) {
	body, err := c.do(ctx, http.MethodGet, PathUsageSummary, cookieHeader, nil)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)
	plan := res.Get("individualUsage.plan")
	return &UsageSummary{
		Plan: Plan{
			APIPercentUsed:   plan.Get("apiPercentUsed").Float(),
			AutoPercentUsed:  plan.Get("autoPercentUsed").Float(),
			TotalPercentUsed: plan.Get("totalPercentUsed").Float(),
			Used:             plan.Get("used").Float(),
			Limit:            plan.Get("limit").Float(),
			Remaining:        plan.Get("remaining").Float(),
		},
		MembershipType:    res.Get("membershipType").String(),
		BillingCycleEnd:   res.Get("billingCycleEnd").String(),
		BillingCycleStart: res.Get("billingCycleStart").String(),
	}, nil
}

// FetchStripe retrieves the subscription record, which carries trial days.
func (c *Client) FetchStripe(ctx context.Context, cookieHeader string) (*Stripe, error) {
	body, err := c.do(ctx, http.MethodGet, PathStripe, cookieHeader, nil)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)
	return &Stripe{
		DaysRemainingOnTrial: optionalInt(res.Get("daysRemainingOnTrial")),
		TrialLengthDays:      optionalInt(res.Get("trialLengthDays")),
		MembershipType:       res.Get("membershipType").String(),
	}, nil
}

// FetchFilteredUsageEvents lists the usage events between start and end,
// following pages until totalUsageEventsCount events are collected or a
// short page ends the listing. A zero start or end leaves that bound open.
func (c *Client) FetchFilteredUsageEvents(ctx context.Context, cookieHeader string, start, end time.Time) (*UsageEvents, error) {
	out := &UsageEvents{}
	for page := 1; page <= maxEventPages; page++ {
		n, total, err := c.fetchEventsPage(ctx, cookieHeader, start, end, page, out)
		if err != nil {
			return nil, err
		}
		out.TotalCount = total
		if n < eventsPageSize || len(out.Events) >= total {
			break
		}
	}
	return out, nil
}

// fetchEventsPage appends one page of events to out and returns how many
// rows the page held and the reported total.
func (c *Client) fetchEventsPage(ctx context.Context, cookieHeader string, start, end time.Time, page int, out *UsageEvents) (int, int, error) {
	req := map[string]any{
		"teamId":   0,
		"page":     page,
		"pageSize": eventsPageSize,
	}
	if !start.IsZero() {
		req["startDate"] = fmt.Sprintf("%d", start.UnixMilli())
	}
	if !end.IsZero() {
		req["endDate"] = fmt.Sprintf("%d", end.UnixMilli())
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, 0, fmt.Errorf("encode request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, PathFilteredEvents, cookieHeader, payload)
	if err != nil {
		return 0, 0, err
	}

	res := gjson.ParseBytes(body)
	n := 0
	res.Get("usageEventsDisplay").ForEach(func(_, ev gjson.Result) bool {
		out.Events = append(out.Events, UsageEvent{
			Model: ev.Get("model").String(),
			Cost:  eventCost(ev),
		})
		n++
		return true
	})
	return n, int(res.Get("totalUsageEventsCount").Int()), nil
}

func eventCost(ev gjson.Result) float64 {
	if cents := ev.Get("tokenUsage.totalCents"); cents.Exists() {
		return cents.Float() / 100
	}
	return scrape.ParseCost(ev.Get("usageBasedCosts").String())
}

// Sums buckets event costs the same way the dashboard table is summed.
// Events with a non-positive cost are ignored.
func (e *UsageEvents) Sums() scrape.Sums {
	var s scrape.Sums
	for _, ev := range e.Events {
		s.Add(ev.Model, ev.Cost)
	}
	return s
}

func (c *Client) do(ctx context.Context, method, path, cookieHeader string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", c.baseURL)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Endpoint: path, Code: resp.StatusCode, Body: msg}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: parse response: invalid JSON", path)
	}
	return data, nil
}

func optionalInt(r gjson.Result) *int {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := int(r.Int())
	return &v
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
