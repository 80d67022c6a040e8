// Package usagepoller keeps the stored balance record fresh. It polls the
// cursor.com endpoints on a fixed interval and on demand, and owns logout.
package usagepoller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/cookies"
	"github.com/zsprackett/cursor-balance/internal/cursorapi"
	"github.com/zsprackett/cursor-balance/internal/db"
	"github.com/zsprackett/cursor-balance/internal/events"
	"github.com/zsprackett/cursor-balance/internal/metrics"
)

const (
	DefaultInterval     = 5 * time.Minute
	InstallDelay        = 2 * time.Second
	StartupDelay        = 3 * time.Second
	CookieChangeDelay   = time.Second
	defaultHistoryKeep  = 2000
	freeTrialMembership = "free_trial"
)

// API is the subset of cursorapi.Client the poller uses.
type API interface {
	FetchMe(ctx context.Context, cookieHeader string) (*cursorapi.Me, error)
	FetchUsageSummary(ctx context.Context, cookieHeader string) (*cursorapi.UsageSummary, error)
	FetchStripe(ctx context.Context, cookieHeader string) (*cursorapi.Stripe, error)
	FetchFilteredUsageEvents(ctx context.Context, cookieHeader string, start, end time.Time) (*cursorapi.UsageEvents, error)
}

// CookieJar provides the session cookies. *cookies.Jar implements it.
type CookieJar interface {
	Header() (string, error)
	Clear() error
}

// History records one row per successful poll. *db.DB implements it.
type History interface {
	InsertUsageSnapshot(s db.UsageSnapshot) error
	PruneUsageSnapshots(keep int) error
}

type Options struct {
	Store       *balance.Store
	API         API
	Cookies     CookieJar
	History     History
	HistoryKeep int
	Indicator   badge.Indicator
	Broadcaster events.Broadcaster
	Metrics     *metrics.Metrics
	Clock       quartz.Clock
	// Interval between polls. Zero uses DefaultInterval.
	Interval time.Duration
	// InitialDelay before the first poll after Start. Zero polls on the
	// first tick only.
	InitialDelay    time.Duration
	DetailedFromAPI bool
	Logger          *slog.Logger
}

type Poller struct {
	store           *balance.Store
	api             API
	cookies         CookieJar
	history         History
	historyKeep     int
	indicator       badge.Indicator
	broadcaster     events.Broadcaster
	metrics         *metrics.Metrics
	clock           quartz.Clock
	interval        time.Duration
	initialDelay    time.Duration
	detailedFromAPI bool
	logger          *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	timers []*quartz.Timer
}

func New(o Options) *Poller {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.HistoryKeep <= 0 {
		o.HistoryKeep = defaultHistoryKeep
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		store:           o.Store,
		api:             o.API,
		cookies:         o.Cookies,
		history:         o.History,
		historyKeep:     o.HistoryKeep,
		indicator:       o.Indicator,
		broadcaster:     o.Broadcaster,
		metrics:         o.Metrics,
		clock:           o.Clock,
		interval:        o.Interval,
		initialDelay:    o.InitialDelay,
		detailedFromAPI: o.DetailedFromAPI,
		logger:          o.Logger.With("component", "usagepoller"),
		ctx:             context.Background(),
	}
}

// Start schedules the repeating poll and the initial one. It returns
// immediately; polling stops when ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.ctx, p.cancel, p.done = ctx, cancel, done
	p.mu.Unlock()

	ticker := p.clock.NewTicker(p.interval, "poller", "tick")
	if p.initialDelay > 0 {
		p.schedule(p.initialDelay, "initial")
	}

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Fetch(ctx)
			}
		}
	}()
}

// Stop cancels polling and any pending one-shot fetches.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done, timers := p.cancel, p.done, p.timers
	p.timers = nil
	p.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// TriggerAfter runs a single fetch after d.
func (p *Poller) TriggerAfter(d time.Duration) {
	p.schedule(d, "trigger")
}

// OnCookiesChanged is registered with the cookie jar.
func (p *Poller) OnCookiesChanged() {
	p.TriggerAfter(CookieChangeDelay)
}

func (p *Poller) schedule(d time.Duration, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := p.ctx
	if ctx.Err() != nil {
		return
	}
	t := p.clock.AfterFunc(d, func() { p.Fetch(ctx) }, "poller", tag)
	p.timers = append(p.timers, t)
	if len(p.timers) > 16 {
		p.timers = p.timers[len(p.timers)-16:]
	}
}

// Fetch runs one poll and reports whether fresh data was stored. Every
// failure, including a panic, is logged and reported as false.
func (p *Poller) Fetch(ctx context.Context) (ok bool) {
	id := uuid.NewString()
	logger := p.logger.With("poll_id", id)
	start := p.clock.Now()
	result := metrics.PollError
	defer func() {
		if r := recover(); r != nil {
			logger.Error("poll panicked", "panic", r)
			ok = false
			result = metrics.PollError
		}
		p.metrics.ObservePoll(result, p.clock.Since(start).Seconds())
	}()

	result, ok = p.fetch(ctx, id, logger)
	return ok
}

func (p *Poller) fetch(ctx context.Context, id string, logger *slog.Logger) (string, bool) {
	logger.Debug("fetching usage data")

	header, err := p.cookies.Header()
	if err != nil {
		logger.Warn("build cookie header failed", "err", err)
		return metrics.PollError, false
	}
	if cookies.IsLoggedOutHeader(header) {
		logger.Info("no session cookies, not logged in")
		p.setLoggedOut(logger)
		return metrics.PollLoggedOut, false
	}

	me, err := p.api.FetchMe(ctx, header)
	if err != nil {
		var se *cursorapi.StatusError
		if errors.As(err, &se) {
			logger.Info("user info rejected, not logged in", "status", se.Code)
			p.setLoggedOut(logger)
			return metrics.PollLoggedOut, false
		}
		logger.Warn("fetch user info failed", "err", err)
		return metrics.PollError, false
	}
	if me.Email == "" {
		logger.Info("no email in user info, not logged in")
		p.setLoggedOut(logger)
		return metrics.PollLoggedOut, false
	}

	summary, err := p.api.FetchUsageSummary(ctx, header)
	if err != nil {
		logger.Warn("fetch usage summary failed", "err", err)
		return metrics.PollError, false
	}

	stripe, err := p.api.FetchStripe(ctx, header)
	if err != nil {
		logger.Debug("fetch stripe data failed", "err", err)
		stripe = &cursorapi.Stripe{}
	}

	if p.detailedFromAPI {
		p.fetchDetailed(ctx, logger, header, summary)
	}

	rec := balance.Record{
		IsLoggedIn: true,
		LastUpdate: p.clock.Now().UnixMilli(),
		User:       &balance.User{Email: me.Email, Name: me.Name},
		Usage: &balance.Usage{
			APIPercentUsed:   summary.Plan.APIPercentUsed,
			AutoPercentUsed:  summary.Plan.AutoPercentUsed,
			TotalPercentUsed: summary.Plan.TotalPercentUsed,
			Used:             summary.Plan.Used,
			Limit:            summary.Plan.Limit,
			Remaining:        summary.Plan.Remaining,
			MembershipType:   summary.MembershipType,
			BillingCycleEnd:  summary.BillingCycleEnd,
		},
		Trial: &balance.Trial{
			DaysRemaining: stripe.DaysRemainingOnTrial,
			TotalDays:     stripe.TrialLengthDays,
			IsOnTrial:     stripe.MembershipType == freeTrialMembership,
		},
	}
	if err := p.store.SaveFetched(rec); err != nil {
		logger.Warn("save usage data failed", "err", err)
		return metrics.PollError, false
	}

	b := badge.ForUsage(rec.Usage)
	p.setBadge(b)
	p.metrics.SetUsage(rec.Usage)

	full, err := p.store.Load()
	if err != nil {
		logger.Debug("reload record failed", "err", err)
		full = rec
	}
	p.recordHistory(logger, id, full)
	p.broadcast(events.Event{Type: events.TypeBalanceUpdated, Badge: &b, Record: &full})

	logger.Info("usage data saved",
		"email", me.Email,
		"api_percent", rec.Usage.APIPercentUsed,
		"membership", rec.Usage.MembershipType)
	return metrics.PollOK, true
}

// fetchDetailed sums the usage events of the current billing cycle. It is
// best effort; failures leave the stored detailed usage as it was.
func (p *Poller) fetchDetailed(ctx context.Context, logger *slog.Logger, header string, summary *cursorapi.UsageSummary) {
	start, _ := balance.ParseTimestamp(summary.BillingCycleStart)
	end, _ := balance.ParseTimestamp(summary.BillingCycleEnd)
	evs, err := p.api.FetchFilteredUsageEvents(ctx, header, start, end)
	if err != nil {
		logger.Debug("fetch usage events failed", "err", err)
		return
	}
	sums := evs.Sums()
	count := evs.TotalCount
	d := balance.DetailedUsage{
		Total:      sums.Total,
		Auto:       sums.Auto,
		Others:     sums.Others,
		EventCount: &count,
		Source:     balance.SourceAPI,
	}
	if err := p.saveDetailed(d); err != nil {
		logger.Warn("save detailed usage failed", "err", err)
	}
}

func (p *Poller) recordHistory(logger *slog.Logger, id string, rec balance.Record) {
	if p.history == nil || rec.Usage == nil {
		return
	}
	snap := db.UsageSnapshot{
		TsMs:           rec.LastUpdate,
		PollID:         id,
		APIPercent:     rec.Usage.APIPercentUsed,
		AutoPercent:    rec.Usage.AutoPercentUsed,
		TotalPercent:   rec.Usage.TotalPercentUsed,
		Used:           rec.Usage.Used,
		Limit:          rec.Usage.Limit,
		Remaining:      rec.Usage.Remaining,
		MembershipType: rec.Usage.MembershipType,
	}
	if rec.DetailedUsage != nil {
		snap.DetailedTotal = rec.DetailedUsage.Total
	}
	if err := p.history.InsertUsageSnapshot(snap); err != nil {
		logger.Debug("usage snapshot insert failed", "err", err)
		return
	}
	if err := p.history.PruneUsageSnapshots(p.historyKeep); err != nil {
		logger.Debug("usage snapshot prune failed", "err", err)
	}
}

// SaveDetailed stores detailed usage pushed from the dashboard page.
func (p *Poller) SaveDetailed(ctx context.Context, d balance.DetailedUsage) error {
	if d.Source == "" {
		d.Source = balance.SourcePage
	}
	return p.saveDetailed(d)
}

func (p *Poller) saveDetailed(d balance.DetailedUsage) error {
	if err := p.store.SaveDetailed(d, p.clock.Now()); err != nil {
		return err
	}
	p.metrics.SetDetailed(d)
	rec, err := p.store.Load()
	if err != nil {
		p.logger.Debug("reload record failed", "err", err)
		return nil
	}
	p.broadcast(events.Event{Type: events.TypeDetailedUsage, Record: &rec})
	return nil
}

// Logout removes the session cookies and all stored data, then records
// the logged-out state.
func (p *Poller) Logout(ctx context.Context) bool {
	if err := p.cookies.Clear(); err != nil {
		p.logger.Error("logout: clear cookies failed", "err", err)
		return false
	}
	if err := p.store.Clear(); err != nil {
		p.logger.Error("logout: clear storage failed", "err", err)
		return false
	}
	p.setLoggedOut(p.logger)
	p.logger.Info("logout complete")
	return true
}

func (p *Poller) setLoggedOut(logger *slog.Logger) {
	if err := p.store.SetLoggedOut(); err != nil {
		logger.Warn("save logged-out state failed", "err", err)
	}
	p.setBadge(badge.Unknown)
	p.metrics.Reset()
	rec := balance.Record{}
	b := badge.Unknown
	p.broadcast(events.Event{Type: events.TypeLoggedOut, Badge: &b, Record: &rec})
}

func (p *Poller) setBadge(b badge.Badge) {
	if p.indicator != nil {
		p.indicator.SetBadge(b)
	}
}

func (p *Poller) broadcast(e events.Event) {
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(e)
	}
}
