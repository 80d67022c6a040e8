package usagepoller_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/cursor-balance/internal/applog"
	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/cookies"
	"github.com/zsprackett/cursor-balance/internal/cursorapi"
	"github.com/zsprackett/cursor-balance/internal/db"
	"github.com/zsprackett/cursor-balance/internal/events"
	"github.com/zsprackett/cursor-balance/internal/usagepoller"
)

type fakeAPI struct {
	mu         sync.Mutex
	me         *cursorapi.Me
	meErr      error
	panicOnMe  bool
	summary    *cursorapi.UsageSummary
	summaryErr error
	stripe     *cursorapi.Stripe
	stripeErr  error
	events     *cursorapi.UsageEvents
	eventsErr  error
	meCalls    chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		me: &cursorapi.Me{Email: "dev@example.com", Name: "Dev"},
		summary: &cursorapi.UsageSummary{
			Plan: cursorapi.Plan{
				APIPercentUsed: 63.4, AutoPercentUsed: 12, TotalPercentUsed: 75.4,
				Used: 1268, Limit: 2000, Remaining: 732,
			},
			MembershipType:    "pro",
			BillingCycleStart: "2026-10-01T00:00:00Z",
			BillingCycleEnd:   "2026-11-01T00:00:00Z",
		},
		stripe:  &cursorapi.Stripe{MembershipType: "pro"},
		meCalls: make(chan struct{}, 10),
	}
}

func (f *fakeAPI) FetchMe(context.Context, string) (*cursorapi.Me, error) {
	select {
	case f.meCalls <- struct{}{}:
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnMe {
		panic("boom")
	}
	return f.me, f.meErr
}

func (f *fakeAPI) FetchUsageSummary(context.Context, string) (*cursorapi.UsageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, f.summaryErr
}

func (f *fakeAPI) FetchStripe(context.Context, string) (*cursorapi.Stripe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stripe, f.stripeErr
}

func (f *fakeAPI) FetchFilteredUsageEvents(context.Context, string, time.Time, time.Time) (*cursorapi.UsageEvents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, f.eventsErr
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Broadcast(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db      *db.DB
	store   *balance.Store
	jar     *cookies.Jar
	api     *fakeAPI
	badge   *badge.Current
	events  *recorder
	clock   *quartz.Mock
	options usagepoller.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Migrate())
	t.Cleanup(func() { conn.Close() })

	f := &fixture{
		db:     conn,
		store:  balance.NewStore(conn, applog.Discard()),
		jar:    cookies.NewJar(conn, "cursor.com"),
		api:    newFakeAPI(),
		badge:  badge.NewCurrent(),
		events: &recorder{},
		clock:  quartz.NewMock(t),
	}
	f.clock.Set(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	f.options = usagepoller.Options{
		Store:       f.store,
		API:         f.api,
		Cookies:     f.jar,
		History:     conn,
		Indicator:   f.badge,
		Broadcaster: f.events,
		Clock:       f.clock,
		Logger:      applog.Discard(),
	}
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.jar.SetSessionToken("user_01ABC%3A%3Aeyjhbgcioi"))
}

func (f *fixture) poller() *usagepoller.Poller {
	return usagepoller.New(f.options)
}

func TestFetchWithoutCookiesIsLoggedOut(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.poller().Fetch(context.Background()))

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsLoggedIn)
	assert.Nil(t, rec.Usage)
	assert.Equal(t, badge.Unknown, f.badge.Get())
	assert.Equal(t, []string{events.TypeLoggedOut}, f.events.types())
	assert.Empty(t, f.api.meCalls, "no request without cookies")
}

func TestFetchStoresRecord(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	require.True(t, f.poller().Fetch(context.Background()))

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.IsLoggedIn)
	assert.Equal(t, f.clock.Now().UnixMilli(), rec.LastUpdate)
	require.NotNil(t, rec.User)
	assert.Equal(t, "dev@example.com", rec.User.Email)
	require.NotNil(t, rec.Usage)
	assert.Equal(t, 63.4, rec.Usage.APIPercentUsed)
	assert.Equal(t, "pro", rec.Usage.MembershipType)
	assert.Equal(t, "2026-11-01T00:00:00Z", rec.Usage.BillingCycleEnd)
	require.NotNil(t, rec.Trial)
	assert.False(t, rec.Trial.IsOnTrial)
	assert.Nil(t, rec.DetailedUsage)

	assert.Equal(t, badge.Badge{Text: "63%", Color: badge.ColorYellow, Level: badge.LevelYellow}, f.badge.Get())
	assert.Equal(t, []string{events.TypeBalanceUpdated}, f.events.types())

	snaps, err := f.db.GetUsageSnapshots(10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 63.4, snaps[0].APIPercent)
	assert.NotEmpty(t, snaps[0].PollID)
}

func TestFetchTrial(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	left, total := 3, 14
	f.api.stripe = &cursorapi.Stripe{MembershipType: "free_trial", DaysRemainingOnTrial: &left, TrialLengthDays: &total}

	require.True(t, f.poller().Fetch(context.Background()))

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec.Trial)
	assert.True(t, rec.Trial.IsOnTrial)
	assert.Equal(t, 3, *rec.Trial.DaysRemaining)
	assert.Equal(t, 14, *rec.Trial.TotalDays)
}

func TestFetchRejectedSessionLogsOut(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	p := f.poller()
	require.True(t, p.Fetch(context.Background()))

	f.api.meErr = &cursorapi.StatusError{Endpoint: cursorapi.PathMe, Code: http.StatusUnauthorized}
	assert.False(t, p.Fetch(context.Background()))

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsLoggedIn)
	assert.Nil(t, rec.User)
	assert.Nil(t, rec.Usage)
	assert.Equal(t, badge.Unknown, f.badge.Get())
}

func TestFetchMissingEmailLogsOut(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.me = &cursorapi.Me{}

	assert.False(t, f.poller().Fetch(context.Background()))
	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsLoggedIn)
}

func TestFetchTransportErrorKeepsState(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	p := f.poller()
	require.True(t, p.Fetch(context.Background()))

	f.api.meErr = errors.New("dial tcp: connection refused")
	assert.False(t, p.Fetch(context.Background()))

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.IsLoggedIn)
	require.NotNil(t, rec.Usage)
}

func TestFetchSummaryFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	p := f.poller()
	require.True(t, p.Fetch(context.Background()))
	before, err := f.store.Load()
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.api.summaryErr = &cursorapi.StatusError{Endpoint: cursorapi.PathUsageSummary, Code: http.StatusInternalServerError}
	assert.False(t, p.Fetch(context.Background()))

	after, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFetchStripeFailureTolerated(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.stripeErr = errors.New("timeout")

	require.True(t, f.poller().Fetch(context.Background()))
	rec, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec.Trial)
	assert.False(t, rec.Trial.IsOnTrial)
	assert.Nil(t, rec.Trial.DaysRemaining)
	assert.Nil(t, rec.Trial.TotalDays)
}

func TestFetchDetailedFromAPI(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.options.DetailedFromAPI = true
	f.api.events = &cursorapi.UsageEvents{
		TotalCount: 3,
		Events: []cursorapi.UsageEvent{
			{Model: "auto", Cost: 0.5},
			{Model: "claude-4-sonnet", Cost: 1.25},
			{Model: "gpt-5", Cost: 0},
		},
	}

	require.True(t, f.poller().Fetch(context.Background()))

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec.DetailedUsage)
	assert.Equal(t, balance.SourceAPI, rec.DetailedUsage.Source)
	assert.InDelta(t, 1.75, rec.DetailedUsage.Total, 1e-9)
	assert.InDelta(t, 0.5, rec.DetailedUsage.Auto, 1e-9)
	require.NotNil(t, rec.DetailedUsage.EventCount)
	assert.Equal(t, 3, *rec.DetailedUsage.EventCount)

	snaps, err := f.db.GetUsageSnapshots(1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 1.75, snaps[0].DetailedTotal, 1e-9)
}

func TestFetchDetailedFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.options.DetailedFromAPI = true
	f.api.eventsErr = errors.New("forbidden")

	require.True(t, f.poller().Fetch(context.Background()))
	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec.DetailedUsage)
}

func TestFetchRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.panicOnMe = true

	assert.False(t, f.poller().Fetch(context.Background()))
}

func TestSaveDetailedKeepsFetchedData(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	p := f.poller()
	require.True(t, p.Fetch(context.Background()))

	f.clock.Advance(time.Minute)
	require.NoError(t, p.SaveDetailed(context.Background(), balance.DetailedUsage{Total: 4, Auto: 1, Others: 3}))

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec.DetailedUsage)
	assert.Equal(t, balance.SourcePage, rec.DetailedUsage.Source)
	assert.Equal(t, f.clock.Now().UnixMilli(), rec.LastDetailedUpdate)
	require.NotNil(t, rec.Usage)
	assert.Equal(t, "dev@example.com", rec.User.Email)
	assert.Contains(t, f.events.types(), events.TypeDetailedUsage)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	p := f.poller()
	require.True(t, p.Fetch(context.Background()))
	require.NoError(t, p.SaveDetailed(context.Background(), balance.DetailedUsage{Total: 1}))

	require.True(t, p.Logout(context.Background()))

	header, err := f.jar.Header()
	require.NoError(t, err)
	assert.Empty(t, header)

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsLoggedIn)
	assert.Nil(t, rec.User)
	assert.Nil(t, rec.Usage)
	assert.Nil(t, rec.Trial)
	assert.Nil(t, rec.DetailedUsage)
	assert.Zero(t, rec.LastUpdate)
	assert.Equal(t, badge.Unknown, f.badge.Get())
}

func TestStartSchedulesInitialFetchAndTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t)
	f.login(t)
	f.options.Interval = 5 * time.Minute
	f.options.InitialDelay = usagepoller.InstallDelay
	p := f.poller()

	tickTrap := f.clock.Trap().NewTicker("poller", "tick")
	defer tickTrap.Close()
	initialTrap := f.clock.Trap().AfterFunc("poller", "initial")
	defer initialTrap.Close()

	go p.Start(ctx)

	tick := tickTrap.MustWait(ctx)
	assert.Equal(t, 5*time.Minute, tick.Duration)
	tick.MustRelease(ctx)
	initial := initialTrap.MustWait(ctx)
	assert.Equal(t, 2*time.Second, initial.Duration)
	initial.MustRelease(ctx)

	f.clock.Advance(2 * time.Second).MustWait(ctx)
	waitCall(ctx, t, f.api.meCalls)

	f.clock.Advance(5*time.Minute - 2*time.Second).MustWait(ctx)
	waitCall(ctx, t, f.api.meCalls)

	p.Stop()
}

func TestTriggerAfter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t)
	f.login(t)
	p := f.poller()

	trap := f.clock.Trap().AfterFunc("poller", "trigger")
	defer trap.Close()

	go p.OnCookiesChanged()
	call := trap.MustWait(ctx)
	assert.Equal(t, time.Second, call.Duration)
	call.MustRelease(ctx)

	f.clock.Advance(time.Second).MustWait(ctx)
	waitCall(ctx, t, f.api.meCalls)

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.IsLoggedIn)
}

func waitCall(ctx context.Context, t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-ctx.Done():
		t.Fatal("timed out waiting for fetch")
	}
}
