package scrape_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/cursor-balance/internal/scrape"
)

// fakeWatcher lets tests decide when file events arrive.
type fakeWatcher struct {
	events chan *fsnotify.Event
	added  chan string
	closed chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan *fsnotify.Event, 10),
		added:  make(chan string, 1),
		closed: make(chan struct{}),
	}
}

func (w *fakeWatcher) Add(path string) error {
	w.added <- path
	return nil
}

func (w *fakeWatcher) Remove(string) error { return nil }

func (w *fakeWatcher) Next(ctx context.Context) (*fsnotify.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.closed:
		return nil, errors.New("watcher closed")
	case ev := <-w.events:
		return ev, nil
	}
}

func (w *fakeWatcher) Close() error {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
	return nil
}

func (w *fakeWatcher) write(path string) {
	w.events <- &fsnotify.Event{Name: path, Op: fsnotify.Write}
}

type watchHarness struct {
	path  string
	clock *quartz.Mock
	fw    *fakeWatcher
	sums  chan scrape.Sums
	done  chan error
}

func startWatcher(t *testing.T, initial string) *watchHarness {
	t.Helper()
	h := &watchHarness{
		path:  filepath.Join(t.TempDir(), "usage.html"),
		clock: quartz.NewMock(t),
		fw:    newFakeWatcher(),
		sums:  make(chan scrape.Sums, 4),
		done:  make(chan error, 1),
	}
	h.writeFile(t, initial)
	return h
}

func (h *watchHarness) run(ctx context.Context) {
	w := scrape.NewWatcher(scrape.WatcherOptions{
		Path:        h.path,
		FileWatcher: h.fw,
		Clock:       h.clock,
		Sink: func(_ context.Context, s scrape.Sums) error {
			h.sums <- s
			return nil
		},
	})
	go func() { h.done <- w.Run(ctx) }()
}

func (h *watchHarness) writeFile(t *testing.T, html string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.path, []byte(html), 0644))
}

func (h *watchHarness) nextSums(ctx context.Context, t *testing.T) scrape.Sums {
	t.Helper()
	select {
	case s := <-h.sums:
		return s
	case <-ctx.Done():
		t.Fatal("timed out waiting for scraped sums")
		return scrape.Sums{}
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWatcherSettlesThenPushes(t *testing.T) {
	ctx := testContext(t)
	h := startWatcher(t, divPage)

	settle := h.clock.Trap().NewTimer("scrape", "settle")
	defer settle.Close()

	runCtx, stop := context.WithCancel(ctx)
	h.run(runCtx)

	assert.Equal(t, filepath.Dir(h.path), <-h.fw.added)

	call := settle.MustWait(ctx)
	assert.Equal(t, 300*time.Millisecond, call.Duration)
	call.MustRelease(ctx)
	h.clock.Advance(300 * time.Millisecond).MustWait(ctx)

	got := h.nextSums(ctx, t)
	assert.InDelta(t, 1237.06, got.Total, 1e-9)

	// A write on the same page is summed without waiting.
	h.writeFile(t, strings.Replace(divPage, "$2.50", "$3.50", 2))
	h.fw.write(h.path)
	got = h.nextSums(ctx, t)
	assert.InDelta(t, 3.50, got.Auto, 1e-9)

	stop()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherPollsUntilTableRenders(t *testing.T) {
	ctx := testContext(t)
	loading := `<html><head><meta name="cursorbal:url" content="https://cursor.com/dashboard?tab=usage"></head>
<body><div class="dashboard-table-scroll-container"></div></body></html>`
	h := startWatcher(t, loading)

	poll := h.clock.Trap().NewTicker("scrape", "poll")
	defer poll.Close()
	settle := h.clock.Trap().NewTimer("scrape", "settle")
	defer settle.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	h.run(runCtx)

	call := poll.MustWait(ctx)
	assert.Equal(t, 100*time.Millisecond, call.Duration)
	call.MustRelease(ctx)

	h.writeFile(t, divPage)
	h.clock.Advance(100 * time.Millisecond).MustWait(ctx)

	settle.MustWait(ctx).MustRelease(ctx)
	h.clock.Advance(300 * time.Millisecond).MustWait(ctx)

	got := h.nextSums(ctx, t)
	assert.InDelta(t, 2.50, got.Auto, 1e-9)
}

func TestWatcherIgnoresOtherPages(t *testing.T) {
	ctx := testContext(t)
	other := strings.Replace(divPage, "dashboard?tab=usage", "settings", 1)
	h := startWatcher(t, other)

	runCtx, stop := context.WithCancel(ctx)
	h.run(runCtx)
	<-h.fw.added

	// Unrelated files in the directory are ignored too.
	h.fw.events <- &fsnotify.Event{Name: filepath.Join(filepath.Dir(h.path), "other.html"), Op: fsnotify.Write}
	h.fw.write(h.path)

	stop()
	require.NoError(t, <-h.done)
	assert.Empty(t, h.sums)
}

func TestScrapeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(tablePage), 0644))

	sums, pageURL, err := scrape.ScrapeFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, scrape.DefaultPageURL, pageURL)
	require.NotNil(t, sums)
	assert.InDelta(t, 1.65, sums.Total, 1e-9)

	sums, _, err = scrape.ScrapeFile(path, "https://cursor.com/settings")
	require.NoError(t, err)
	assert.Nil(t, sums)

	_, _, err = scrape.ScrapeFile(filepath.Join(t.TempDir(), "missing.html"), "")
	assert.Error(t, err)
}
