package scrape

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/coder/quartz"
	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultPageURL is assumed for pages that do not record where they came
	// from.
	DefaultPageURL = "https://cursor.com/dashboard?tab=usage"

	pollInterval = 100 * time.Millisecond
	settleDelay  = 300 * time.Millisecond
)

// FileWatcher delivers file system events one at a time.
type FileWatcher interface {
	Add(path string) error
	Remove(path string) error
	Next(ctx context.Context) (*fsnotify.Event, error)
	Close() error
}

type fsWatcher struct {
	w *fsnotify.Watcher
}

// NewFSNotify returns a FileWatcher backed by fsnotify.
func NewFSNotify() (FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &fsWatcher{w: w}, nil
}

func (f *fsWatcher) Add(path string) error    { return f.w.Add(path) }
func (f *fsWatcher) Remove(path string) error { return f.w.Remove(path) }
func (f *fsWatcher) Close() error             { return f.w.Close() }

func (f *fsWatcher) Next(ctx context.Context) (*fsnotify.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-f.w.Events:
		if !ok {
			return nil, errors.New("watcher closed")
		}
		return &ev, nil
	case err, ok := <-f.w.Errors:
		if !ok {
			return nil, errors.New("watcher closed")
		}
		return nil, err
	}
}

// Sink receives sums scraped from the page.
type Sink func(ctx context.Context, sums Sums) error

type WatcherOptions struct {
	// Path is the saved dashboard page.
	Path string
	// URL is used when the page carries no cursorbal:url meta tag.
	URL         string
	FileWatcher FileWatcher
	Sink        Sink
	Clock       quartz.Clock
	Logger      *slog.Logger
}

// Watcher re-reads a saved dashboard page whenever it changes. A change of
// page URL waits for the table to render and settle before summing. Any
// other write is summed straight away.
type Watcher struct {
	path    string
	url     string
	fw      FileWatcher
	sink    Sink
	clock   quartz.Clock
	logger  *slog.Logger
	lastURL string
}

func NewWatcher(o WatcherOptions) *Watcher {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		path:   filepath.Clean(o.Path),
		url:    o.URL,
		fw:     o.FileWatcher,
		sink:   o.Sink,
		clock:  o.Clock,
		logger: o.Logger.With("component", "scrape", "path", o.Path),
	}
}

// Run blocks until ctx is done or the file watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	if w.fw == nil {
		fw, err := NewFSNotify()
		if err != nil {
			return err
		}
		w.fw = fw
	}
	defer w.fw.Close()

	// Editors and browsers often replace the file, so watch its directory.
	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	changed := make(chan struct{}, 1)
	errc := make(chan error, 1)
	go func() {
		for {
			ev, err := w.fw.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errc <- err
				}
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	}()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return fmt.Errorf("watch %s: %w", w.path, err)
		case <-changed:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	doc, pageURL, err := w.load()
	if err != nil {
		w.logger.Debug("read page failed", "err", err)
		return
	}
	if !IsUsagePageURL(pageURL) {
		w.lastURL = pageURL
		return
	}

	if pageURL != w.lastURL {
		w.lastURL = pageURL
		doc, err = w.waitForData(ctx, doc)
		if err != nil {
			return
		}
		if !w.sleep(ctx, settleDelay) {
			return
		}
		if doc, _, err = w.load(); err != nil {
			w.logger.Debug("read page failed", "err", err)
			return
		}
	} else if !HasData(doc) {
		return
	}
	w.push(ctx, doc)
}

// waitForData re-reads the page every 100ms until the usage table has rows.
func (w *Watcher) waitForData(ctx context.Context, doc *goquery.Document) (*goquery.Document, error) {
	if HasData(doc) {
		return doc, nil
	}
	ticker := w.clock.NewTicker(pollInterval, "scrape", "poll")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		next, pageURL, err := w.load()
		if err != nil {
			continue
		}
		if !IsUsagePageURL(pageURL) {
			w.lastURL = pageURL
			return nil, errors.New("left usage page")
		}
		if HasData(next) {
			return next, nil
		}
	}
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	t := w.clock.NewTimer(d, "scrape", "settle")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Watcher) push(ctx context.Context, doc *goquery.Document) {
	sums := CalculateSums(doc)
	if sums == nil || sums.Total < 0 {
		return
	}
	w.logger.Info("page scraped", "total", sums.Total, "auto", sums.Auto, "others", sums.Others)
	if w.sink == nil {
		return
	}
	if err := w.sink(ctx, *sums); err != nil {
		w.logger.Warn("store scraped usage failed", "err", err)
	}
}

func (w *Watcher) load() (*goquery.Document, string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("parse page: %w", err)
	}
	return doc, cmp.Or(PageURL(doc), w.url, DefaultPageURL), nil
}

// ScrapeSnapshot sums a page posted by a browser helper. It returns nil
// sums when the page is not the usage tab or the table has not rendered.
func ScrapeSnapshot(pageURL, html string) (*Sums, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	pageURL = cmp.Or(pageURL, PageURL(doc), DefaultPageURL)
	if !IsUsagePageURL(pageURL) || !HasData(doc) {
		return nil, nil
	}
	return CalculateSums(doc), nil
}

// ScrapeFile sums a saved page. Unlike the watcher it does not wait for the
// table to render.
func ScrapeFile(path, pageURL string) (*Sums, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("parse page: %w", err)
	}
	resolved := cmp.Or(pageURL, PageURL(doc), DefaultPageURL)
	if !IsUsagePageURL(resolved) {
		return nil, resolved, nil
	}
	return CalculateSums(doc), resolved, nil
}
