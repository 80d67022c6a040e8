package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/events"
	"github.com/zsprackett/cursor-balance/internal/messages"
	"github.com/zsprackett/cursor-balance/internal/metrics"
	"github.com/zsprackett/cursor-balance/internal/notify"
	"github.com/zsprackett/cursor-balance/internal/scrape"
	"github.com/zsprackett/cursor-balance/internal/ui"
	"github.com/zsprackett/cursor-balance/internal/usagepoller"
	"github.com/zsprackett/cursor-balance/internal/webserver"
)

func uiCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Open the usage popup (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, *cfgPath)
		},
	}
}

func daemonCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Poll, serve the local API and watch the dashboard page without a UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(*cfgPath, true)
			if err != nil {
				return err
			}
			defer e.Close()

			svc, err := startServices(ctx, e)
			if err != nil {
				return err
			}
			defer svc.poller.Stop()
			<-ctx.Done()
			e.logger.Info("shutting down")
			return nil
		},
	}
}

func runUI(cmd *cobra.Command, cfgPath string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(cfgPath, true)
	if err != nil {
		return err
	}
	defer e.Close()

	// The poller starts before the app exists; badges sent before then are
	// picked up from svc.current below.
	var app atomic.Pointer[ui.App]
	svc, err := startServices(ctx, e, badge.IndicatorFunc(func(b badge.Badge) {
		if a := app.Load(); a != nil {
			a.SetBadge(b)
		}
	}))
	if err != nil {
		return err
	}
	defer svc.poller.Stop()

	updates, release := svc.hub.Subscribe(8)
	defer release()

	a := ui.NewApp(ui.Options{
		Store:   e.store,
		Poller:  svc.poller,
		Tokens:  e.jar,
		History: e.db,
		Updates: updates,
		Logger:  e.logger,
	})
	app.Store(a)
	a.SetBadge(svc.current.Get())
	return a.Run(ctx)
}

// services are the long-running pieces shared by ui and daemon.
type services struct {
	poller  *usagepoller.Poller
	current *badge.Current
	hub     *events.Hub
}

func startServices(ctx context.Context, e *env, extra ...badge.Indicator) (*services, error) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	hub := events.NewHub()
	current := badge.NewCurrent()
	notifier := notify.New(notify.Config{
		Enabled: e.cfg.Notifications.Enabled,
		Webhook: e.cfg.Notifications.Webhook,
		NtfyURL: e.cfg.Notifications.NtfyURL,
	}, e.logger)

	sinks := append([]badge.Indicator{
		current,
		notifier,
		badge.IndicatorFunc(func(b badge.Badge) {
			hub.Broadcast(events.Event{Type: events.TypeBadge, Badge: &b})
		}),
	}, extra...)

	poller := e.newPoller(pollerDeps{
		indicator:   e.indicator(sinks...),
		broadcaster: hub,
		metrics:     m,
	})
	e.jar.OnChange(poller.OnCookiesChanged)

	// Seed the badge from the stored record so the UI and the API have
	// something to show before the first poll.
	if rec, err := e.store.Load(); err == nil && rec.IsLoggedIn {
		current.SetBadge(badge.ForUsage(rec.Usage))
	}

	dispatcher := messages.NewDispatcher(poller, e.store, e.logger.With("component", "messages"))
	web := webserver.New(dispatcher, current, reg, webserver.Config{
		Enabled:   e.cfg.Webserver.Enabled,
		Port:      e.cfg.Webserver.Port,
		Host:      e.cfg.Webserver.Host,
		JWTSecret: e.cfg.Webserver.Auth.JWTSecret,
	}, e.logger)
	if _, err := web.Start(ctx); err != nil {
		e.logger.Warn("webserver not started", "err", err)
	}
	go forward(ctx, hub, web)

	if path := e.cfg.Scrape.WatchFile; path != "" {
		startWatcher(ctx, e, path, poller)
	}

	poller.Start(ctx)
	return &services{poller: poller, current: current, hub: hub}, nil
}

// forward relays poller events to web clients until ctx is done.
func forward(ctx context.Context, hub *events.Hub, to events.Broadcaster) {
	ch, release := hub.Subscribe(16)
	defer release()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			to.Broadcast(ev)
		}
	}
}

// startWatcher re-scrapes the saved dashboard page at path on every change.
func startWatcher(ctx context.Context, e *env, path string, poller *usagepoller.Poller) {
	w := scrape.NewWatcher(scrape.WatcherOptions{
		Path: path,
		Sink: func(ctx context.Context, sums scrape.Sums) error {
			return poller.SaveDetailed(ctx, balance.DetailedUsage{
				Total:  sums.Total,
				Auto:   sums.Auto,
				Others: sums.Others,
				Source: balance.SourcePage,
			})
		},
		Logger: e.logger,
	})
	go func() {
		if err := w.Run(ctx); err != nil {
			e.logger.Warn("scrape watcher stopped", "path", path, "err", err)
		}
	}()
}
