package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsprackett/cursor-balance/internal/applog"
	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/config"
	"github.com/zsprackett/cursor-balance/internal/cookies"
	"github.com/zsprackett/cursor-balance/internal/cursorapi"
	"github.com/zsprackett/cursor-balance/internal/db"
	"github.com/zsprackett/cursor-balance/internal/events"
	"github.com/zsprackett/cursor-balance/internal/metrics"
	"github.com/zsprackett/cursor-balance/internal/usagepoller"
)

var errRefreshFailed = errors.New("refresh failed")

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "cursorbal",
		Short:         "Watch Cursor plan usage from the terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, cfgPath)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "path to config.json")
	cmd.AddCommand(
		uiCmd(&cfgPath),
		daemonCmd(&cfgPath),
		statusCmd(&cfgPath),
		refreshCmd(&cfgPath),
		loginCmd(&cfgPath),
		logoutCmd(&cfgPath),
		scrapeCmd(&cfgPath),
		badgeCmd(&cfgPath),
		tokenCmd(&cfgPath),
	)
	return cmd
}

// env holds what every command needs: config, logger and the opened state.
type env struct {
	cfg      config.Config
	cfgPath  string
	firstRun bool
	logger   *slog.Logger
	db       *db.DB
	store    *balance.Store
	jar      *cookies.Jar
	api      *cursorapi.Client
	closers  []io.Closer
}

// openEnv loads config and opens the database. Long-running commands log to
// the rotating file; one-shot commands log warnings to stderr.
func openEnv(cfgPath string, fileLog bool) (*env, error) {
	_, statErr := os.Stat(cfgPath)
	e := &env{cfgPath: cfgPath, firstRun: errors.Is(statErr, os.ErrNotExist)}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	if err := config.EnsureJWTSecret(cfgPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not persist JWT secret: %v\n", err)
	}
	e.cfg = cfg

	if fileLog {
		logger, closer, err := applog.Init(applog.InitConfig{
			LogDir:   cfg.LogDir,
			LogLevel: cfg.LogLevel,
			MaxDays:  7,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
			logger = applog.Stderr(cfg.LogLevel)
		} else {
			e.closers = append(e.closers, closer)
		}
		e.logger = logger
	} else {
		e.logger = applog.Stderr("warn")
	}

	dbPath := config.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		e.Close()
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := db.Open(dbPath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	e.closers = append([]io.Closer{store}, e.closers...)
	if err := store.Migrate(); err != nil {
		e.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	e.db = store
	e.store = balance.NewStore(store, e.logger)
	e.jar = cookies.NewJar(store, cfg.Cursor.Domain)
	e.api = cursorapi.New(cfg.Cursor.BaseURL)
	return e, nil
}

func (e *env) Close() {
	for _, c := range e.closers {
		c.Close()
	}
}

// indicator fans the badge out to the configured sinks plus extra.
func (e *env) indicator(extra ...badge.Indicator) badge.Indicator {
	sinks := badge.Multi(extra)
	if e.cfg.Badge.File != "" {
		sinks = append(sinks, badge.NewFileIndicator(e.cfg.Badge.File, func(err error) {
			e.logger.Warn("write badge file failed", "path", e.cfg.Badge.File, "err", err)
		}))
	}
	return sinks
}

type pollerDeps struct {
	indicator   badge.Indicator
	broadcaster events.Broadcaster
	metrics     *metrics.Metrics
}

func (e *env) newPoller(d pollerDeps) *usagepoller.Poller {
	if d.indicator == nil {
		d.indicator = e.indicator()
	}
	return usagepoller.New(usagepoller.Options{
		Store:           e.store,
		API:             e.api,
		Cookies:         e.jar,
		History:         e.db,
		HistoryKeep:     e.cfg.Poll.HistoryKeep,
		Indicator:       d.indicator,
		Broadcaster:     d.broadcaster,
		Metrics:         d.metrics,
		Interval:        e.cfg.Interval(),
		InitialDelay:    e.startDelay(),
		DetailedFromAPI: e.cfg.Poll.DetailedFromAPI,
		Logger:          e.logger,
	})
}

// startDelay is the configured initial delay, or the install/startup
// default when none is set.
func (e *env) startDelay() time.Duration {
	if e.cfg.Poll.InitialDelay != "" {
		return e.cfg.InitialDelay()
	}
	if e.firstRun {
		return usagepoller.InstallDelay
	}
	return usagepoller.StartupDelay
}
