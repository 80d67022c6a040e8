package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix     = "cursorbal-"
	fileSuffix     = ".log"
	defaultMaxDays = 7
)

// DailyRotator is an io.Writer that appends to cursorbal-YYYY-MM-DD.log in
// dir, switching files when the calendar day changes. At most maxDays files
// are kept.
type DailyRotator struct {
	mu      sync.Mutex
	dir     string
	date    string
	file    *os.File
	maxDays int
	now     func() time.Time
}

func NewDailyRotator(dir string, maxDays int) *DailyRotator {
	if maxDays <= 0 {
		maxDays = defaultMaxDays
	}
	return &DailyRotator{
		dir:     dir,
		maxDays: maxDays,
		now:     time.Now,
	}
}

// SetNow replaces the time source. Used in tests only.
func (r *DailyRotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}

func (r *DailyRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if day := r.now().Format(time.DateOnly); day != r.date {
		if err := r.openDay(day); err != nil {
			return 0, err
		}
	}
	return r.file.Write(p)
}

func (r *DailyRotator) openDay(day string) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	f, err := os.OpenFile(filepath.Join(r.dir, filePrefix+day+fileSuffix),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	r.file = f
	r.date = day
	r.prune()
	return nil
}

// prune removes the oldest log files beyond maxDays. Date-stamped names sort
// chronologically.
func (r *DailyRotator) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var logs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			logs = append(logs, name)
		}
	}
	if len(logs) <= r.maxDays {
		return
	}
	slices.Sort(logs)
	for _, name := range logs[:len(logs)-r.maxDays] {
		os.Remove(filepath.Join(r.dir, name))
	}
}

// Close closes the current log file. Writing after Close reopens it.
func (r *DailyRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.date = ""
	return err
}

type InitConfig struct {
	LogDir   string
	LogLevel string
	MaxDays  int
}

// Init installs a file-backed slog logger as the process default and points
// the stdlib log package at the same file. The TUI owns the terminal, so
// nothing may be written to stderr while it runs. Callers must Close the
// returned io.Closer.
func Init(cfg InitConfig) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := NewDailyRotator(cfg.LogDir, cfg.MaxDays)
	logger := slog.New(slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	log.SetOutput(rotator)
	log.SetFlags(0)
	return logger, rotator, nil
}

// Stderr returns a text logger on stderr for short-lived subcommands.
func Stderr(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level string to slog.Level. Defaults to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
