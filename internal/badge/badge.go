// Package badge computes the small percent indicator shown next to the app
// name and pushes it to whatever displays it.
package badge

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/zsprackett/cursor-balance/internal/balance"
)

const (
	ColorGreen   = "#22c55e"
	ColorYellow  = "#f59e0b"
	ColorRed     = "#ef4444"
	ColorUnknown = "#666666"
)

type Level string

const (
	LevelUnknown Level = "unknown"
	LevelGreen   Level = "green"
	LevelYellow  Level = "yellow"
	LevelRed     Level = "red"
)

type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
	Level Level  `json:"level"`
}

// Unknown is shown when there is no usage data, including when logged out.
var Unknown = Badge{Text: "?", Color: ColorUnknown, Level: LevelUnknown}

// LevelFor buckets a percentage after rounding: below 50 is green, below 80
// yellow, anything else red.
func LevelFor(percent float64) Level {
	p := math.Round(percent)
	switch {
	case p < 50:
		return LevelGreen
	case p < 80:
		return LevelYellow
	default:
		return LevelRed
	}
}

func (l Level) Color() string {
	switch l {
	case LevelGreen:
		return ColorGreen
	case LevelYellow:
		return ColorYellow
	case LevelRed:
		return ColorRed
	default:
		return ColorUnknown
	}
}

// Severity orders levels for escalation checks. Unknown sorts lowest.
func (l Level) Severity() int {
	switch l {
	case LevelGreen:
		return 1
	case LevelYellow:
		return 2
	case LevelRed:
		return 3
	default:
		return 0
	}
}

func ForPercent(percent float64) Badge {
	level := LevelFor(percent)
	return Badge{
		Text:  fmt.Sprintf("%d%%", int(math.Round(percent))),
		Color: level.Color(),
		Level: level,
	}
}

// ForUsage derives the badge from API usage.
func ForUsage(u *balance.Usage) Badge {
	if u == nil {
		return Unknown
	}
	return ForPercent(u.APIPercentUsed)
}

// Tmux renders b as a tmux status-line fragment.
func (b Badge) Tmux() string {
	return fmt.Sprintf("#[fg=%s]%s#[default]", b.Color, b.Text)
}

// Indicator displays a badge.
type Indicator interface {
	SetBadge(b Badge)
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(Badge)

func (f IndicatorFunc) SetBadge(b Badge) { f(b) }

// Multi fans a badge out to several indicators. Nil entries are skipped.
type Multi []Indicator

func (m Multi) SetBadge(b Badge) {
	for _, ind := range m {
		if ind != nil {
			ind.SetBadge(b)
		}
	}
}

// Current remembers the last badge it was given.
type Current struct {
	mu sync.RWMutex
	b  Badge
}

func NewCurrent() *Current { return &Current{b: Unknown} }

func (c *Current) SetBadge(b Badge) {
	c.mu.Lock()
	c.b = b
	c.mu.Unlock()
}

func (c *Current) Get() Badge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.b
}

// FileIndicator writes the tmux-formatted badge to a file so status bars can
// read it with a plain cat.
type FileIndicator struct {
	mu      sync.Mutex
	path    string
	onError func(error)
}

func NewFileIndicator(path string, onError func(error)) *FileIndicator {
	return &FileIndicator{path: path, onError: onError}
}

// SetBadge is safe for concurrent use; the last call wins.
func (f *FileIndicator) SetBadge(b Badge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(f.path, []byte(b.Tmux()+"\n")); err != nil && f.onError != nil {
		f.onError(err)
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
