package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/zsprackett/cursor-balance/internal/badge"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Notifier fires system notifications and optional webhook POSTs when the
// usage badge moves to a worse level. It implements badge.Indicator.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	// system is swapped out in tests.
	system func(title, msg string)

	mu   sync.Mutex
	last badge.Level
}

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Second},
		system: sendSystemNotification,
		last:   badge.LevelUnknown,
	}
}

// SetBadge remembers the level and notifies on green→yellow, green→red and
// yellow→red. The first known level after startup or logout is a baseline.
func (n *Notifier) SetBadge(b badge.Badge) {
	n.mu.Lock()
	prev := n.last
	n.last = b.Level
	n.mu.Unlock()

	if prev == badge.LevelUnknown || b.Level.Severity() <= prev.Severity() {
		return
	}
	n.Notify(b)
}

// Notify sends every configured notification for b.
func (n *Notifier) Notify(b badge.Badge) {
	if !n.cfg.Enabled {
		return
	}

	title := "Cursor usage " + string(b.Level)
	msg := fmt.Sprintf("API usage is at %s of the plan", b.Text)
	n.system(title, msg)

	if n.cfg.Webhook != "" {
		n.sendWebhook(b)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(title, msg, b)
	}
}

func sendSystemNotification(title, msg string) {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, msg, title)
		exec.Command("osascript", "-e", script).Run()
	case "linux":
		exec.Command("notify-send", title, msg).Run()
	}
}

type webhookPayload struct {
	Level     string `json:"level"`
	Percent   string `json:"percent"`
	Color     string `json:"color"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(b badge.Badge) {
	payload := webhookPayload{
		Level:     string(b.Level),
		Percent:   b.Text,
		Color:     b.Color,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.client.Post(n.cfg.Webhook, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("webhook notification failed", "err", err)
		return
	}
	resp.Body.Close()
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(title, msg string, b badge.Badge) {
	priority, tag := 3, "warning"
	if b.Level == badge.LevelRed {
		priority, tag = 4, "rotating_light"
	}
	payload := ntfyPayload{
		Title:    title,
		Message:  msg,
		Priority: priority,
		Tags:     []string{tag},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.client.Post(n.cfg.NtfyURL, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("ntfy notification failed", "err", err)
		return
	}
	resp.Body.Close()
}
