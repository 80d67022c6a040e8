package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

const appDir = ".cursor-balance"

type PollConfig struct {
	IntervalMinutes int    `json:"intervalMinutes"`
	InitialDelay    string `json:"initialDelay"` // Go duration; empty picks 2s on first run, 3s after
	DetailedFromAPI bool   `json:"detailedFromApi"`
	HistoryKeep     int    `json:"historyKeep"`
}

type CursorConfig struct {
	BaseURL string `json:"baseUrl"`
	Domain  string `json:"domain"`
}

type ScrapeConfig struct {
	WatchFile  string  `json:"watchFile"`
	MaxBalance float64 `json:"maxBalance"`
}

type BadgeConfig struct {
	File string `json:"file"`
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwtSecret"`
	TokenTTL  string `json:"tokenTTL"`
}

type WebserverConfig struct {
	Enabled bool       `json:"enabled"`
	Port    int        `json:"port"`
	Host    string     `json:"host"`
	Auth    AuthConfig `json:"auth"`
}

type Config struct {
	Poll          PollConfig          `json:"poll"`
	Cursor        CursorConfig        `json:"cursor"`
	Scrape        ScrapeConfig        `json:"scrape"`
	Badge         BadgeConfig         `json:"badge"`
	Notifications NotificationsConfig `json:"notifications"`
	Webserver     WebserverConfig     `json:"webserver"`
	LogDir        string              `json:"logDir"`
	LogLevel      string              `json:"logLevel"`
}

func Defaults() Config {
	return Config{
		Poll: PollConfig{
			IntervalMinutes: 5,
			HistoryKeep:     2000,
		},
		Cursor: CursorConfig{
			BaseURL: "https://cursor.com",
			Domain:  "cursor.com",
		},
		Scrape: ScrapeConfig{MaxBalance: 10},
		Webserver: WebserverConfig{
			Enabled: true,
			Port:    7777,
			Host:    "127.0.0.1",
			Auth:    AuthConfig{TokenTTL: "720h"},
		},
		LogDir:   filepath.Join(Dir(), "logs"),
		LogLevel: "info",
	}
}

// Dir is the per-user state directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, appDir)
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

func DBPath() string {
	return filepath.Join(Dir(), "state.db")
}

// Interval returns the poll period, falling back to 5 minutes.
func (c Config) Interval() time.Duration {
	if c.Poll.IntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Poll.IntervalMinutes) * time.Minute
}

// InitialDelay parses Poll.InitialDelay, falling back to 2s.
func (c Config) InitialDelay() time.Duration {
	d, err := time.ParseDuration(c.Poll.InitialDelay)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

// TokenTTL returns the lifetime of issued API tokens, falling back to 30 days.
func (c Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Webserver.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// EnsureJWTSecret generates a random secret for the local API if cfg has
// none and persists it to path.
func EnsureJWTSecret(path string, cfg *Config) error {
	if cfg.Webserver.Auth.JWTSecret != "" {
		return nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	cfg.Webserver.Auth.JWTSecret = hex.EncodeToString(b)
	return Save(path, *cfg)
}
