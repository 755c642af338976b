package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"eventannouncer/internal/model"
	"eventannouncer/internal/window"
)

const (
	ProviderGoogle = "google"
	ProviderICS    = "ics"
)

// CalendarConfig describes where upcoming events are read from.
type CalendarConfig struct {
	// Provider selects the event source: "google" (Calendar API v3) or "ics".
	Provider string `yaml:"provider" json:"provider"`
	// ID is the Google calendar identifier (e.g. "abc@group.calendar.google.com").
	ID string `yaml:"id" json:"id"`
	// APIKey is the Google API key used for public calendars.
	APIKey string `yaml:"api_key" json:"-"`
	// CredentialsFile is a service account JSON file, used instead of APIKey
	// for private calendars.
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// ICSURL is the feed fetched when Provider is "ics".
	ICSURL string `yaml:"ics_url" json:"-"`

	MaxResults int           `yaml:"max_results" json:"max_results"`
	Horizon    time.Duration `yaml:"horizon" json:"horizon"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// WebhookConfig describes the outbound notification channel.
type WebhookConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	// ID is "<numeric id>/<token>" as shown in the Discord webhook URL.
	ID      string        `yaml:"id" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// WindowConfig is the YAML shape of a reminder window.
type WindowConfig struct {
	Name      string        `yaml:"name" json:"name"`
	Lead      time.Duration `yaml:"lead" json:"lead"`
	Tolerance time.Duration `yaml:"tolerance" json:"tolerance"`
}

// DedupeConfig enables the in-memory sent-set.
type DedupeConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the ops HTTP listen address. Empty disables the server.
	Listen string `yaml:"listen" json:"listen"`

	// Schedule is a standard 5-field cron spec for the tick cadence.
	Schedule string `yaml:"schedule" json:"schedule"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Webhook  WebhookConfig  `yaml:"webhook" json:"webhook"`

	Windows []WindowConfig `yaml:"windows" json:"windows"`
	// WindowAlign is "leading" or "trailing", see window.Align.
	WindowAlign string `yaml:"window_align" json:"window_align"`

	Dedupe DedupeConfig `yaml:"dedupe" json:"dedupe"`
}

var webhookIDPattern = regexp.MustCompile(`^[0-9]+/[A-Za-z0-9_\-]+$`)

// DefaultWindows mirrors the two announcements the bot has always made.
func DefaultWindows() []WindowConfig {
	return []WindowConfig{
		{Name: "soon", Lead: time.Minute, Tolerance: time.Minute},
		{Name: "in 30 minutes", Lead: 30 * time.Minute, Tolerance: time.Minute},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Schedule: "* * * * *",
		LogLevel: "info",
		Calendar: CalendarConfig{
			Provider:   ProviderGoogle,
			MaxResults: 5,
			Horizon:    48 * time.Hour,
			Timeout:    15 * time.Second,
		},
		Webhook: WebhookConfig{
			BaseURL: "https://discord.com",
			Timeout: 10 * time.Second,
		},
		Windows:     DefaultWindows(),
		WindowAlign: string(window.AlignLeading),
		Dedupe: DedupeConfig{
			Enabled:   false,
			Retention: 2 * time.Hour,
		},
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	c.Calendar.Provider = strings.ToLower(strings.TrimSpace(c.Calendar.Provider))
	if c.Calendar.Provider == "" {
		c.Calendar.Provider = d.Calendar.Provider
	}
	if c.Calendar.MaxResults <= 0 {
		c.Calendar.MaxResults = d.Calendar.MaxResults
	}
	if c.Calendar.Horizon <= 0 {
		c.Calendar.Horizon = d.Calendar.Horizon
	}
	if c.Calendar.Timeout <= 0 {
		c.Calendar.Timeout = d.Calendar.Timeout
	}
	if c.Webhook.BaseURL == "" {
		c.Webhook.BaseURL = d.Webhook.BaseURL
	}
	c.Webhook.BaseURL = strings.TrimRight(c.Webhook.BaseURL, "/")
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = d.Webhook.Timeout
	}
	if len(c.Windows) == 0 {
		c.Windows = d.Windows
	}
	if c.WindowAlign == "" {
		c.WindowAlign = d.WindowAlign
	}
	if c.Dedupe.Retention <= 0 {
		c.Dedupe.Retention = d.Dedupe.Retention
	}
}

// ApplyEnv overrides secrets and identifiers from the environment. The
// variable names match the ones the hosted function used.
func (c *Config) ApplyEnv() {
	c.Calendar.ID = getenvDefault("CALENDAR_ID", c.Calendar.ID)
	c.Calendar.APIKey = getenvDefault("CALENDAR_APIKEY", c.Calendar.APIKey)
	c.Calendar.ICSURL = getenvDefault("CALENDAR_ICS_URL", c.Calendar.ICSURL)
	c.Webhook.ID = getenvDefault("WEBHOOK_ID", c.Webhook.ID)
	c.Listen = getenvDefault("ANNOUNCER_LISTEN", c.Listen)
}

// ReminderWindows converts the configured windows to model values.
func (c *Config) ReminderWindows() []model.ReminderWindow {
	out := make([]model.ReminderWindow, 0, len(c.Windows))
	for _, w := range c.Windows {
		out = append(out, model.ReminderWindow{
			Name:      w.Name,
			Lead:      w.Lead,
			Tolerance: w.Tolerance,
		})
	}
	return out
}

// Validate checks that everything the core needs is present and well formed.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Calendar.Provider {
	case ProviderGoogle:
		if c.Calendar.ID == "" {
			errs = append(errs, errors.New("calendar.id is required (or set CALENDAR_ID)"))
		}
		if c.Calendar.APIKey == "" && c.Calendar.CredentialsFile == "" {
			errs = append(errs, errors.New("calendar.api_key or calendar.credentials_file is required (or set CALENDAR_APIKEY)"))
		}
	case ProviderICS:
		if c.Calendar.ICSURL == "" {
			errs = append(errs, errors.New("calendar.ics_url is required for the ics provider (or set CALENDAR_ICS_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("calendar.provider %q is not supported", c.Calendar.Provider))
	}

	if c.Webhook.ID == "" {
		errs = append(errs, errors.New("webhook.id is required (or set WEBHOOK_ID)"))
	} else if !webhookIDPattern.MatchString(c.Webhook.ID) {
		errs = append(errs, errors.New("webhook.id must look like <numeric id>/<token>"))
	}
	if !strings.HasPrefix(c.Webhook.BaseURL, "http://") && !strings.HasPrefix(c.Webhook.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("webhook.base_url %q must be an http(s) URL", c.Webhook.BaseURL))
	}

	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule %q: %w", c.Schedule, err))
	}

	if _, err := window.ParseAlign(c.WindowAlign); err != nil {
		errs = append(errs, err)
	}
	if err := window.Validate(c.ReminderWindows()); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned. Secrets are still expected from the environment.
//   - Otherwise the YAML is unmarshalled and defaults are filled in.
//   - Environment overrides are applied last in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventannouncer-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
