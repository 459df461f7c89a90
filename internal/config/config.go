package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RenderConfig describes the external render backend: the dashboard page a
// headless Chromium instance navigates to, and the capture geometry.
type RenderConfig struct {
	// PageURL is the dashboard page to capture, e.g. "http://127.0.0.1:3000/dashboard".
	PageURL string `yaml:"page_url" json:"page_url"`
	// Width and Height are the viewport (and artifact) dimensions in pixels.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	// TimeoutSec bounds a single capture.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
}

// FetchConfig bounds the per-user upstream fetches.
type FetchConfig struct {
	// CalendarTimeoutSec applies per calendar endpoint.
	CalendarTimeoutSec int `yaml:"calendar_timeout_sec" json:"calendar_timeout_sec"`
	// WeatherTimeoutSec applies to the combined geocode + forecast pass.
	WeatherTimeoutSec int `yaml:"weather_timeout_sec" json:"weather_timeout_sec"`
	// Parallelism caps how many users are refreshed concurrently so that
	// shared upstreams are not hammered by one cycle.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

// Config is the top-level server configuration. User profiles live in a
// separate JSON document (Users) parsed by internal/user.
type Config struct {
	// Listen is the HTTP listen address for the display/refresh API.
	Listen string `yaml:"listen" json:"listen"`

	// Users is the path to the JSON user registry.
	Users string `yaml:"users" json:"users"`

	// Refresh is a cron-style schedule string for the periodic refresh.
	// The default fires at minute 58 of every hour so artifacts are fresh
	// just before displays poll on the hour.
	Refresh string `yaml:"refresh" json:"refresh"`

	// StartupRefresh controls whether a synchronous refresh runs before the
	// server starts accepting requests. When disabled, the first request for
	// each user takes the cold-cache path instead.
	StartupRefresh *bool `yaml:"startup_refresh,omitempty" json:"startup_refresh,omitempty"`

	Render RenderConfig `yaml:"render" json:"render"`
	Fetch  FetchConfig  `yaml:"fetch" json:"fetch"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	on := true
	return &Config{
		Listen:         "127.0.0.1:8080",
		Users:          "/etc/epdash/users.json",
		Refresh:        "58 * * * *",
		StartupRefresh: &on,
		Render: RenderConfig{
			PageURL:    "http://127.0.0.1:3000/dashboard",
			Width:      960,
			Height:     540,
			TimeoutSec: 30,
		},
		Fetch: FetchConfig{
			CalendarTimeoutSec: 30,
			WeatherTimeoutSec:  10,
			Parallelism:        4,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Users == "" {
		c.Users = def.Users
	}
	if c.Refresh == "" {
		c.Refresh = def.Refresh
	}
	if c.StartupRefresh == nil {
		c.StartupRefresh = def.StartupRefresh
	}
	if c.Render.PageURL == "" {
		c.Render.PageURL = def.Render.PageURL
	}
	if c.Render.Width <= 0 {
		c.Render.Width = def.Render.Width
	}
	if c.Render.Height <= 0 {
		c.Render.Height = def.Render.Height
	}
	if c.Render.TimeoutSec <= 0 {
		c.Render.TimeoutSec = def.Render.TimeoutSec
	}
	if c.Fetch.CalendarTimeoutSec <= 0 {
		c.Fetch.CalendarTimeoutSec = def.Fetch.CalendarTimeoutSec
	}
	if c.Fetch.WeatherTimeoutSec <= 0 {
		c.Fetch.WeatherTimeoutSec = def.Fetch.WeatherTimeoutSec
	}
	if c.Fetch.Parallelism <= 0 {
		c.Fetch.Parallelism = def.Fetch.Parallelism
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".epdash-config-*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
