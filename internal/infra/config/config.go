// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Nodes    []NodeConfig            `yaml:"nodes" validate:"required,min=1,dive"`
	Playback PlaybackConfig          `yaml:"playback"`
	Browser  BrowserConfig           `yaml:"browser"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
}

// NodeConfig represents a single audio node endpoint.
type NodeConfig struct {
	Label    string `yaml:"label" validate:"required"`
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" default:"2333" validate:"gt=0,lte=65535"`
	Password string `yaml:"password"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	StalenessWindowSec int `yaml:"staleness_window_sec" default:"180" validate:"gt=0"`
}

// BrowserConfig represents queue browser configuration.
type BrowserConfig struct {
	PageSize       int `yaml:"page_size" default:"12" validate:"gt=0,lte=25"`
	IdleTimeoutSec int `yaml:"idle_timeout_sec" default:"60" validate:"gt=0"`
}

// FilterConfig represents an admission filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	QueueExhausted  string `yaml:"queue_exhausted" default:"Queue exhausted, leaving"`
	TrackLoadFailed string `yaml:"track_load_failed" default:"Failed to load track"`
	NothingPrevious string `yaml:"nothing_previous" default:"No previously played track"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("NODE_PASSWORD"); v != "" {
		for i := range c.Nodes {
			c.Nodes[i].Password = v
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	labels := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if _, dup := labels[n.Label]; dup {
			return errors.Newf("duplicate node label %q", n.Label)
		}
		labels[n.Label] = struct{}{}
	}

	return nil
}

// StalenessWindow returns the artifact staleness window as a duration.
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.Playback.StalenessWindowSec) * time.Second
}

// BrowserIdleTimeout returns the browser idle timeout as a duration.
func (c *Config) BrowserIdleTimeout() time.Duration {
	return time.Duration(c.Browser.IdleTimeoutSec) * time.Second
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
