// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/musicalchairs/internal/domain/settings"
)

// Player backends
const (
	BackendSpotify   = "spotify"
	BackendSimulator = "simulator"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Admin   AdminConfig   `yaml:"admin"`
	Player  PlayerConfig  `yaml:"player"`
	Round   RoundConfig   `yaml:"round"`
	Storage StorageConfig `yaml:"storage"`
	Spotify SpotifyConfig `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// PlayerConfig selects and configures the playback engine.
type PlayerConfig struct {
	Backend        string `yaml:"backend" default:"spotify" validate:"oneof=spotify simulator"`
	DeviceID       string `yaml:"device_id"`
	PollIntervalMs int    `yaml:"poll_interval_ms" default:"2000" validate:"gte=250,lte=60000"`
}

// RoundConfig represents round timing configuration.
type RoundConfig struct {
	TickIntervalMs     int             `yaml:"tick_interval_ms" default:"1000" validate:"gte=10,lte=10000"`
	TransportTimeoutMs int             `yaml:"transport_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	SongBounds         settings.Bounds `yaml:"song_bounds"`
	RoundBounds        settings.Bounds `yaml:"round_bounds"`
}

// SetDefaults fills bounds that were left out of the file.
func (r *RoundConfig) SetDefaults() {
	if r.SongBounds == (settings.Bounds{}) {
		r.SongBounds = settings.Bounds{Min: 1, Max: 60}
	}
	if r.RoundBounds == (settings.Bounds{}) {
		r.RoundBounds = settings.Bounds{Min: 5, Max: 30}
	}
}

// StorageConfig represents local persistence configuration.
type StorageConfig struct {
	Path string `yaml:"path" default:"musicalchairs.db" validate:"required"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// HasCredentials reports whether all Spotify credentials are set.
func (s SpotifyConfig) HasCredentials() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
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
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if !c.Round.SongBounds.Valid() {
		return errors.Newf("round.song_bounds %d..%d must satisfy 1 <= min <= max",
			c.Round.SongBounds.Min, c.Round.SongBounds.Max)
	}
	if !c.Round.RoundBounds.Valid() {
		return errors.Newf("round.round_bounds %d..%d must satisfy 1 <= min <= max",
			c.Round.RoundBounds.Min, c.Round.RoundBounds.Max)
	}

	// The Connect player cannot run without an account
	if c.Player.Backend == BackendSpotify && !c.Spotify.HasCredentials() {
		return errors.New("spotify credentials are required for the spotify player backend")
	}

	return nil
}

// TickInterval returns the round tick interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Round.TickIntervalMs) * time.Millisecond
}

// TransportTimeout returns the per-command player timeout.
func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.Round.TransportTimeoutMs) * time.Millisecond
}

// PollInterval returns the currently-playing poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Player.PollIntervalMs) * time.Millisecond
}
