// Package config loads application configuration from the environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvFile is read when present; a missing file is ignored.
const DefaultEnvFile = ".env"

var (
	// ErrMissingCredentials is returned when SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET is not set.
	ErrMissingCredentials = errors.New("missing SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET")

	// ErrInvalidConfig is returned when a value is present but unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds application configuration.
type Config struct {
	// SpotifyClientID and SpotifyClientSecret identify the Spotify application.
	SpotifyClientID     string `mapstructure:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `mapstructure:"SPOTIFY_CLIENT_SECRET"`
	// RedirectURI is the public base URL; provider callbacks are mounted below it.
	RedirectURI string `mapstructure:"REDIRECT_URI"`

	// Action targets used by the POST /spotify/* routes.
	SpotifyTrackID    string `mapstructure:"SPOTIFY_TRACK_ID"`
	SpotifyArtistID   string `mapstructure:"SPOTIFY_ARTIST_ID"`
	SpotifyPlaylistID string `mapstructure:"SPOTIFY_PLAYLIST_ID"`

	Port int `mapstructure:"PORT"`

	InstagramClientID     string `mapstructure:"INSTAGRAM_CLIENT_ID"`
	InstagramClientSecret string `mapstructure:"INSTAGRAM_CLIENT_SECRET"`
	XClientID             string `mapstructure:"X_CLIENT_ID"`

	// SessionSecret signs the session cookie. Empty means a random per-process key.
	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`

	PollInterval        time.Duration `mapstructure:"POLL_INTERVAL"`
	PlaybackSettleDelay time.Duration `mapstructure:"PLAYBACK_SETTLE_DELAY"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// ActionRateLimit is requests per second allowed per client on action routes.
	ActionRateLimit float64 `mapstructure:"ACTION_RATE_LIMIT"`
	ActionRateBurst int     `mapstructure:"ACTION_RATE_BURST"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads envFile (if present), then builds and validates Config from the environment.
// Environment variables override values from the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("SPOTIFY_CLIENT_ID", "")
	v.SetDefault("SPOTIFY_CLIENT_SECRET", "")
	v.SetDefault("REDIRECT_URI", "http://localhost:3000")
	v.SetDefault("SPOTIFY_TRACK_ID", "")
	v.SetDefault("SPOTIFY_ARTIST_ID", "")
	v.SetDefault("SPOTIFY_PLAYLIST_ID", "")
	v.SetDefault("PORT", 3000)
	v.SetDefault("INSTAGRAM_CLIENT_ID", "")
	v.SetDefault("INSTAGRAM_CLIENT_SECRET", "")
	v.SetDefault("X_CLIENT_ID", "")
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("POLL_INTERVAL", "3s")
	v.SetDefault("PLAYBACK_SETTLE_DELAY", "1s")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("ACTION_RATE_LIMIT", 2.0)
	v.SetDefault("ACTION_RATE_BURST", 5)
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		return ErrMissingCredentials
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT %d out of range", ErrInvalidConfig, c.Port)
	}

	durations := map[string]time.Duration{
		"SESSION_TTL":   c.SessionTTL,
		"POLL_INTERVAL": c.PollInterval,
		"HTTP_TIMEOUT":  c.HTTPTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.PlaybackSettleDelay < 0 {
		return fmt.Errorf("%w: PLAYBACK_SETTLE_DELAY must not be negative", ErrInvalidConfig)
	}
	if c.ActionRateLimit <= 0 || c.ActionRateBurst <= 0 {
		return fmt.Errorf("%w: ACTION_RATE_LIMIT and ACTION_RATE_BURST must be positive", ErrInvalidConfig)
	}

	return nil
}

// CallbackURL returns the redirect URL registered for a provider, e.g. "spotify".
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimRight(c.RedirectURI, "/") + "/" + provider + "/callback"
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
