package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every key so the host environment cannot leak into a test.
// Viper ignores empty environment values, so defaults and .env values apply.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "REDIRECT_URI",
		"SPOTIFY_TRACK_ID", "SPOTIFY_ARTIST_ID", "SPOTIFY_PLAYLIST_ID", "PORT",
		"INSTAGRAM_CLIENT_ID", "INSTAGRAM_CLIENT_SECRET", "X_CLIENT_ID",
		"SESSION_SECRET", "SESSION_TTL", "POLL_INTERVAL", "PLAYBACK_SETTLE_DELAY",
		"HTTP_TIMEOUT", "ACTION_RATE_LIMIT", "ACTION_RATE_BURST", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")

	cfg, err := Load(missingFile(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", cfg.PollInterval)
	}
	if cfg.PlaybackSettleDelay != time.Second {
		t.Errorf("PlaybackSettleDelay = %v, want 1s", cfg.PlaybackSettleDelay)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.ActionRateBurst != 5 {
		t.Errorf("ActionRateBurst = %d, want 5", cfg.ActionRateBurst)
	}
	if got := cfg.CallbackURL("spotify"); got != "http://localhost:3000/spotify/callback" {
		t.Errorf("CallbackURL() = %q", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("PORT", "8081")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("REDIRECT_URI", "https://example.test/")
	t.Setenv("ACTION_RATE_LIMIT", "0.5")

	cfg, err := Load(missingFile(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8081 {
		t.Errorf("Port = %d, want 8081", cfg.Port)
	}
	if cfg.Addr() != ":8081" {
		t.Errorf("Addr() = %q, want :8081", cfg.Addr())
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.ActionRateLimit != 0.5 {
		t.Errorf("ActionRateLimit = %v, want 0.5", cfg.ActionRateLimit)
	}
	if got := cfg.CallbackURL("instagram"); got != "https://example.test/instagram/callback" {
		t.Errorf("CallbackURL() = %q", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := "SPOTIFY_CLIENT_ID=file-id\nSPOTIFY_CLIENT_SECRET=file-secret\nSPOTIFY_TRACK_ID=track123\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SpotifyClientID != "file-id" {
		t.Errorf("SpotifyClientID = %q, want file-id", cfg.SpotifyClientID)
	}
	if cfg.SpotifyTrackID != "track123" {
		t.Errorf("SpotifyTrackID = %q, want track123", cfg.SpotifyTrackID)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "missing credentials",
			env:     map[string]string{"SPOTIFY_CLIENT_ID": "id"},
			wantErr: ErrMissingCredentials,
		},
		{
			name: "bad port",
			env: map[string]string{
				"SPOTIFY_CLIENT_ID": "id", "SPOTIFY_CLIENT_SECRET": "s", "PORT": "70000",
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "non-positive poll interval",
			env: map[string]string{
				"SPOTIFY_CLIENT_ID": "id", "SPOTIFY_CLIENT_SECRET": "s", "POLL_INTERVAL": "-1s",
			},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(missingFile(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
			}
			if cfg != nil {
				t.Error("Load() returned non-nil config with error")
			}
		})
	}
}
