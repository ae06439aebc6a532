// Command spotify-connect runs the Spotify connect web backend.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/justestif/spotify-connect/internal/auth"
	"github.com/justestif/spotify-connect/internal/config"
	"github.com/justestif/spotify-connect/internal/logging"
	"github.com/justestif/spotify-connect/internal/playback"
	"github.com/justestif/spotify-connect/internal/session"
	"github.com/justestif/spotify-connect/internal/spotify"
	"github.com/justestif/spotify-connect/internal/web"
	webfs "github.com/justestif/spotify-connect/web"
)

func main() {
	app := &cli.Command{
		Name:  "spotify-connect",
		Usage: "Serve Spotify login, playback actions and social account linking",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Path to a .env file",
				Value:   config.DefaultEnvFile,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override LOG_LEVEL (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server (default)",
				Action: serve,
			},
		},
		Action: serve,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	return run(ctx, cmd.String("env-file"), cmd.String("log-level"))
}

func run(ctx context.Context, envFile, logLevel string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger := logging.New(os.Stderr, logLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	spotifyAuth, err := auth.NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.CallbackURL("spotify"),
		auth.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("configuring spotify auth: %w", err)
	}

	var instagram web.CodeExchanger
	if cfg.InstagramClientID != "" && cfg.InstagramClientSecret != "" {
		ex, err := auth.NewInstagram(cfg.InstagramClientID, cfg.InstagramClientSecret, cfg.CallbackURL("instagram"),
			auth.WithHTTPClient(httpClient))
		if err != nil {
			return fmt.Errorf("configuring instagram auth: %w", err)
		}
		instagram = ex
	}

	manager := session.NewManager(spotifyAuth, session.NewStore(cfg.SessionTTL),
		session.WithPollInterval(cfg.PollInterval),
		session.WithClientOptions(spotify.WithTimeout(cfg.HTTPTimeout)),
		session.WithLogger(logging.Component(logger, "session")),
	)
	defer manager.Close()

	cookies, err := web.NewCookieSigner(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}
	if cfg.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}

	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("creating static filesystem: %w", err)
	}

	handlers := web.NewHandlers(web.HandlersConfig{
		Spotify:   spotifyAuth,
		Instagram: instagram,
		XClientID: cfg.XClientID,
		Manager:   manager,
		Cookies:   cookies,
		Playback: playback.New(
			playback.WithSettleDelay(cfg.PlaybackSettleDelay),
			playback.WithLogger(logging.Component(logger, "playback")),
		),
		Targets: web.Targets{
			TrackID:    cfg.SpotifyTrackID,
			ArtistID:   cfg.SpotifyArtistID,
			PlaylistID: cfg.SpotifyPlaylistID,
		},
		StaticFS: static,
		Logger:   logging.Component(logger, "web"),
	})

	server := web.NewServer(web.ServerConfig{
		Port:        cfg.Port,
		Handlers:    handlers,
		RateLimiter: web.NewRateLimiter(cfg.ActionRateLimit, cfg.ActionRateBurst),
		Logger:      logging.Component(logger, "http"),
	})

	return server.Run(ctx)
}
