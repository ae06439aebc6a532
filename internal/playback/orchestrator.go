// Package playback runs the multi-step Spotify actions exposed to users.
package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotify-connect/internal/logging"
	"github.com/justestif/spotify-connect/internal/spotify"
)

const defaultSettleDelay = time.Second

// Result messages.
const (
	MsgTrackPlaying         = "Track playing"
	MsgTrackAdded           = "Track added to playlist successfully"
	MsgArtistFollowed       = "Artist followed successfully"
	MsgAlreadyFollowing     = "You are already following this artist"
	MsgPlaylistFollowed     = "Playlist followed successfully"
	MsgTrackSaved           = "Track added to favorites"
	MsgPlaylistNotFound     = "Playlist not found"
	MsgArtistNotFound       = "Artist not found"
	MsgPlaylistNoPermission = "You do not have permission to modify this playlist"
	MsgNoDevice             = "No available devices found. Please open Spotify on any device."
	MsgDuplicateTrack       = "This track is already in the playlist"
)

var (
	// ErrNoDeviceAvailable is returned by PlayTrack when the user has no Spotify Connect device.
	ErrNoDeviceAvailable = errors.New("no available device")

	// ErrDuplicateTrack is returned by AddToPlaylist when the track is already present.
	ErrDuplicateTrack = errors.New("track already in playlist")

	// ErrMissingID is returned when an operation is called with an empty id.
	ErrMissingID = errors.New("missing id")
)

// API is the subset of the Web API the orchestrator drives.
type API interface {
	CurrentUser(ctx context.Context) (*spotify.Profile, error)
	Devices(ctx context.Context) ([]spotify.Device, error)
	TransferPlayback(ctx context.Context, deviceID string) error
	Play(ctx context.Context, deviceID, trackURI string) error
	Playlist(ctx context.Context, playlistID string) (*spotify.Playlist, error)
	PlaylistTrackURIs(ctx context.Context, playlistID string) ([]string, error)
	AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) error
	FollowPlaylist(ctx context.Context, playlistID string) error
	IsFollowingArtist(ctx context.Context, artistID string) (bool, error)
	FollowArtist(ctx context.Context, artistID string) error
	SaveTrack(ctx context.Context, trackID string) error
}

// Result is the outcome of a successful action.
type Result struct {
	OK      bool
	Message string
}

// Orchestrator sequences pre-condition checks and mutations against an API.
type Orchestrator struct {
	settleDelay time.Duration
	logger      *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettleDelay sets the wait between transferring playback and starting it.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.settleDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		settleDelay: defaultSettleDelay,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlayTrack transfers playback to the active device (or the first one) and plays trackID there.
func (o *Orchestrator) PlayTrack(ctx context.Context, api API, trackID string) (Result, error) {
	if trackID == "" {
		return Result{}, fmt.Errorf("track: %w", ErrMissingID)
	}

	devices, err := api.Devices(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(devices) == 0 {
		return Result{}, ErrNoDeviceAvailable
	}

	device := devices[0]
	if i := slices.IndexFunc(devices, func(d spotify.Device) bool { return d.IsActive }); i >= 0 {
		device = devices[i]
	}
	o.logger.Debug("selected device", "device", device.Name, "active", device.IsActive)

	if err := api.TransferPlayback(ctx, device.ID); err != nil {
		return Result{}, err
	}

	if err := sleep(ctx, o.settleDelay); err != nil {
		return Result{}, err
	}

	if err := api.Play(ctx, device.ID, spotify.TrackURI(trackID)); err != nil {
		return Result{}, err
	}

	return Result{OK: true, Message: MsgTrackPlaying}, nil
}

// AddToPlaylist appends trackID when the user may edit the playlist and the track is not already in it.
// The checks and the write are not atomic; a concurrent add can still produce a duplicate.
func (o *Orchestrator) AddToPlaylist(ctx context.Context, api API, playlistID, trackID string) (Result, error) {
	if playlistID == "" {
		return Result{}, fmt.Errorf("playlist: %w", ErrMissingID)
	}
	if trackID == "" {
		return Result{}, fmt.Errorf("track: %w", ErrMissingID)
	}

	playlist, err := api.Playlist(ctx, playlistID)
	if err != nil {
		if errors.Is(err, spotify.ErrNotFound) {
			return Result{}, spotify.NewAPIError(http.StatusNotFound, MsgPlaylistNotFound)
		}
		return Result{}, err
	}

	user, err := api.CurrentUser(ctx)
	if err != nil {
		return Result{}, err
	}

	if playlist.Owner.ID != user.ID && !playlist.Collaborative {
		return Result{}, spotify.NewAPIError(http.StatusForbidden, MsgPlaylistNoPermission)
	}

	uris, err := api.PlaylistTrackURIs(ctx, playlistID)
	if err != nil {
		return Result{}, err
	}
	if slices.Contains(uris, spotify.TrackURI(trackID)) {
		return Result{}, ErrDuplicateTrack
	}

	if err := api.AddTrackToPlaylist(ctx, playlistID, trackID); err != nil {
		return Result{}, err
	}

	return Result{OK: true, Message: MsgTrackAdded}, nil
}

// FollowArtist follows artistID unless the user already does.
func (o *Orchestrator) FollowArtist(ctx context.Context, api API, artistID string) (Result, error) {
	if artistID == "" {
		return Result{}, fmt.Errorf("artist: %w", ErrMissingID)
	}

	following, err := api.IsFollowingArtist(ctx, artistID)
	if err != nil {
		return Result{}, artistError(err)
	}
	if following {
		return Result{OK: true, Message: MsgAlreadyFollowing}, nil
	}

	if err := api.FollowArtist(ctx, artistID); err != nil {
		return Result{}, artistError(err)
	}

	return Result{OK: true, Message: MsgArtistFollowed}, nil
}

// FollowPlaylist follows playlistID unconditionally.
func (o *Orchestrator) FollowPlaylist(ctx context.Context, api API, playlistID string) (Result, error) {
	if playlistID == "" {
		return Result{}, fmt.Errorf("playlist: %w", ErrMissingID)
	}

	if err := api.FollowPlaylist(ctx, playlistID); err != nil {
		return Result{}, err
	}
	return Result{OK: true, Message: MsgPlaylistFollowed}, nil
}

// AddToFavorites saves trackID to the user's library unconditionally.
func (o *Orchestrator) AddToFavorites(ctx context.Context, api API, trackID string) (Result, error) {
	if trackID == "" {
		return Result{}, fmt.Errorf("track: %w", ErrMissingID)
	}

	if err := api.SaveTrack(ctx, trackID); err != nil {
		return Result{}, err
	}
	return Result{OK: true, Message: MsgTrackSaved}, nil
}

func artistError(err error) error {
	if errors.Is(err, spotify.ErrNotFound) {
		return spotify.NewAPIError(http.StatusNotFound, MsgArtistNotFound)
	}
	return err
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
