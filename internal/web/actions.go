package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/justestif/spotify-connect/internal/playback"
	"github.com/justestif/spotify-connect/internal/spotify"
)

const maxActionBody = 1 << 16

// addToPlaylistRequest is the body of POST /spotify/add-to-playlist.
type addToPlaylistRequest struct {
	PlaylistID string `json:"playlistId"`
}

// actionFunc runs one orchestrated action against an authenticated client.
type actionFunc func(ctx context.Context, api playback.API) (playback.Result, error)

// PlayTrack plays the configured track on the user's device (POST /spotify/play-track).
func (h *Handlers) PlayTrack(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, "play-track", h.targets.TrackID, "Track ID", false,
		func(ctx context.Context, api playback.API) (playback.Result, error) {
			return h.playback.PlayTrack(ctx, api, h.targets.TrackID)
		})
}

// AddToPlaylist adds the configured track to the playlist named in the body (POST /spotify/add-to-playlist).
func (h *Handlers) AddToPlaylist(w http.ResponseWriter, r *http.Request) {
	if _, err := h.currentSession(r); err != nil {
		writeError(w, err)
		return
	}

	var req addToPlaylistRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActionBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestError("Invalid request body"))
		return
	}
	if req.PlaylistID == "" {
		writeError(w, requestError("No playlist selected"))
		return
	}

	h.runAction(w, r, "add-to-playlist", h.targets.TrackID, "Track ID", true,
		func(ctx context.Context, api playback.API) (playback.Result, error) {
			return h.playback.AddToPlaylist(ctx, api, req.PlaylistID, h.targets.TrackID)
		})
}

// FollowArtist follows the configured artist (POST /spotify/follow-artist).
func (h *Handlers) FollowArtist(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, "follow-artist", h.targets.ArtistID, "Artist ID", true,
		func(ctx context.Context, api playback.API) (playback.Result, error) {
			return h.playback.FollowArtist(ctx, api, h.targets.ArtistID)
		})
}

// FollowPlaylist follows the configured playlist (POST /spotify/follow-playlist).
func (h *Handlers) FollowPlaylist(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, "follow-playlist", h.targets.PlaylistID, "Playlist ID", true,
		func(ctx context.Context, api playback.API) (playback.Result, error) {
			return h.playback.FollowPlaylist(ctx, api, h.targets.PlaylistID)
		})
}

// AddToFavorites saves the configured track (POST /spotify/add-to-favorites).
func (h *Handlers) AddToFavorites(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, "add-to-favorites", h.targets.TrackID, "Track ID", false,
		func(ctx context.Context, api playback.API) (playback.Result, error) {
			return h.playback.AddToFavorites(ctx, api, h.targets.TrackID)
		})
}

// runAction resolves the session, checks the target is configured, and runs fn with token refresh.
// With refreshLibrary set, playlists and followed artists are re-fetched after success.
func (h *Handlers) runAction(w http.ResponseWriter, r *http.Request, name, target, targetName string, refreshLibrary bool, fn actionFunc) {
	sess, err := h.currentSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if target == "" {
		writeError(w, configError(targetName))
		return
	}

	logger := h.logger.With("action", name, "user", sess.UserID)

	var res playback.Result
	err = h.manager.Do(r.Context(), sess.UserID, func(ctx context.Context, c *spotify.Client) error {
		var err error
		res, err = fn(ctx, c)
		return err
	})
	if err != nil {
		logger.Warn("action failed", "err", err)
		writeError(w, err)
		return
	}

	if refreshLibrary {
		if err := h.manager.RefreshLibrary(r.Context(), sess.UserID); err != nil {
			logger.Warn("refreshing library", "err", err)
		}
	}

	logger.Info("action done", "message", res.Message)
	writeJSON(w, http.StatusOK, actionResponse{Success: res.OK, Message: res.Message})
}
