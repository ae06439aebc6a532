package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// Page sizes are the Web API maximums for each endpoint.
const (
	maxPlaylistItemsPerPage = 100
	maxPlaylistsPerPage     = 50
)

// Playlist fetches a playlist's metadata.
func (c *Client) Playlist(ctx context.Context, playlistID string) (*Playlist, error) {
	full, err := c.api.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		return nil, classify("getting playlist", err)
	}

	p := convertPlaylist(full.SimplePlaylist)
	p.Tracks.Total = int(full.Tracks.Total)
	return &p, nil
}

// PlaylistTrackURIs returns the URI of every track in a playlist, across all pages.
// Episodes and unavailable items are skipped.
func (c *Client) PlaylistTrackURIs(ctx context.Context, playlistID string) ([]string, error) {
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(maxPlaylistItemsPerPage))
	if err != nil {
		return nil, classify("getting playlist items", err)
	}

	var uris []string
	for {
		for _, item := range page.Items {
			if item.Track.Track != nil {
				uris = append(uris, string(item.Track.Track.URI))
			}
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, classify("getting next playlist page", err)
		}
	}

	return uris, nil
}

// AddTrackToPlaylist appends one track to a playlist.
func (c *Client) AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) error {
	_, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), spotify.ID(trackID))
	return classify(fmt.Sprintf("adding track %s", trackID), err)
}

// FollowPlaylist adds a playlist to the user's library as a public follow.
func (c *Client) FollowPlaylist(ctx context.Context, playlistID string) error {
	err := c.api.FollowPlaylist(ctx, spotify.ID(playlistID), true)
	return classify("following playlist", err)
}

// Playlists returns the first page of the user's playlists in provider order.
func (c *Client) Playlists(ctx context.Context) ([]Playlist, error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, spotify.Limit(maxPlaylistsPerPage))
	if err != nil {
		return nil, classify("listing playlists", err)
	}

	out := make([]Playlist, 0, len(page.Playlists))
	for _, p := range page.Playlists {
		out = append(out, convertPlaylist(p))
	}
	return out, nil
}
