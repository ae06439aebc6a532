package spotify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"
)

const maxFollowedArtistsPerPage = 50

// SaveTrack adds a track to the user's Liked Songs.
func (c *Client) SaveTrack(ctx context.Context, trackID string) error {
	err := c.api.AddTracksToLibrary(ctx, spotify.ID(trackID))
	return classify("saving track", err)
}

// IsFollowingArtist reports whether the user follows artistID.
func (c *Client) IsFollowingArtist(ctx context.Context, artistID string) (bool, error) {
	follows, err := c.api.CurrentUserFollows(ctx, "artist", spotify.ID(artistID))
	if err != nil {
		return false, classify("checking artist follow", err)
	}
	if len(follows) == 0 {
		return false, fmt.Errorf("checking artist follow: %w", NewAPIError(http.StatusBadGateway, "empty follow status response"))
	}
	return follows[0], nil
}

// FollowArtist follows artistID.
func (c *Client) FollowArtist(ctx context.Context, artistID string) error {
	err := c.api.FollowArtist(ctx, spotify.ID(artistID))
	return classify("following artist", err)
}

// FollowedArtists returns the first page of followed artists.
func (c *Client) FollowedArtists(ctx context.Context) ([]Artist, error) {
	page, err := c.api.CurrentUsersFollowedArtists(ctx, spotify.Limit(maxFollowedArtistsPerPage))
	if err != nil {
		return nil, classify("listing followed artists", err)
	}

	out := make([]Artist, 0, len(page.Artists))
	for _, a := range page.Artists {
		out = append(out, convertArtist(a))
	}
	return out, nil
}
