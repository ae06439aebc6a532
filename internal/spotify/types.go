package spotify

import (
	"strings"

	"github.com/zmb3/spotify/v2"
)

// Image is a cover or avatar URL.
type Image struct {
	URL string `json:"url"`
}

// Followers carries a follower count.
type Followers struct {
	Total int `json:"total"`
}

// Profile is the current user's account data.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Country     string    `json:"country"`
	Product     string    `json:"product"`
	Followers   Followers `json:"followers"`
	Images      []Image   `json:"images"`
}

// Owner identifies a playlist owner.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// TrackCount is the number of items in a playlist.
type TrackCount struct {
	Total int `json:"total"`
}

// Playlist is a user's or followed playlist.
type Playlist struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Owner         Owner      `json:"owner"`
	Collaborative bool       `json:"collaborative"`
	Public        bool       `json:"public"`
	Images        []Image    `json:"images"`
	Tracks        TrackCount `json:"tracks"`
}

// Artist is a followed artist.
type Artist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Genres    []string  `json:"genres"`
	Followers Followers `json:"followers"`
	Images    []Image   `json:"images"`
}

// Device is a Spotify Connect playback device.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
}

// Track is a snapshot of the currently playing track.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"` // first listed artist
	Album      string `json:"album"`
	Image      string `json:"image"` // first album image, largest per Spotify ordering
	DurationMs int    `json:"duration_ms"`
	ProgressMs int    `json:"progress_ms"`
	IsPlaying  bool   `json:"is_playing"`
}

// TrackURI returns the spotify:track: URI for a track ID.
func TrackURI(trackID string) string {
	return "spotify:track:" + trackID
}

// TrackIDFromURI returns the ID from a spotify:track: URI, or the input unchanged.
func TrackIDFromURI(uri string) string {
	return strings.TrimPrefix(uri, "spotify:track:")
}

func convertImages(images []spotify.Image) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		out = append(out, Image{URL: img.URL})
	}
	return out
}

func convertProfile(u *spotify.PrivateUser) Profile {
	return Profile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Country:     u.Country,
		Product:     u.Product,
		Followers:   Followers{Total: int(u.Followers.Count)},
		Images:      convertImages(u.Images),
	}
}

func convertPlaylist(p spotify.SimplePlaylist) Playlist {
	return Playlist{
		ID:            p.ID.String(),
		Name:          p.Name,
		Owner:         Owner{ID: p.Owner.ID, DisplayName: p.Owner.DisplayName},
		Collaborative: p.Collaborative,
		Public:        p.IsPublic,
		Images:        convertImages(p.Images),
		Tracks:        TrackCount{Total: int(p.Tracks.Total)},
	}
}

func convertArtist(a spotify.FullArtist) Artist {
	genres := a.Genres
	if genres == nil {
		genres = []string{}
	}
	return Artist{
		ID:        a.ID.String(),
		Name:      a.Name,
		Genres:    genres,
		Followers: Followers{Total: int(a.Followers.Count)},
		Images:    convertImages(a.Images),
	}
}

func convertDevice(d spotify.PlayerDevice) Device {
	return Device{
		ID:       d.ID.String(),
		Name:     d.Name,
		Type:     d.Type,
		IsActive: d.Active,
	}
}

// convertCurrentlyPlaying returns nil when no track item is present.
func convertCurrentlyPlaying(cp *spotify.CurrentlyPlaying) *Track {
	if cp == nil || cp.Item == nil {
		return nil
	}
	item := cp.Item

	track := &Track{
		ID:         item.ID.String(),
		Name:       item.Name,
		Album:      item.Album.Name,
		DurationMs: int(item.Duration),
		ProgressMs: int(cp.Progress),
		IsPlaying:  cp.Playing,
	}
	if len(item.Artists) > 0 {
		track.Artist = item.Artists[0].Name
	}
	if len(item.Album.Images) > 0 {
		track.Image = item.Album.Images[0].URL
	}
	return track
}
