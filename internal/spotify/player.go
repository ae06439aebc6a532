package spotify

import (
	"context"

	"github.com/zmb3/spotify/v2"
)

// Devices lists the user's Spotify Connect devices in provider order.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	devices, err := c.api.PlayerDevices(ctx)
	if err != nil {
		return nil, classify("listing devices", err)
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, convertDevice(d))
	}
	return out, nil
}

// TransferPlayback moves playback to deviceID without starting it.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string) error {
	err := c.api.TransferPlayback(ctx, spotify.ID(deviceID), false)
	return classify("transferring playback", err)
}

// Play starts playing trackURI on deviceID.
func (c *Client) Play(ctx context.Context, deviceID, trackURI string) error {
	id := spotify.ID(deviceID)
	err := c.api.PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID: &id,
		URIs:     []spotify.URI{spotify.URI(trackURI)},
	})
	return classify("starting playback", err)
}

// CurrentlyPlaying returns the track being played, or nil when nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*Track, error) {
	cp, err := c.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return nil, classify("getting currently playing", err)
	}
	return convertCurrentlyPlaying(cp), nil
}
