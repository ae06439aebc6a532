// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

const defaultTimeout = 15 * time.Second

// Client wraps the Spotify API client with convenience methods.
// Failures are returned as *APIError and match ErrTokenExpired, ErrForbidden, ErrNotFound or ErrUpstream.
type Client struct {
	api *spotify.Client
}

type options struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithBaseURL points the client at a different Web API root, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets the client whose transport carries requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTimeout sets the per-request timeout. Default is 15s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// NewClient creates a client that authenticates every request with token.
// The token is used as-is; refreshing is the caller's job.
func NewClient(token *oauth2.Token, opts ...Option) *Client {
	o := options{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	base := http.DefaultTransport
	if o.httpClient != nil && o.httpClient.Transport != nil {
		base = o.httpClient.Transport
	}

	httpClient := &http.Client{
		Timeout: o.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   &statusTransport{base: base},
		},
	}

	var clientOpts []spotify.ClientOption
	if o.baseURL != "" {
		clientOpts = append(clientOpts, spotify.WithBaseURL(o.baseURL))
	}

	return &Client{api: spotify.New(httpClient, clientOpts...)}
}

// CurrentUser returns the profile of the token's owner.
func (c *Client) CurrentUser(ctx context.Context) (*Profile, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return nil, classify("getting current user", err)
	}
	profile := convertProfile(user)
	return &profile, nil
}
