package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/justestif/spotify-connect/internal/logging"
	"github.com/justestif/spotify-connect/internal/spotify"
)

// TokenExchanger trades authorization codes and refresh tokens for access tokens.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Manager owns the login sequence, token refresh and poller lifecycle for sessions in a Store.
type Manager struct {
	exchanger    TokenExchanger
	store        *Store
	clientOpts   []spotify.Option
	pollInterval time.Duration
	logger       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshMu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPollInterval sets how often each session's currently playing track is refreshed.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithClientOptions sets options for every Spotify client the manager builds.
func WithClientOptions(opts ...spotify.Option) ManagerOption {
	return func(m *Manager) {
		m.clientOpts = append(m.clientOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager. Close must be called to stop pollers.
func NewManager(exchanger TokenExchanger, store *Store, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		exchanger:    exchanger,
		store:        store,
		pollInterval: DefaultPollInterval,
		logger:       logging.Discard(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying session store.
func (m *Manager) Store() *Store {
	return m.store
}

// Client returns a Spotify client authenticated with token.
func (m *Manager) Client(token *oauth2.Token) *spotify.Client {
	return spotify.NewClient(token, m.clientOpts...)
}

// Login exchanges code, loads the user's profile and library, stores the session and starts its poller.
// Library fetch failures are logged and leave the lists empty.
func (m *Manager) Login(ctx context.Context, code string) (*Session, error) {
	token, err := m.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	client := m.Client(token)

	profile, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	logger := m.logger.With("user", profile.ID)

	playlists, err := client.Playlists(ctx)
	if err != nil {
		logger.Warn("fetching playlists", "err", err)
		playlists = []spotify.Playlist{}
	}

	artists, err := client.FollowedArtists(ctx)
	if err != nil {
		logger.Warn("fetching followed artists", "err", err)
		artists = []spotify.Artist{}
	}

	pollCtx, stop := context.WithCancel(m.ctx)
	sess := &Session{
		ID:              uuid.NewString(),
		UserID:          profile.ID,
		Token:           token,
		Profile:         *profile,
		Playlists:       playlists,
		FollowedArtists: artists,
		CreatedAt:       time.Now(),
		stop:            stop,
	}
	m.store.Put(sess)

	poller := NewPoller(m.store, sess.UserID, sess.ID, m.pollInterval, m.currentlyPlaying(sess.UserID), m.logger)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		poller.Run(pollCtx)
	}()

	logger.Info("logged in", "name", profile.DisplayName, "playlists", len(playlists), "artists", len(artists))
	return sess.clone(), nil
}

func (m *Manager) currentlyPlaying(userID string) FetchFunc {
	return func(ctx context.Context) (*spotify.Track, error) {
		var track *spotify.Track
		err := m.Do(ctx, userID, func(ctx context.Context, c *spotify.Client) error {
			var err error
			track, err = c.CurrentlyPlaying(ctx)
			return err
		})
		return track, err
	}
}

// Do runs fn with a client for the user's current token.
// If fn fails with spotify.ErrTokenExpired and a refresh token is held, the token is refreshed once and fn runs again.
// A failed refresh returns the error from the first attempt.
func (m *Manager) Do(ctx context.Context, userID string, fn func(ctx context.Context, c *spotify.Client) error) error {
	sess, err := m.store.Get(userID)
	if err != nil {
		return err
	}

	err = fn(ctx, m.Client(sess.Token))
	if !errors.Is(err, spotify.ErrTokenExpired) || sess.Token.RefreshToken == "" {
		return err
	}

	token, refreshErr := m.refresh(ctx, sess)
	if refreshErr != nil {
		m.logger.Warn("refreshing token", "user", userID, "err", refreshErr)
		return err
	}

	return fn(ctx, m.Client(token))
}

// refresh replaces stale's token. Concurrent callers holding the same stale token share one refresh.
func (m *Manager) refresh(ctx context.Context, stale *Session) (*oauth2.Token, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	current, err := m.store.Get(stale.UserID)
	if err != nil {
		return nil, err
	}
	if current.ID != stale.ID {
		return nil, errSessionReplaced
	}
	if current.Token.AccessToken != stale.Token.AccessToken {
		return current.Token, nil
	}

	token, err := m.exchanger.Refresh(ctx, stale.Token.RefreshToken)
	if err != nil {
		return nil, err
	}

	err = m.store.Update(stale.UserID, func(s *Session) error {
		if s.ID != stale.ID {
			return errSessionReplaced
		}
		s.Token = token
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("token refreshed", "user", stale.UserID, "expiry", token.Expiry)
	return token, nil
}

// RefreshLibrary re-fetches the user's playlists and followed artists.
// Whichever list loads is stored even if the other fails.
func (m *Manager) RefreshLibrary(ctx context.Context, userID string) error {
	var (
		playlists              []spotify.Playlist
		artists                []spotify.Artist
		playlistErr, artistErr error
	)

	err := m.Do(ctx, userID, func(ctx context.Context, c *spotify.Client) error {
		playlists, playlistErr = c.Playlists(ctx)
		artists, artistErr = c.FollowedArtists(ctx)
		// Either failing on an expired token should trigger the refresh path.
		if errors.Is(playlistErr, spotify.ErrTokenExpired) {
			return playlistErr
		}
		if errors.Is(artistErr, spotify.ErrTokenExpired) {
			return artistErr
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = m.store.Update(userID, func(s *Session) error {
		if playlistErr == nil {
			s.Playlists = playlists
		}
		if artistErr == nil {
			s.FollowedArtists = artists
		}
		return nil
	})
	if err != nil {
		return err
	}

	return errors.Join(playlistErr, artistErr)
}

// Link records a social provider's status on the user's session.
func (m *Manager) Link(userID, provider, status string) error {
	return m.store.Update(userID, func(s *Session) error {
		linked := make(map[string]string, len(s.Linked)+1)
		for k, v := range s.Linked {
			linked[k] = v
		}
		linked[provider] = status
		s.Linked = linked
		return nil
	})
}

// Logout removes the user's session and stops its poller.
func (m *Manager) Logout(userID string) error {
	if err := m.store.Delete(userID); err != nil {
		return err
	}
	m.logger.Info("logged out", "user", userID)
	return nil
}

// Close stops every poller and clears the store.
func (m *Manager) Close() {
	m.cancel()
	m.store.Clear()
	m.wg.Wait()
}
