package session

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotify-connect/internal/spotify"
)

// DefaultPollInterval is how often the currently playing track is refreshed.
const DefaultPollInterval = 3 * time.Second

var errSessionReplaced = errors.New("session replaced")

// FetchFunc returns the track currently playing, or nil when nothing is.
type FetchFunc func(ctx context.Context) (*spotify.Track, error)

// Poller periodically writes the currently playing track into one session.
type Poller struct {
	store     *Store
	userID    string
	sessionID string
	interval  time.Duration
	fetch     FetchFunc
	logger    *log.Logger
}

// NewPoller creates a poller for the session identified by userID and sessionID.
func NewPoller(store *Store, userID, sessionID string, interval time.Duration, fetch FetchFunc, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:     store,
		userID:    userID,
		sessionID: sessionID,
		interval:  interval,
		fetch:     fetch,
		logger:    logger.With("user", userID),
	}
}

// Run polls until ctx is cancelled or the session disappears.
// Fetch failures are logged and the next tick proceeds as usual.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Debug("poller started", "interval", p.interval)
	defer p.logger.Debug("poller stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// tick reports whether polling should continue.
func (p *Poller) tick(ctx context.Context) bool {
	track, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, ErrNotFound) {
			return false
		}
		p.logger.Warn("fetching currently playing", "err", err)
		return true
	}

	err = p.store.Update(p.userID, func(s *Session) error {
		if s.ID != p.sessionID {
			return errSessionReplaced
		}
		s.CurrentTrack = track
		return nil
	})
	if err != nil {
		p.logger.Debug("session gone, stopping", "err", err)
		return false
	}
	return true
}
