// Package session keeps logged-in Spotify users in memory and refreshes their playback state.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/spotify-connect/internal/spotify"
)

// DefaultTTL is how long a session lives after login.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotLoggedIn is returned when no session is available.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNotFound is returned when a user has no session.
	ErrNotFound = errors.New("session not found")
)

// Session is one logged-in Spotify user.
type Session struct {
	ID              string             `json:"-"`
	UserID          string             `json:"userId"`
	Token           *oauth2.Token      `json:"-"`
	Profile         spotify.Profile    `json:"profile"`
	CurrentTrack    *spotify.Track     `json:"currentTrack"`
	Playlists       []spotify.Playlist `json:"playlists"`
	FollowedArtists []spotify.Artist   `json:"followedArtists"`
	// Linked maps a social provider to its connection status, e.g. "instagram" -> "connected".
	Linked    map[string]string `json:"linked,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`

	// stop cancels the session's poller.
	stop context.CancelFunc
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}

func (s *Session) halt() {
	if s.stop != nil {
		s.stop()
	}
}

// Store maps user IDs to sessions and remembers insertion order.
// The most recently inserted live session is the active one.
// Field updates replace whole values; readers get copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates an empty store. A ttl of zero or less disables expiry.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Put inserts s, replacing and stopping any previous session for the same user.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if old, ok := st.sessions[s.UserID]; ok {
		old.halt()
		st.removeOrder(s.UserID)
	}
	st.sessions[s.UserID] = s.clone()
	st.order = append(st.order, s.UserID)
}

// Get returns a copy of the user's session.
func (st *Store) Get(userID string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[userID]
	expired := ok && st.expired(s)
	var out *Session
	if ok && !expired {
		out = s.clone()
	}
	st.mu.RUnlock()

	if expired {
		st.evict(userID, s.ID)
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// GetActive returns a copy of the most recently inserted live session.
func (st *Store) GetActive() (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := len(st.order) - 1; i >= 0; i-- {
		userID := st.order[i]
		s := st.sessions[userID]
		if !st.expired(s) {
			return s.clone(), nil
		}
		s.halt()
		delete(st.sessions, userID)
		st.order = slices.Delete(st.order, i, i+1)
	}
	return nil, ErrNotLoggedIn
}

// Update applies fn to a copy of the user's session and stores the result.
// If fn returns an error nothing is written and the error is returned.
func (st *Store) Update(userID string, fn func(*Session) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[userID]
	if !ok || st.expired(s) {
		return ErrNotFound
	}

	next := s.clone()
	if err := fn(next); err != nil {
		return err
	}
	// Identity and lifecycle fields are not editable through Update.
	next.ID, next.UserID, next.CreatedAt, next.stop = s.ID, s.UserID, s.CreatedAt, s.stop
	st.sessions[userID] = next
	return nil
}

// Delete removes the user's session and stops its poller.
func (st *Store) Delete(userID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	s.halt()
	delete(st.sessions, userID)
	st.removeOrder(userID)
	return nil
}

// Clear removes every session and stops all pollers.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, s := range st.sessions {
		s.halt()
	}
	st.sessions = make(map[string]*Session)
	st.order = nil
}

// Len returns the number of stored sessions, expired ones included.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) expired(s *Session) bool {
	return st.ttl > 0 && st.now().Sub(s.CreatedAt) > st.ttl
}

// evict removes an expired session unless it was replaced in the meantime.
func (st *Store) evict(userID, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[userID]
	if !ok || s.ID != sessionID || !st.expired(s) {
		return
	}
	s.halt()
	delete(st.sessions, userID)
	st.removeOrder(userID)
}

func (st *Store) removeOrder(userID string) {
	if i := slices.Index(st.order, userID); i >= 0 {
		st.order = slices.Delete(st.order, i, i+1)
	}
}
