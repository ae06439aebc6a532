package web

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/justestif/spotify-connect/internal/session"
)

const (
	sessionCookieName = "session"
	stateCookiePrefix = "oauth_state_"
	stateCookieMaxAge = 300 // 5 minutes
	cookieIssuer      = "spotify-connect"
)

// ErrInvalidCookie is returned when a session cookie fails verification.
var ErrInvalidCookie = errors.New("invalid session cookie")

// CookieSigner issues and verifies HS256-signed session cookies.
// The subject is the Spotify user ID and the JWT ID is the session ID.
type CookieSigner struct {
	key []byte
	ttl time.Duration
}

// NewCookieSigner creates a signer keyed by secret. An empty secret means a random key,
// so cookies do not survive a restart.
func NewCookieSigner(secret string, ttl time.Duration) (*CookieSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating cookie key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	return &CookieSigner{key: key, ttl: ttl}, nil
}

// Sign returns the cookie value for s.
func (c *CookieSigner) Sign(s *session.Session) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   s.UserID,
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Parse verifies value and returns the user and session IDs it names.
func (c *CookieSigner) Parse(value string) (userID, sessionID string, err error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return "", "", ErrInvalidCookie
	}
	return claims.Subject, claims.ID, nil
}

// SetSession writes the signed session cookie.
func (c *CookieSigner) SetSession(w http.ResponseWriter, s *session.Session) error {
	value, err := c.Sign(s)
	if err != nil {
		return fmt.Errorf("signing session cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.ttl.Seconds()),
	})
	return nil
}

// ClearSession removes the session cookie.
func (c *CookieSigner) ClearSession(w http.ResponseWriter) {
	clearCookie(w, sessionCookieName)
}

// setState stores the OAuth state for provider until the callback.
func setState(w http.ResponseWriter, provider, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookiePrefix + provider,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   stateCookieMaxAge,
	})
}

// checkState reports whether the callback's state matches the stored one, and clears it.
func checkState(w http.ResponseWriter, r *http.Request, provider string) bool {
	cookie, err := r.Cookie(stateCookiePrefix + provider)
	if err != nil {
		return false
	}
	clearCookie(w, stateCookiePrefix+provider)

	state := r.URL.Query().Get("state")
	return state != "" && state == cookie.Value
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
