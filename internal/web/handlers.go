package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/justestif/spotify-connect/internal/auth"
	"github.com/justestif/spotify-connect/internal/logging"
	"github.com/justestif/spotify-connect/internal/playback"
	"github.com/justestif/spotify-connect/internal/session"
)

// Providers linked through the social stubs.
const (
	providerInstagram = "instagram"
	providerX         = "x"
	statusConnected   = "connected"
)

const xAuthorizeURL = "https://api.twitter.com/oauth/authorize"

// Authorizer builds a provider authorization URL.
type Authorizer interface {
	AuthURL(state string) string
}

// CodeExchanger is an Authorizer that can also redeem the callback code.
type CodeExchanger interface {
	Authorizer
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Targets are the fixed ids the action routes operate on.
type Targets struct {
	TrackID    string
	ArtistID   string
	PlaylistID string
}

// HandlersConfig holds the dependencies for Handlers.
type HandlersConfig struct {
	Spotify   Authorizer
	Instagram CodeExchanger // nil disables the Instagram stub
	XClientID string        // empty disables the X stub
	Manager   *session.Manager
	Cookies   *CookieSigner
	Playback  *playback.Orchestrator
	Targets   Targets
	StaticFS  fs.FS
	Logger    *log.Logger
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	spotify   Authorizer
	instagram CodeExchanger
	xClientID string
	manager   *session.Manager
	cookies   *CookieSigner
	playback  *playback.Orchestrator
	targets   Targets
	static    fs.FS
	logger    *log.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	orchestrator := cfg.Playback
	if orchestrator == nil {
		orchestrator = playback.New(playback.WithLogger(logger))
	}
	return &Handlers{
		spotify:   cfg.Spotify,
		instagram: cfg.Instagram,
		xClientID: cfg.XClientID,
		manager:   cfg.Manager,
		cookies:   cfg.Cookies,
		playback:  orchestrator,
		targets:   cfg.Targets,
		static:    cfg.StaticFS,
		logger:    logger,
	}
}

// Home serves the static page (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, h.static, "index.html")
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SpotifyAuth starts the Spotify OAuth flow (GET /spotify/auth).
func (h *Handlers) SpotifyAuth(w http.ResponseWriter, r *http.Request) {
	h.startAuth(w, r, "spotify", h.spotify)
}

// SpotifyCallback completes login (GET /spotify/callback).
// Every failure redirects home with the reason in the error query parameter.
func (h *Handlers) SpotifyCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := h.callbackCode(w, r, "spotify")
	if !ok {
		return
	}

	sess, err := h.manager.Login(r.Context(), code)
	if err != nil {
		h.logger.Error("spotify login failed", "err", err)
		redirectError(w, r, loginMessage(err))
		return
	}

	if err := h.cookies.SetSession(w, sess); err != nil {
		h.logger.Error("setting session cookie", "err", err)
		redirectError(w, r, "Failed to create session")
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// SpotifyData returns the caller's session or "Not logged in" (GET /spotify/data).
func (h *Handlers) SpotifyData(w http.ResponseWriter, r *http.Request) {
	sess, err := h.currentSession(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"spotify": msgNotLoggedIn})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spotify": sess})
}

// Data returns every provider's state (GET /data).
func (h *Handlers) Data(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"spotify":   msgNotLoggedIn,
		"instagram": nil,
		"x":         nil,
	}

	if sess, err := h.currentSession(r); err == nil {
		body["spotify"] = sess
		if status, ok := sess.Linked[providerInstagram]; ok {
			body["instagram"] = status
		}
		if status, ok := sess.Linked[providerX]; ok {
			body["x"] = status
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// Logout ends the caller's session (POST /spotify/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.currentSession(r)
	if err == nil {
		if err := h.manager.Logout(sess.UserID); err != nil && !errors.Is(err, session.ErrNotFound) {
			h.logger.Warn("logout", "user", sess.UserID, "err", err)
		}
	}

	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

// InstagramAuth starts the Instagram OAuth flow (GET /instagram/auth).
func (h *Handlers) InstagramAuth(w http.ResponseWriter, r *http.Request) {
	if h.instagram == nil {
		redirectError(w, r, "Instagram is not configured")
		return
	}
	h.startAuth(w, r, providerInstagram, h.instagram)
}

// InstagramCallback exchanges the code and marks Instagram as connected (GET /instagram/callback).
func (h *Handlers) InstagramCallback(w http.ResponseWriter, r *http.Request) {
	if h.instagram == nil {
		redirectError(w, r, "Instagram is not configured")
		return
	}

	code, ok := h.callbackCode(w, r, providerInstagram)
	if !ok {
		return
	}

	sess, err := h.currentSession(r)
	if err != nil {
		redirectError(w, r, msgNotLoggedIn)
		return
	}

	if _, err := h.instagram.Exchange(r.Context(), code); err != nil {
		h.logger.Error("instagram exchange failed", "err", err)
		redirectError(w, r, loginMessage(err))
		return
	}

	h.link(w, r, sess.UserID, providerInstagram)
}

// XAuth redirects to the X authorization page (GET /x/auth).
func (h *Handlers) XAuth(w http.ResponseWriter, r *http.Request) {
	if h.xClientID == "" {
		redirectError(w, r, "X is not configured")
		return
	}
	http.Redirect(w, r, xAuthorizeURL+"?oauth_token="+url.QueryEscape(h.xClientID), http.StatusFound)
}

// XCallback marks X as connected (GET /x/callback).
func (h *Handlers) XCallback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.currentSession(r)
	if err != nil {
		redirectError(w, r, msgNotLoggedIn)
		return
	}
	h.link(w, r, sess.UserID, providerX)
}

func (h *Handlers) link(w http.ResponseWriter, r *http.Request, userID, provider string) {
	if err := h.manager.Link(userID, provider, statusConnected); err != nil {
		redirectError(w, r, msgNotLoggedIn)
		return
	}
	h.logger.Info("provider linked", "user", userID, "provider", provider)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handlers) startAuth(w http.ResponseWriter, r *http.Request, provider string, a Authorizer) {
	// Generate state for CSRF protection
	state, err := auth.NewState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}

	setState(w, provider, state)
	http.Redirect(w, r, a.AuthURL(state), http.StatusFound)
}

// callbackCode validates state and returns the authorization code, redirecting on failure.
func (h *Handlers) callbackCode(w http.ResponseWriter, r *http.Request, provider string) (string, bool) {
	if !checkState(w, r, provider) {
		redirectError(w, r, "State mismatch")
		return "", false
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		redirectError(w, r, "Authorization denied: "+errMsg)
		return "", false
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		redirectError(w, r, "Missing authorization code")
		return "", false
	}
	return code, true
}

// currentSession resolves the caller's session from the signed cookie,
// falling back to the most recent login when no valid cookie is sent.
func (h *Handlers) currentSession(r *http.Request) (*session.Session, error) {
	store := h.manager.Store()

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		userID, sessionID, err := h.cookies.Parse(cookie.Value)
		if err == nil {
			sess, err := store.Get(userID)
			if err == nil && sess.ID == sessionID {
				return sess, nil
			}
		} else {
			h.logger.Debug("ignoring session cookie", "err", err)
		}
	}

	return store.GetActive()
}

func redirectError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/?error="+url.QueryEscape(msg), http.StatusFound)
}

// loginMessage returns the text shown after a failed login.
func loginMessage(err error) string {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		if authErr.Description != "" {
			return "Authorization failed: " + authErr.Description
		}
		return "Authorization failed"
	}
	return userMessage(err)
}
