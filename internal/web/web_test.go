package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/spotify-connect/internal/auth"
	"github.com/justestif/spotify-connect/internal/logging"
	"github.com/justestif/spotify-connect/internal/playback"
	"github.com/justestif/spotify-connect/internal/session"
	"github.com/justestif/spotify-connect/internal/spotify"
)

// fakeExchanger treats the code as the access token. Codes starting with "bad" are rejected.
type fakeExchanger struct{}

func (fakeExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if strings.HasPrefix(code, "bad") {
		return nil, &auth.AuthError{Provider: "spotify", Code: "invalid_grant", Description: "Invalid authorization code"}
	}
	return &oauth2.Token{AccessToken: code, RefreshToken: "refresh-" + code, Expiry: time.Now().Add(time.Hour)}, nil
}

func (fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return nil, &auth.AuthError{Provider: "spotify", Code: "invalid_grant"}
}

func (fakeExchanger) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

// fakeWebAPI answers as the user named by the access token.
type fakeWebAPI struct {
	mu       sync.Mutex
	follows  []string
	followed map[string]bool
}

func (f *fakeWebAPI) handler() http.Handler {
	mux := http.NewServeMux()
	user := func(r *http.Request) string {
		return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": %q, "display_name": %q}`, user(r), strings.ToUpper(user(r)))
	})
	mux.HandleFunc("GET /me/playlists", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items": [], "total": 0}`)
	})
	mux.HandleFunc("GET /me/following", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"artists": {"items": [], "total": 0}}`)
	})
	mux.HandleFunc("GET /me/following/contains", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		following := f.followed[r.URL.Query().Get("ids")]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%t]", following)
	})
	mux.HandleFunc("PUT /me/following", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.follows = append(f.follows, r.URL.Query().Get("ids"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /me/player/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"devices": []}`)
	})
	return mux
}

type testEnv struct {
	server  *Server
	manager *session.Manager
	cookies *CookieSigner
	api     *fakeWebAPI
}

func newTestEnv(t *testing.T, targets Targets) *testEnv {
	t.Helper()

	api := &fakeWebAPI{followed: make(map[string]bool)}
	upstream := httptest.NewServer(api.handler())
	t.Cleanup(upstream.Close)

	manager := session.NewManager(fakeExchanger{}, session.NewStore(session.DefaultTTL),
		session.WithPollInterval(time.Hour),
		session.WithClientOptions(spotify.WithBaseURL(upstream.URL+"/")),
	)
	t.Cleanup(manager.Close)

	cookies, err := NewCookieSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewCookieSigner() error = %v", err)
	}

	handlers := NewHandlers(HandlersConfig{
		Spotify:   fakeExchanger{},
		Instagram: fakeExchanger{},
		XClientID: "x-client",
		Manager:   manager,
		Cookies:   cookies,
		Playback:  playback.New(playback.WithSettleDelay(0)),
		Targets:   targets,
		StaticFS:  fstest.MapFS{"index.html": {Data: []byte("<html>home</html>")}},
		Logger:    logging.Discard(),
	})

	return &testEnv{
		server:  NewServer(ServerConfig{Port: 0, Handlers: handlers, Logger: logging.Discard()}),
		manager: manager,
		cookies: cookies,
		api:     api,
	}
}

func (e *testEnv) login(t *testing.T, userID string) (*session.Session, *http.Cookie) {
	t.Helper()
	sess, err := e.manager.Login(context.Background(), userID)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", userID, err)
	}
	value, err := e.cookies.Sign(sess)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return sess, &http.Cookie{Name: sessionCookieName, Value: value}
}

func (e *testEnv) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not logged in", session.ErrNotLoggedIn, http.StatusUnauthorized},
		{"token expired", spotify.NewAPIError(401, "The access token expired"), http.StatusUnauthorized},
		{"auth", &auth.AuthError{Provider: "spotify", Code: "invalid_grant"}, http.StatusUnauthorized},
		{"forbidden", spotify.NewAPIError(403, "Forbidden"), http.StatusForbidden},
		{"not found", spotify.NewAPIError(404, "Not found"), http.StatusNotFound},
		{"no device", playback.ErrNoDeviceAvailable, http.StatusNotFound},
		{"duplicate", playback.ErrDuplicateTrack, http.StatusConflict},
		{"bad request", requestError("No playlist selected"), http.StatusBadRequest},
		{"upstream", spotify.NewAPIError(500, "boom"), http.StatusBadGateway},
		{"not configured", configError("Track ID"), http.StatusInternalServerError},
		{"unknown", fmt.Errorf("something"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrNotLoggedIn, "Not logged in"},
		{playback.ErrNoDeviceAvailable, playback.MsgNoDevice},
		{playback.ErrDuplicateTrack, playback.MsgDuplicateTrack},
		{configError("Artist ID"), "Artist ID not configured"},
		{spotify.NewAPIError(403, "Insufficient client scope"), "Insufficient client scope"},
		{fmt.Errorf("database on fire"), "Internal server error"},
	}

	for _, tt := range tests {
		if got := userMessage(tt.err); got != tt.want {
			t.Errorf("userMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Targets{})

	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHome(t *testing.T) {
	env := newTestEnv(t, Targets{})

	rec := env.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "home") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestSpotifyDataNotLoggedIn(t *testing.T) {
	env := newTestEnv(t, Targets{})

	rec := env.do(t, http.MethodGet, "/spotify/data", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["spotify"] != "Not logged in" {
		t.Errorf("body = %v", body)
	}
}

func TestSpotifyDataOmitsToken(t *testing.T) {
	env := newTestEnv(t, Targets{})
	_, cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodGet, "/spotify/data", "", cookie)
	body := decode(t, rec)

	data, ok := body["spotify"].(map[string]any)
	if !ok {
		t.Fatalf("spotify = %v", body["spotify"])
	}
	if data["userId"] != "alice" {
		t.Errorf("userId = %v", data["userId"])
	}
	if strings.Contains(rec.Body.String(), "refresh-alice") {
		t.Errorf("response leaks the refresh token: %s", rec.Body.String())
	}
}

func TestSessionCookieSelectsUser(t *testing.T) {
	env := newTestEnv(t, Targets{})
	_, aliceCookie := env.login(t, "alice")
	env.login(t, "bob")

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   string
	}{
		{"own cookie", aliceCookie, "alice"},
		{"no cookie falls back to active", nil, "bob"},
		{"tampered cookie falls back to active", &http.Cookie{Name: sessionCookieName, Value: aliceCookie.Value + "x"}, "bob"},
		{"garbage cookie falls back to active", &http.Cookie{Name: sessionCookieName, Value: "not-a-jwt"}, "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.cookie != nil {
				cookies = append(cookies, tt.cookie)
			}
			body := decode(t, env.do(t, http.MethodGet, "/spotify/data", "", cookies...))
			data, ok := body["spotify"].(map[string]any)
			if !ok {
				t.Fatalf("spotify = %v", body["spotify"])
			}
			if data["userId"] != tt.want {
				t.Errorf("userId = %v, want %s", data["userId"], tt.want)
			}
		})
	}
}

func TestStaleCookieAfterRelogin(t *testing.T) {
	env := newTestEnv(t, Targets{})
	_, oldCookie := env.login(t, "alice")
	env.login(t, "alice")

	req := httptest.NewRequest(http.MethodGet, "/spotify/data", nil)
	req.AddCookie(oldCookie)

	// The old cookie names a replaced session, so the active session is used instead.
	sess, err := env.server.handlers.currentSession(req)
	if err != nil {
		t.Fatalf("currentSession() error = %v", err)
	}
	if sess.UserID != "alice" {
		t.Errorf("UserID = %s", sess.UserID)
	}
}

func TestCookieSigner(t *testing.T) {
	signer, err := NewCookieSigner("secret", time.Hour)
	if err != nil {
		t.Fatalf("NewCookieSigner() error = %v", err)
	}
	other, err := NewCookieSigner("", time.Hour)
	if err != nil {
		t.Fatalf("NewCookieSigner() error = %v", err)
	}

	value, err := signer.Sign(&session.Session{ID: "sess-1", UserID: "alice"})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	userID, sessionID, err := signer.Parse(value)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if userID != "alice" || sessionID != "sess-1" {
		t.Errorf("Parse() = %s, %s", userID, sessionID)
	}

	if _, _, err := other.Parse(value); err == nil {
		t.Error("Parse() with a different key succeeded")
	}
}

func TestSpotifyAuthSetsState(t *testing.T) {
	env := newTestEnv(t, Targets{})

	rec := env.do(t, http.MethodGet, "/spotify/auth", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}

	var state string
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookiePrefix+"spotify" {
			state = c.Value
		}
	}
	if state == "" {
		t.Fatal("state cookie not set")
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location: %v", err)
	}
	if got := loc.Query().Get("state"); got != state {
		t.Errorf("state param = %q, cookie = %q", got, state)
	}
}

func TestSpotifyCallback(t *testing.T) {
	stateCookie := &http.Cookie{Name: stateCookiePrefix + "spotify", Value: "s1"}

	tests := []struct {
		name      string
		query     string
		cookies   []*http.Cookie
		wantError string
	}{
		{"state mismatch", "?state=other&code=alice", []*http.Cookie{stateCookie}, "State mismatch"},
		{"missing state cookie", "?state=s1&code=alice", nil, "State mismatch"},
		{"denied", "?state=s1&error=access_denied", []*http.Cookie{stateCookie}, "Authorization denied: access_denied"},
		{"missing code", "?state=s1", []*http.Cookie{stateCookie}, "Missing authorization code"},
		{"rejected code", "?state=s1&code=bad", []*http.Cookie{stateCookie}, "Authorization failed: Invalid authorization code"},
		{"success", "?state=s1&code=alice", []*http.Cookie{stateCookie}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Targets{})

			rec := env.do(t, http.MethodGet, "/spotify/callback"+tt.query, "", tt.cookies...)
			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d", rec.Code)
			}

			loc, err := url.Parse(rec.Header().Get("Location"))
			if err != nil {
				t.Fatalf("parsing Location: %v", err)
			}
			if got := loc.Query().Get("error"); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}

			if tt.wantError != "" {
				if env.manager.Store().Len() != 0 {
					t.Error("session stored after failed callback")
				}
				return
			}

			var signed bool
			for _, c := range rec.Result().Cookies() {
				if c.Name == sessionCookieName && c.Value != "" {
					signed = true
				}
			}
			if !signed {
				t.Error("session cookie not set")
			}
			if _, err := env.manager.Store().Get("alice"); err != nil {
				t.Errorf("Get(alice) error = %v", err)
			}
		})
	}
}

func TestActionsRequireLogin(t *testing.T) {
	env := newTestEnv(t, Targets{TrackID: "t1", ArtistID: "a1", PlaylistID: "p1"})

	routes := []string{"play-track", "add-to-playlist", "follow-artist", "follow-playlist", "add-to-favorites"}
	for _, route := range routes {
		t.Run(route, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/spotify/"+route, `{"playlistId": "p1"}`)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if body := decode(t, rec); body["error"] != "Not logged in" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestActionTargetNotConfigured(t *testing.T) {
	env := newTestEnv(t, Targets{})
	_, cookie := env.login(t, "alice")

	tests := []struct {
		route string
		want  string
	}{
		{"play-track", "Track ID not configured"},
		{"follow-artist", "Artist ID not configured"},
		{"follow-playlist", "Playlist ID not configured"},
		{"add-to-favorites", "Track ID not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/spotify/"+tt.route, "", cookie)
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", rec.Code)
			}
			if body := decode(t, rec); body["error"] != tt.want {
				t.Errorf("error = %v, want %s", body["error"], tt.want)
			}
		})
	}
}

func TestAddToPlaylistRequiresPlaylist(t *testing.T) {
	env := newTestEnv(t, Targets{TrackID: "t1"})
	_, cookie := env.login(t, "alice")

	for _, body := range []string{"", `{}`, `{"playlistId": ""}`} {
		rec := env.do(t, http.MethodPost, "/spotify/add-to-playlist", body, cookie)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		if got := decode(t, rec); got["error"] != "No playlist selected" {
			t.Errorf("body %q: error = %v", body, got["error"])
		}
	}

	rec := env.do(t, http.MethodPost, "/spotify/add-to-playlist", `{"playlistId":`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestFollowArtist(t *testing.T) {
	env := newTestEnv(t, Targets{ArtistID: "a1"})
	_, cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/spotify/follow-artist", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["message"] != playback.MsgArtistFollowed {
		t.Errorf("body = %v", body)
	}

	env.api.mu.Lock()
	env.api.followed["a1"] = true
	env.api.mu.Unlock()

	body = decode(t, env.do(t, http.MethodPost, "/spotify/follow-artist", "", cookie))
	if body["message"] != playback.MsgAlreadyFollowing {
		t.Errorf("second follow message = %v", body["message"])
	}

	env.api.mu.Lock()
	defer env.api.mu.Unlock()
	if len(env.api.follows) != 1 || env.api.follows[0] != "a1" {
		t.Errorf("follows = %v", env.api.follows)
	}
}

func TestPlayTrackNoDevice(t *testing.T) {
	env := newTestEnv(t, Targets{TrackID: "t1"})
	_, cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/spotify/play-track", "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if body := decode(t, rec); body["error"] != playback.MsgNoDevice {
		t.Errorf("body = %v", body)
	}
}

func TestRateLimitedActions(t *testing.T) {
	env := newTestEnv(t, Targets{})
	env.server = NewServer(ServerConfig{
		Handlers:    env.server.handlers,
		RateLimiter: NewRateLimiter(0.001, 2),
		Logger:      logging.Discard(),
	})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = env.do(t, http.MethodPost, "/spotify/follow-artist", "").Code
	}

	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized {
		t.Errorf("first codes = %v, want 401 within burst", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third code = %d, want 429", codes[2])
	}

	// Reads are not limited.
	if rec := env.do(t, http.MethodGet, "/spotify/data", ""); rec.Code != http.StatusOK {
		t.Errorf("data status = %d", rec.Code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatal("first request denied")
	}
	if l.Allow("a") {
		t.Fatal("second request allowed")
	}
	if !l.Allow("b") {
		t.Fatal("other client denied")
	}

	now = now.Add(idleVisitorTTL + time.Second)
	if !l.Allow("c") {
		t.Fatal("request after idle period denied")
	}
	if len(l.visitors) != 1 {
		t.Errorf("visitors = %d, want 1 after sweep", len(l.visitors))
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, Targets{})
	_, cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/spotify/logout", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["success"] != true {
		t.Errorf("body = %v", body)
	}
	if env.manager.Store().Len() != 0 {
		t.Error("session kept after logout")
	}

	if body := decode(t, env.do(t, http.MethodGet, "/spotify/data", "", cookie)); body["spotify"] != "Not logged in" {
		t.Errorf("data after logout = %v", body)
	}
}

func TestSocialLinks(t *testing.T) {
	env := newTestEnv(t, Targets{})

	body := decode(t, env.do(t, http.MethodGet, "/data", ""))
	if body["spotify"] != "Not logged in" || body["instagram"] != nil || body["x"] != nil {
		t.Errorf("data before login = %v", body)
	}

	// Linking without a session redirects with an error.
	rec := env.do(t, http.MethodGet, "/x/callback", "")
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("x callback without session Location = %q", loc)
	}

	_, cookie := env.login(t, "alice")

	rec = env.do(t, http.MethodGet, "/x/auth", "", cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "oauth_token=x-client") {
		t.Errorf("x auth Location = %q", loc)
	}

	rec = env.do(t, http.MethodGet, "/x/callback", "", cookie)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Errorf("x callback = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	stateCookie := &http.Cookie{Name: stateCookiePrefix + "instagram", Value: "s2"}
	rec = env.do(t, http.MethodGet, "/instagram/callback?state=s2&code=ig", "", cookie, stateCookie)
	if rec.Header().Get("Location") != "/" {
		t.Errorf("instagram callback Location = %q", rec.Header().Get("Location"))
	}

	body = decode(t, env.do(t, http.MethodGet, "/data", "", cookie))
	if body["instagram"] != "connected" || body["x"] != "connected" {
		t.Errorf("data after linking = %v", body)
	}
}
