package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/justestif/spotify-connect/internal/auth"
	"github.com/justestif/spotify-connect/internal/playback"
	"github.com/justestif/spotify-connect/internal/session"
	"github.com/justestif/spotify-connect/internal/spotify"
)

const msgNotLoggedIn = "Not logged in"

var (
	// errNotConfigured is returned when an action's target id is not set.
	errNotConfigured = errors.New("not configured")

	// errBadRequest is returned for malformed or incomplete request bodies.
	errBadRequest = errors.New("bad request")
)

// requestError is a client mistake; its text is shown as-is.
type requestError string

func (e requestError) Error() string        { return string(e) }
func (e requestError) Is(target error) bool { return target == errBadRequest }

// configError names a missing action target, e.g. "Artist ID not configured".
type configError string

func (e configError) Error() string        { return string(e) + " not configured" }
func (e configError) Is(target error) bool { return target == errNotConfigured }

// actionResponse is the body of every POST /spotify/* reply.
type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, spotify.ErrTokenExpired),
		errors.Is(err, auth.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, spotify.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, spotify.ErrNotFound),
		errors.Is(err, playback.ErrNoDeviceAvailable):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrDuplicateTrack):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, playback.ErrMissingID):
		return http.StatusBadRequest
	case errors.Is(err, spotify.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userMessage returns the text shown to the user for err.
func userMessage(err error) string {
	var apiErr *spotify.APIError
	switch {
	case errors.Is(err, session.ErrNotLoggedIn), errors.Is(err, session.ErrNotFound):
		return msgNotLoggedIn
	case errors.Is(err, playback.ErrNoDeviceAvailable):
		return playback.MsgNoDevice
	case errors.Is(err, playback.ErrDuplicateTrack):
		return playback.MsgDuplicateTrack
	case errors.Is(err, spotify.ErrTokenExpired):
		return "Spotify session expired, please log in again"
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, errNotConfigured), errors.Is(err, errBadRequest):
		return err.Error()
	default:
		return "Internal server error"
	}
}

// writeError reports err as a failed action.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), actionResponse{Error: userMessage(err)})
}
