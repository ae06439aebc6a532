package spotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/zmb3/spotify/v2"
)

var (
	// ErrTokenExpired is returned for 401 responses; the access token needs a refresh.
	ErrTokenExpired = errors.New("access token expired or invalid")

	// ErrForbidden is returned for 403 responses.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrUpstream is returned for any other non-2xx response.
	ErrUpstream = errors.New("spotify API error")
)

// APIError is a classified Web API failure.
type APIError struct {
	Kind    error
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// NewAPIError builds an APIError of the kind matching status.
func NewAPIError(status int, message string) *APIError {
	return &APIError{Kind: kindFor(status), Status: status, Message: message}
}

func kindFor(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrTokenExpired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrUpstream
	}
}

// Message returns the provider message carried by err, or err.Error() when there is none.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// classify normalizes errors coming out of the zmb3 client.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, apiErr)
	}

	// Non-2xx statuses the library decoded itself.
	var spErr spotify.Error
	if errors.As(err, &spErr) && spErr.Status != 0 {
		return fmt.Errorf("%s: %w", op, NewAPIError(spErr.Status, spErr.Message))
	}

	return fmt.Errorf("%s: %w", op, err)
}

// statusTransport turns non-2xx responses into *APIError before the client decodes them.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return nil, NewAPIError(resp.StatusCode, errorMessage(resp.StatusCode, body))
}

// errorMessage extracts {"error":{"message":...}} or {"error":"...","error_description":"..."}.
func errorMessage(status int, body []byte) string {
	var regular struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &regular) == nil && regular.Error.Message != "" {
		return regular.Error.Message
	}

	var authStyle struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &authStyle) == nil && authStyle.Error != "" {
		if authStyle.Description != "" {
			return authStyle.Description
		}
		return authStyle.Error
	}

	return http.StatusText(status)
}
