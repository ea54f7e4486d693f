package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors classifying backend failures. Callers branch with
// errors.Is:
//
//   - ErrTransport: network unreachable or timed out. Transient — polling
//     and backoff continue.
//   - ErrUnauthorized: missing or invalid credential. Not retried.
//   - ErrNotFound: unknown job, missing stored document, missing baseline.
//     Resolved to an explicit "unavailable" state, never empty content.
var (
	ErrTransport    = errors.New("backend unreachable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// APIError is a non-2xx backend response outside the sentinel categories.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// statusError maps a response status to the error taxonomy. Returns nil for
// 2xx.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := errorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
		return ErrUnauthorized
	case http.StatusNotFound:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return ErrNotFound
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// errorMessage pulls the backend's {"error": "..."} body, if any.
func errorMessage(body io.Reader) string {
	buf, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(buf, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return ""
}
