package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError represents transport failures and non-success responses from the tile
// server, including 5xx responses, timeouts and rate limiting.
type NetworkError struct {
	Operation  string // The operation that failed (e.g. "fetch_tile")
	URL        string // Requested tile URL
	StatusCode int    // HTTP status code, 0 for transport errors
	APIMessage string // Status text or transport error message
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed: transport errors, 429
// and 5xx responses.
func (e *NetworkError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// InvalidTileError is returned when the server answers 2xx with a body that cannot be a
// tile, such as an empty body or an HTML error page.
type InvalidTileError struct {
	URL    string
	Reason string
}

func (e *InvalidTileError) Error() string {
	return fmt.Sprintf("invalid tile from %s: %s", e.URL, e.Reason)
}

// AuthenticationError represents 401 and 403 responses from the tile server.
type AuthenticationError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s (HTTP %d)", e.Operation, e.StatusCode)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retryable()
	}

	return false
}
