package fetcher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &NetworkError{Operation: "fetch_tile", StatusCode: 503, APIMessage: "503 Service Unavailable"},
			want: "network error during fetch_tile (HTTP 503): 503 Service Unavailable",
		},
		{
			name: "without HTTP status code",
			err:  &NetworkError{Operation: "fetch_tile", APIMessage: "connection refused"},
			want: "network error during fetch_tile: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transport error", err: &NetworkError{APIMessage: "timeout"}, want: true},
		{name: "rate limited", err: &NetworkError{StatusCode: 429}, want: true},
		{name: "server error", err: &NetworkError{StatusCode: 502}, want: true},
		{name: "not found", err: &NetworkError{StatusCode: 404}, want: false},
		{name: "wrapped server error", err: fmt.Errorf("tile 1/2/3: %w", &NetworkError{StatusCode: 500}), want: true},
		{name: "auth error", err: &AuthenticationError{Operation: "fetch_tile", StatusCode: 401}, want: false},
		{name: "invalid tile", err: &InvalidTileError{URL: "u", Reason: "empty body"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("dial tcp: refused")

	assert.ErrorIs(t, &NetworkError{Operation: "fetch_tile", Err: base}, base)
	assert.ErrorIs(t, &AuthenticationError{Operation: "fetch_tile", Err: base}, base)
}
