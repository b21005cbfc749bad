package netstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProberCheck(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		status  int
		timeout time.Duration
		slow    time.Duration
		want    Status
	}{
		{name: "online", status: http.StatusOK, timeout: time.Second, slow: time.Second, want: Online},
		{name: "error status is still reachable", status: http.StatusNotFound, timeout: time.Second, slow: time.Second, want: Online},
		{name: "slow", delay: 50 * time.Millisecond, status: http.StatusOK, timeout: time.Second, slow: 10 * time.Millisecond, want: Slow},
		{name: "timeout", delay: 200 * time.Millisecond, status: http.StatusOK, timeout: 20 * time.Millisecond, slow: 10 * time.Millisecond, want: Offline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)

				select {
				case <-time.After(tt.delay):
				case <-r.Context().Done():
				}

				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewProber(srv.URL, tt.timeout, tt.slow)
			assert.Equal(t, tt.want, p.Check(context.Background()))
		})
	}
}

func TestProberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber(url, time.Second, time.Second)
	assert.Equal(t, Offline, p.Check(context.Background()))
}
