package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanupExpiredTiles(context.Context) (int, error) {
	c.calls.Add(1)

	return 1, c.err
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "successful sweeps"},
		{name: "failing sweeps keep running", err: errors.New("db locked")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &countingCleaner{err: tt.err}
			ctx, cancel := context.WithCancel(context.Background())

			done := make(chan struct{})

			go func() {
				Run(ctx, c, 5*time.Millisecond)
				close(done)
			}()

			assert.Eventually(t, func() bool { return c.calls.Load() >= 3 }, time.Second, time.Millisecond)

			cancel()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("cleanup loop did not stop")
			}
		})
	}
}
