package disruptor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutor_BoundsConcurrency(t *testing.T) {
	e := NewPoolExecutor(2, nil)

	var running, peak, done atomic.Int64
	for i := 0; i < 10; i++ {
		e.Execute(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, int64(10), done.Load())
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPoolExecutor_SurvivesPanicsAndRunsInlineAfterShutdown(t *testing.T) {
	e := NewPoolExecutor(0, nil)
	e.Execute(func() { panic("task failed") })
	require.NoError(t, e.Shutdown(context.Background()))

	ran := false
	e.Execute(func() { ran = true })
	assert.True(t, ran)
}

func TestPoolExecutor_ShutdownHonoursContext(t *testing.T) {
	e := NewPoolExecutor(1, nil)
	release := make(chan struct{})
	e.Execute(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)
}
