package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_ProcessesJobs(t *testing.T) {
	pool := NewPool(2, 10, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(Job{Name: "test", Run: func(context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		}}))
	}
	wg.Wait()

	assert.Equal(t, int32(5), done.Load())
	assert.Eventually(t, func() bool { return pool.GetMetrics().ProcessedJobs == 5 }, time.Second, 10*time.Millisecond)
}

func TestPool_FailuresAndPanics(t *testing.T) {
	pool := NewPool(1, 10, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(Job{Name: "fail", Run: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(Job{Name: "panic", Run: func(context.Context) error { panic("oops") }}))
	require.NoError(t, pool.Submit(Job{Name: "ok", Run: func(context.Context) error { return nil }}))

	assert.Eventually(t, func() bool {
		m := pool.GetMetrics()
		return m.FailedJobs == 2 && m.ProcessedJobs == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPool_ParallelAcrossBatches(t *testing.T) {
	pool := NewPool(4, 10, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	var running, peak atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(Job{Name: "batch", Run: func(context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}}))
	}

	assert.Eventually(t, func() bool { return peak.Load() == 4 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(1, 1, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(Job{Name: "long", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, pool.Submit(Job{Name: "queued", Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, pool.Submit(Job{Name: "overflow", Run: func(context.Context) error { return nil }}), ErrQueueFull)
	close(release)
}

func TestPool_StopCancelsAndRejects(t *testing.T) {
	pool := NewPool(1, 5, zap.NewNop())
	pool.Start()

	started := make(chan struct{})
	var sawCancel atomic.Bool
	require.NoError(t, pool.Submit(Job{Name: "inflight", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return nil
	}}))
	require.NoError(t, pool.Submit(Job{Name: "queued", Run: func(context.Context) error { return nil }}))
	<-started

	pool.Stop()

	assert.True(t, sawCancel.Load())
	m := pool.GetMetrics()
	assert.Equal(t, int64(1), m.ProcessedJobs)
	assert.Equal(t, int64(1), m.DroppedJobs)
	assert.False(t, pool.IsRunning())
	assert.ErrorIs(t, pool.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}), ErrPoolStopped)
}
