package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolGrowsToMax(t *testing.T) {
	p := newWorkerPool(3, 0, time.Minute)
	release := make(chan struct{})
	var started sync.WaitGroup

	for i := 0; i < 3; i++ {
		started.Add(1)
		require.NoError(t, p.submit(func() {
			started.Done()
			<-release
		}))
	}
	started.Wait()

	workers, idle := p.size()
	require.Equal(t, 3, workers)
	require.Equal(t, 0, idle)

	err := p.submit(func() {})
	require.True(t, ierrors.Is(err, ierrors.ErrInfrastructure))

	close(release)
	require.NoError(t, p.shutdown(context.Background()))
}

func TestWorkerPoolRetiresIdleWorkers(t *testing.T) {
	p := newWorkerPool(2, 4, 20*time.Millisecond)

	done := make(chan struct{})
	require.NoError(t, p.submit(func() { close(done) }))
	<-done

	require.Eventually(t, func() bool {
		workers, _ := p.size()
		return workers == 0
	}, time.Second, 5*time.Millisecond)

	// a retired pool starts new workers on demand
	again := make(chan struct{})
	require.NoError(t, p.submit(func() { close(again) }))
	<-again
	require.NoError(t, p.shutdown(context.Background()))
}

func TestWorkerPoolShutdownRunsQueuedTasks(t *testing.T) {
	p := newWorkerPool(1, 8, time.Minute)
	release := make(chan struct{})
	var ran atomic.Int32

	require.NoError(t, p.submit(func() { <-release }))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.submit(func() { ran.Add(1) }))
	}

	close(release)
	require.NoError(t, p.shutdown(context.Background()))
	require.EqualValues(t, 5, ran.Load())

	err := p.submit(func() {})
	require.True(t, ierrors.Is(err, ierrors.ErrInfrastructure))
}

func TestWorkerPoolShutdownDeadline(t *testing.T) {
	p := newWorkerPool(1, 0, time.Minute)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.shutdown(ctx)
	require.True(t, ierrors.Is(err, ierrors.ErrInfrastructure))
}

func TestHandleLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHandle(cancel)
	require.False(t, h.IsDone())

	h.finish(Result{Action: "doEcho", Success: true})
	require.True(t, h.IsDone())
	require.Error(t, ctx.Err())

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
}
