package dispatch

import (
	"context"
	"sync"
	"time"

	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/internal/metrics"
)

// workerPool runs tasks on goroutines that are started on demand up to max
// and exit after sitting idle for idleTimeout.
type workerPool struct {
	tasks       chan func()
	max         int
	idleTimeout time.Duration

	mu      sync.Mutex
	workers int
	idle    int
	closed  bool
	wg      sync.WaitGroup
}

func newWorkerPool(max, queueSize int, idleTimeout time.Duration) *workerPool {
	if max < 1 {
		max = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	return &workerPool{
		tasks:       make(chan func(), queueSize),
		max:         max,
		idleTimeout: idleTimeout,
	}
}

func (p *workerPool) submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ierrors.Wrapf(ierrors.ErrInfrastructure, "[workerPool.submit] pool is shut down")
	}
	if p.idle == 0 && p.workers < p.max {
		p.spawn(task)
		return nil
	}
	select {
	case p.tasks <- task:
		return nil
	default:
	}
	if p.workers < p.max {
		p.spawn(task)
		return nil
	}
	metrics.RejectedTotal.Inc()
	return ierrors.Wrapf(ierrors.ErrInfrastructure, "[workerPool.submit] %d workers busy and queue full", p.workers)
}

// spawn must be called with mu held.
func (p *workerPool) spawn(first func()) {
	p.workers++
	p.wg.Add(1)
	metrics.ActiveWorkers.Inc()
	go p.work(first)
}

func (p *workerPool) work(first func()) {
	defer p.wg.Done()
	defer metrics.ActiveWorkers.Dec()

	first()

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		p.idle++
		p.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.idleTimeout)

		select {
		case task, ok := <-p.tasks:
			p.mu.Lock()
			p.idle--
			if !ok {
				p.workers--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			task()
		case <-timer.C:
			p.mu.Lock()
			p.idle--
			// a task queued while the timer fired must not be stranded
			if len(p.tasks) > 0 {
				p.mu.Unlock()
				continue
			}
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

func (p *workerPool) size() (workers, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers, p.idle
}

// shutdown stops intake, lets queued tasks run and waits for the workers.
func (p *workerPool) shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ierrors.Wrapf(ierrors.ErrInfrastructure, "[workerPool.shutdown] %v", ctx.Err())
	}
}
