package daemon

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Job is a unit of blocking work run off the sample path.
type Job func(ctx context.Context)

// Dispatcher runs jobs one at a time, in submission order, on a single
// worker goroutine.
type Dispatcher struct {
	name   string
	jobs   chan Job
	logger zerolog.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

// NewDispatcher creates a dispatcher that buffers up to size jobs.
func NewDispatcher(name string, size int, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	d := &Dispatcher{
		name:   name,
		jobs:   make(chan Job, size),
		logger: logger.With().Str("component", "dispatcher").Str("queue", name).Logger(),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Submit queues job without blocking. It reports false when the queue is
// full or the dispatcher has stopped.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	select {
	case d.jobs <- job:
		d.pending++
		return true
	default:
		d.logger.Warn().Msg("Job queue full, dropping job")
		return false
	}
}

// Run executes jobs until ctx is cancelled. Jobs still queued at that point
// are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			for {
				select {
				case <-d.jobs:
					d.done()
				default:
					return
				}
			}
		case job := <-d.jobs:
			job(ctx)
			d.done()
		}
	}
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		d.idle.Broadcast()
	}
}

// Wait blocks until every submitted job has finished or been discarded,
// including jobs submitted while waiting.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pending > 0 {
		d.idle.Wait()
	}
}
