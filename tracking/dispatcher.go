package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a unit of background work run after a response has been sent.
type Job func(ctx context.Context)

// Dispatcher runs jobs on a fixed pool of workers fed by a bounded queue.
// Submit never blocks the caller.
type Dispatcher struct {
	jobs       chan Job
	jobTimeout time.Duration
	log        zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(workers, queueSize int, jobTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		jobs:       make(chan Job, queueSize),
		jobTimeout: jobTimeout,
		log:        log,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Submit queues job and reports whether it was accepted. A full or closed
// queue rejects the job.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("tracking job panicked")
		}
	}()
	job(ctx)
}
