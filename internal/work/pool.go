// Package work provides the bounded background pool used for mirror pushes
// and other fire-and-forget side effects of the request path.
package work

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Job is a unit of background work. The returned error is handed to the
// completion callback, if any.
type Job func(ctx context.Context) error

// Pool runs jobs with a fixed concurrency limit. Each submitted job gets at
// most one completion callback; after Shutdown no further callbacks fire.
type Pool struct {
	sem  *semaphore.Weighted
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewPool creates a pool running at most limit jobs concurrently. A limit
// below 1 is treated as 1.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:  semaphore.NewWeighted(int64(limit)),
		base: ctx,
		stop: cancel,
	}
}

// Submit schedules job and returns immediately. done, when non-nil, is
// invoked exactly once with the job's result unless the pool shut down
// first. Submissions after Shutdown are dropped.
func (p *Pool) Submit(job Job, done func(error)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.base, 1); err != nil {
			// Pool shut down while waiting for a slot.
			return
		}
		err := job(p.base)
		p.sem.Release(1)
		if err != nil {
			log.Printf("work: job failed: %v", err)
		}
		p.complete(done, err)
	}()
}

func (p *Pool) complete(done func(error), err error) {
	if done == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	done(err)
}

// Shutdown stops accepting work, suppresses pending callbacks and waits for
// every already-submitted job to finish. Jobs accepted before Shutdown still
// run to completion; only their callbacks are dropped.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.stop()
}
