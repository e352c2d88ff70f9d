package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/skinscan/internal/scan"
)

// job is one pending classification.
type job struct {
	ctx      context.Context
	image    []byte
	future   *Future
	queuedAt time.Time
}

// jobQueue is a thread-safe FIFO queue of classification jobs.
//
// The queue is unbounded so Submit never blocks the caller; backpressure is
// the worker count, not the queue length.
//
// The queue uses a channel for signaling so idle workers can block without
// polling. The signal buffer holds one token; a dequeue that leaves work
// behind passes the token on, so a burst of enqueues wakes as many workers
// as there are jobs.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

// newJobQueue creates an empty job queue.
func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]*job, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)
	q.notifyLocked()
	return true
}

// TryDequeue removes and returns the front job without blocking.
// Returns (nil, false) if the queue is empty.
func (q *jobQueue) TryDequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}

	j := q.jobs[0]

	// Nil out the slot so the image bytes can be collected once the job is done.
	q.jobs[0] = nil

	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
		q.notifyLocked()
	}

	return j, true
}

// Dequeue blocks until a job is available or the queue is closed and empty.
// Returns (nil, false) only after Close once every queued job was taken.
func (q *jobQueue) Dequeue() (*job, bool) {
	for {
		if j, ok := q.TryDequeue(); ok {
			return j, true
		}

		q.mu.Lock()
		if q.closed && len(q.jobs) == 0 {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs and wakes all blocked workers.
// Jobs already queued stay available to Dequeue.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// notifyLocked posts a wake-up token. Caller holds q.mu.
func (q *jobQueue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Future is the pending result of a submitted classification.
type Future struct {
	done chan struct{}
	pred scan.Prediction
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the classification has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the classification finishes or ctx is done.
//
// Returning on ctx abandons the future: the worker still finishes the job
// and its result is dropped.
func (f *Future) Wait(ctx context.Context) (scan.Prediction, error) {
	select {
	case <-f.done:
		return f.pred, f.err
	default:
	}

	select {
	case <-f.done:
		return f.pred, f.err
	case <-ctx.Done():
		return scan.Prediction{}, ctx.Err()
	}
}

// resolve sets the result. Called exactly once by the worker that ran the job.
func (f *Future) resolve(pred scan.Prediction, err error) {
	f.pred = pred
	f.err = err
	close(f.done)
}
