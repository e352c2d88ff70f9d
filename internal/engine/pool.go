package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/skinscan/internal/observability"
	"github.com/roach88/skinscan/internal/scan"
)

// Classifier maps an encoded image to a label and confidence.
//
// Implementations must be safe for concurrent use; the pool calls Classify
// from up to W goroutines at once.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (scan.Prediction, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, image []byte) (scan.Prediction, error)

// Classify calls f(ctx, image).
func (f ClassifierFunc) Classify(ctx context.Context, image []byte) (scan.Prediction, error) {
	return f(ctx, image)
}

// slot is one entry in the worker arena.
type slot struct {
	index     int
	busy      atomic.Bool
	completed atomic.Int64
}

// Pool is the bounded inference executor.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine, never blocks
//   - Close(): safe from any goroutine, idempotent
//   - Stats(): safe from any goroutine
//
// INVARIANTS:
//   - at most len(slots) classifications run at once
//   - jobs start in submission order
//   - every accepted job's Future resolves exactly once
type Pool struct {
	classifier Classifier
	queue      *jobQueue
	slots      []*slot
	inFlight   atomic.Int64
	metrics    *observability.Metrics
	logger     *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolMetrics records executor metrics on m.
func WithPoolMetrics(m *observability.Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithPoolLogger sets the pool's logger. Default: slog.Default().
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool starts workers goroutines that run c.
func NewPool(c Classifier, workers int, opts ...PoolOption) (*Pool, error) {
	if c == nil {
		return nil, fmt.Errorf("new pool: classifier is nil")
	}
	if workers < 1 {
		return nil, fmt.Errorf("new pool: %w (got %d)", ErrInvalidWorkers, workers)
	}

	p := &Pool{
		classifier: c,
		queue:      newJobQueue(),
		slots:      make([]*slot, workers),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := range p.slots {
		p.slots[i] = &slot{index: i}
		p.wg.Add(1)
		go p.work(p.slots[i])
	}

	return p, nil
}

// Submit queues image for classification and returns its Future.
//
// The job keeps ctx's values (trace span, request id) but not its
// cancellation: once queued it will run even if ctx is cancelled.
// Returns ErrPoolClosed after Close, or ctx's error if ctx is already done.
func (p *Pool) Submit(ctx context.Context, image []byte) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	j := &job{
		ctx:      context.WithoutCancel(ctx),
		image:    image,
		future:   newFuture(),
		queuedAt: time.Now(),
	}

	p.metrics.JobQueued()
	if !p.queue.Enqueue(j) {
		p.metrics.JobDropped()
		return nil, ErrPoolClosed
	}

	return j.future, nil
}

// Close stops accepting submissions, lets workers drain the queue, and
// waits for them to exit.
func (p *Pool) Close() {
	p.closeOnce.Do(p.queue.Close)
	p.wg.Wait()
}

// PoolStats is a point-in-time view of the executor.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Busy      int   `json:"busy"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() PoolStats {
	st := PoolStats{
		Workers: len(p.slots),
		Busy:    int(p.inFlight.Load()),
		Queued:  p.queue.Len(),
	}
	for _, s := range p.slots {
		st.Completed += s.completed.Load()
	}
	return st
}

func (p *Pool) work(s *slot) {
	defer p.wg.Done()

	for {
		j, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		p.run(s, j)
	}
}

func (p *Pool) run(s *slot, j *job) {
	p.metrics.JobStarted(time.Since(j.queuedAt))
	s.busy.Store(true)
	p.inFlight.Add(1)

	start := time.Now()
	pred, err := p.classify(j)
	took := time.Since(start)

	p.metrics.JobFinished(took, err)
	p.inFlight.Add(-1)
	s.busy.Store(false)
	s.completed.Add(1)

	if err != nil {
		p.logger.Debug("classification failed",
			"slot", s.index,
			"duration", took,
			"error", err)
	} else {
		p.logger.Debug("classification finished",
			"slot", s.index,
			"label", pred.Label,
			"confidence", pred.Confidence,
			"duration", took)
	}

	j.future.resolve(pred, err)
}

// classify runs the classifier, turning a panic into an error so one bad
// image cannot take a worker slot down.
func (p *Pool) classify(j *job) (pred scan.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			pred = scan.Prediction{}
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()

	pred, err = p.classifier.Classify(j.ctx, j.image)
	if err != nil {
		return scan.Prediction{}, fmt.Errorf("classify: %w", err)
	}
	return pred, nil
}
