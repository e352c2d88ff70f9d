package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skinscan/internal/observability"
	"github.com/roach88/skinscan/internal/scan"
	"github.com/roach88/skinscan/internal/testutil"
)

func newTestPool(t *testing.T, c Classifier, workers int, opts ...PoolOption) *Pool {
	t.Helper()
	p, err := NewPool(c, workers, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func waitFuture(t *testing.T, f *Future) (scan.Prediction, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestNewPool_RejectsBadArgs(t *testing.T) {
	_, err := NewPool(testutil.NewScriptedClassifier(), 0)
	assert.ErrorIs(t, err, ErrInvalidWorkers)

	_, err = NewPool(nil, 2)
	assert.Error(t, err)
}

func TestPool_SubmitResolves(t *testing.T) {
	c := testutil.NewScriptedClassifier(testutil.Step{
		Prediction: scan.Prediction{Label: "Rosacea", Confidence: 0.73},
	})
	p := newTestPool(t, c, 2)

	f, err := p.Submit(context.Background(), []byte("img"))
	require.NoError(t, err)

	pred, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, scan.Prediction{Label: "Rosacea", Confidence: 0.73}, pred)
	assert.Equal(t, 1, c.Calls())
}

// With W workers and N > W concurrent submissions, no more than W
// classifications are ever in flight.
func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 3
	const submissions = 20

	probe := &testutil.ConcurrencyProbe{}
	c := testutil.NewScriptedClassifier()
	c.Probe = probe
	c.Delay = 5 * time.Millisecond
	p := newTestPool(t, c, workers)

	var wg sync.WaitGroup
	errs := make(chan error, submissions)
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := p.Submit(context.Background(), []byte("img"))
			if err != nil {
				errs <- err
				return
			}
			_, err = waitFuture(t, f)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, probe.Peak(), workers)
	assert.Equal(t, workers, probe.Peak(), "burst should saturate every slot")
	assert.Equal(t, submissions, c.Calls())
}

func TestPool_FIFOWithSingleWorker(t *testing.T) {
	c := testutil.NewScriptedClassifier()
	c.Gate = make(chan struct{})
	p := newTestPool(t, c, 1)

	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := p.Submit(context.Background(), []byte(fmt.Sprintf("img-%d", i)))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	close(c.Gate)

	for _, f := range futures {
		_, err := waitFuture(t, f)
		require.NoError(t, err)
	}

	var order []string
	for _, img := range c.Images() {
		order = append(order, string(img))
	}
	assert.Equal(t, []string{"img-0", "img-1", "img-2", "img-3", "img-4"}, order)
}

func TestPool_ClassifierErrorResolvesFuture(t *testing.T) {
	cause := errors.New("cannot identify image file")
	c := testutil.NewScriptedClassifier(testutil.Step{Err: cause})
	p := newTestPool(t, c, 1)

	f, err := p.Submit(context.Background(), []byte("junk"))
	require.NoError(t, err)

	_, err = waitFuture(t, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, c.Calls(), "no retries")
}

func TestPool_PanicBecomesError(t *testing.T) {
	c := testutil.NewScriptedClassifier(
		testutil.Step{Panic: "index out of range"},
		testutil.Step{Prediction: scan.Prediction{Label: "Acne", Confidence: 0.5}},
	)
	p := newTestPool(t, c, 1)

	f, err := p.Submit(context.Background(), []byte("bad"))
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier panic")

	// The slot survives the panic.
	f, err = p.Submit(context.Background(), []byte("good"))
	require.NoError(t, err)
	pred, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, "Acne", pred.Label)
}

// A caller that stops waiting does not cancel the job: the worker finishes
// it and the result is discarded.
func TestPool_AbandonedFutureStillRuns(t *testing.T) {
	c := testutil.NewScriptedClassifier()
	c.Gate = make(chan struct{})
	p := newTestPool(t, c, 1)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := p.Submit(ctx, []byte("img"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(c.Gate)
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("abandoned job never finished")
	}
	assert.Equal(t, 1, c.Finished())
	assert.Equal(t, int64(1), p.Stats().Completed)
}

func TestPool_SubmitWithCancelledContext(t *testing.T) {
	c := testutil.NewScriptedClassifier()
	p := newTestPool(t, c, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Submit(ctx, []byte("img"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Calls())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p, err := NewPool(testutil.NewScriptedClassifier(), 2)
	require.NoError(t, err)
	p.Close()

	_, err = p.Submit(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	c := testutil.NewScriptedClassifier()
	c.Delay = time.Millisecond
	p, err := NewPool(c, 1)
	require.NoError(t, err)

	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := p.Submit(context.Background(), []byte("img"))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	p.Close()

	for _, f := range futures {
		select {
		case <-f.Done():
		default:
			t.Fatal("close returned before queued jobs finished")
		}
	}
	assert.Equal(t, 5, c.Finished())
}

func TestPool_StatsAndMetrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	c := testutil.NewScriptedClassifier()
	c.Gate = make(chan struct{})
	p := newTestPool(t, c, 2, WithPoolMetrics(m))

	var futures []*Future
	for i := 0; i < 3; i++ {
		f, err := p.Submit(context.Background(), []byte("img"))
		require.NoError(t, err)
		futures = append(futures, f)
	}

	require.Eventually(t, func() bool { return p.Stats().Busy == 2 }, time.Second, time.Millisecond)
	st := p.Stats()
	assert.Equal(t, 2, st.Workers)
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.ClassificationsInFlight))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.QueueDepth))

	close(c.Gate)
	for _, f := range futures {
		_, err := waitFuture(t, f)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return p.Stats().Completed == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.QueueDepth))
}
