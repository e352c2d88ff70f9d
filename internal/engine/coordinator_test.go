package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skinscan/internal/observability"
	"github.com/roach88/skinscan/internal/scan"
	"github.com/roach88/skinscan/internal/store"
	"github.com/roach88/skinscan/internal/testutil"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	testEpoch = time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC)
)

type failingWriter struct {
	err   error
	calls int
}

func (w *failingWriter) Append(context.Context, scan.Record) (string, error) {
	w.calls++
	return "", w.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	recs []scan.Record
	err  error
}

func (p *recordingPublisher) PublishRecorded(_ context.Context, rec scan.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return p.err
}

type coordinatorFixture struct {
	coord      *Coordinator
	classifier *testutil.ScriptedClassifier
	store      *store.Memory
	clock      *testutil.FakeClock
}

func newCoordinatorFixture(t *testing.T, steps []testutil.Step, opts ...CoordinatorOption) coordinatorFixture {
	t.Helper()
	c := testutil.NewScriptedClassifier(steps...)
	pool := newTestPool(t, c, 2)
	mem := store.NewMemory()
	clock := testutil.NewFakeClock(testEpoch, time.Second)
	opts = append([]CoordinatorOption{WithClock(clock)}, opts...)
	return coordinatorFixture{
		coord:      NewCoordinator(pool, mem, scan.MustLabelSet(scan.DefaultLabels...), opts...),
		classifier: c,
		store:      mem,
		clock:      clock,
	}
}

func predict(label string, conf float64) []testutil.Step {
	return []testutil.Step{{Prediction: scan.Prediction{Label: label, Confidence: conf}}}
}

func TestCoordinator_IngestPersists(t *testing.T) {
	f := newCoordinatorFixture(t, predict("Rosacea", 0.73))
	ctx := context.Background()

	res, err := f.coord.Ingest(ctx, Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, "Rosacea", res.Label)
	assert.Equal(t, 0.73, res.Confidence)
	assert.NotEmpty(t, res.RecordID)
	assert.Equal(t, testEpoch, res.Timestamp)

	recs, err := f.store.FindByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.RecordID, recs[0].ID)
	assert.Equal(t, "Rosacea", recs[0].Label)
	assert.Equal(t, testEpoch, recs[0].Timestamp)
	assert.Equal(t, pngHeader, recs[0].Image)
}

func TestCoordinator_InvalidInputNeverClassifies(t *testing.T) {
	tests := map[string]Request{
		"missing user":      {ContentType: "image/png", Image: pngHeader},
		"blank user":        {UserID: "   ", ContentType: "image/png", Image: pngHeader},
		"empty payload":     {UserID: "u1", ContentType: "image/png"},
		"text content type": {UserID: "u1", ContentType: "text/plain", Image: pngHeader},
		"sniffed non-image": {UserID: "u1", Image: []byte("just some text")},
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			f := newCoordinatorFixture(t, predict("Acne", 0.9))

			_, err := f.coord.Ingest(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, scan.KindInvalidInput, scan.KindOf(err))
			assert.Equal(t, 0, f.classifier.Calls())

			n, err := f.store.CountByUser(context.Background(), req.UserID)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCoordinator_SniffsMissingContentType(t *testing.T) {
	f := newCoordinatorFixture(t, predict("Acne", 0.9))

	_, err := f.coord.Ingest(context.Background(), Request{UserID: "u1", Image: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, 1, f.classifier.Calls())
}

func TestCoordinator_ContentTypeCaseInsensitive(t *testing.T) {
	f := newCoordinatorFixture(t, predict("Acne", 0.9))

	_, err := f.coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "IMAGE/JPEG", Image: pngHeader})
	require.NoError(t, err)
}

// A failed classification never produces a record.
func TestCoordinator_ClassificationFailureNeverPersists(t *testing.T) {
	tests := map[string][]testutil.Step{
		"classifier error":   {{Err: errors.New("cannot identify image file")}},
		"classifier panic":   {{Panic: "bad tensor"}},
		"unknown label":      predict("Melanoma", 0.9),
		"confidence above 1": predict("Acne", 1.2),
		"negative":           predict("Acne", -0.1),
	}

	for name, steps := range tests {
		t.Run(name, func(t *testing.T) {
			f := newCoordinatorFixture(t, steps)

			_, err := f.coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
			require.Error(t, err)
			assert.Equal(t, scan.KindClassification, scan.KindOf(err))
			assert.Equal(t, 1, f.classifier.Calls(), "classified exactly once")

			n, err := f.store.CountByUser(context.Background(), "u1")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCoordinator_CanonicalizesLabel(t *testing.T) {
	f := newCoordinatorFixture(t, predict("  Acne ", 0.5))

	res, err := f.coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, "Acne", res.Label)
}

func TestCoordinator_StorageFailure(t *testing.T) {
	c := testutil.NewScriptedClassifier(predict("Acne", 0.9)...)
	pool := newTestPool(t, c, 1)
	w := &failingWriter{err: errors.New("connection refused")}
	pub := &recordingPublisher{}
	coord := NewCoordinator(pool, w, scan.MustLabelSet(scan.DefaultLabels...), WithPublisher(pub))

	_, err := coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.Error(t, err)
	assert.Equal(t, scan.KindStorage, scan.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, w.calls)
	assert.Empty(t, pub.recs, "nothing published when the write fails")
}

func TestCoordinator_PoolClosed(t *testing.T) {
	c := testutil.NewScriptedClassifier()
	pool, err := NewPool(c, 1)
	require.NoError(t, err)
	pool.Close()
	mem := store.NewMemory()
	coord := NewCoordinator(pool, mem, scan.MustLabelSet(scan.DefaultLabels...))

	_, err = coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.Error(t, err)
	assert.Equal(t, scan.KindClassification, scan.KindOf(err))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestCoordinator_AbandonedRequestDoesNotPersist(t *testing.T) {
	c := testutil.NewScriptedClassifier(predict("Acne", 0.9)...)
	c.Gate = make(chan struct{})
	pool := newTestPool(t, c, 1)
	mem := store.NewMemory()
	coord := NewCoordinator(pool, mem, scan.MustLabelSet(scan.DefaultLabels...))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := coord.Ingest(ctx, Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
		errc <- err
	}()

	require.Eventually(t, func() bool { return c.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, scan.KindClassification, scan.KindOf(err))

	close(c.Gate)
	require.Eventually(t, func() bool { return c.Finished() == 1 }, time.Second, time.Millisecond)
	n, err := mem.CountByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinator_PublishesAfterPersist(t *testing.T) {
	pub := &recordingPublisher{}
	f := newCoordinatorFixture(t, predict("Eczemaa", 0.61), WithPublisher(pub))

	res, err := f.coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.NoError(t, err)

	require.Len(t, pub.recs, 1)
	got := pub.recs[0]
	assert.Equal(t, res.RecordID, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Eczemaa", got.Label)
	assert.Nil(t, got.Image, "events carry no image payload")
}

func TestCoordinator_PublishFailureIsNotReturned(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := newCoordinatorFixture(t, predict("Acne", 0.9), WithPublisher(pub))

	_, err := f.coord.Ingest(context.Background(), Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.NoError(t, err)

	n, err := f.store.CountByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinator_CountsResults(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	f := newCoordinatorFixture(t, []testutil.Step{
		{Prediction: scan.Prediction{Label: "Acne", Confidence: 0.9}},
		{Err: errors.New("bad image")},
	}, WithMetrics(m))
	ctx := context.Background()

	_, err := f.coord.Ingest(ctx, Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.NoError(t, err)
	_, err = f.coord.Ingest(ctx, Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.Error(t, err)
	_, err = f.coord.Ingest(ctx, Request{UserID: "", ContentType: "image/png", Image: pngHeader})
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.IngestTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IngestTotal.WithLabelValues("classification_failure")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IngestTotal.WithLabelValues("invalid_input")))
}

func TestCoordinator_TimestampsFromClock(t *testing.T) {
	f := newCoordinatorFixture(t, predict("Acne", 0.9))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.coord.Ingest(ctx, Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
		require.NoError(t, err)
	}

	recs, err := f.store.FindByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, testEpoch.Add(2*time.Second), recs[0].Timestamp)
	assert.Equal(t, testEpoch, recs[2].Timestamp)
}

func TestCoordinator_TimestampMatchesStoredPrecision(t *testing.T) {
	f := newCoordinatorFixture(t, predict("Acne", 0.9))
	ctx := context.Background()
	f.clock.Set(testEpoch.Add(123*time.Millisecond + 456789*time.Nanosecond))

	res, err := f.coord.Ingest(ctx, Request{UserID: "u1", ContentType: "image/png", Image: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(123*time.Millisecond), res.Timestamp)

	recs, err := f.store.FindByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.Timestamp, recs[0].Timestamp)
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "validating", StageValidating.String())
	assert.Equal(t, "classifying", StageClassifying.String())
	assert.Equal(t, "persisting", StagePersisting.String())
	assert.Equal(t, "done", StageDone.String())
	assert.Equal(t, "failed", StageFailed.String())
	assert.Equal(t, "Stage(99)", Stage(99).String())
}
