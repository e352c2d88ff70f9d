package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/skinscan/internal/observability"
	"github.com/roach88/skinscan/internal/scan"
	"github.com/roach88/skinscan/internal/store"
)

// Stage is a step of the ingest state machine.
type Stage int

const (
	// StageValidating checks user id, payload and content type.
	StageValidating Stage = iota + 1
	// StageClassifying waits on the Pool.
	StageClassifying
	// StagePersisting appends the record.
	StagePersisting
	// StageDone is the success terminal.
	StageDone
	// StageFailed is the failure terminal.
	StageFailed
)

// String returns a human-readable name for the stage.
func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageClassifying:
		return "classifying"
	case StagePersisting:
		return "persisting"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Publisher receives a notification after each record is persisted.
// Delivery is best effort; errors are logged by the coordinator.
type Publisher interface {
	PublishRecorded(ctx context.Context, rec scan.Record) error
}

// Request is one ingest call.
type Request struct {
	UserID string

	// ContentType is the declared media type of Image. When empty the
	// coordinator sniffs it from the payload.
	ContentType string

	Image []byte
}

// Result is the outcome of a successful ingest.
type Result struct {
	scan.Prediction
	RecordID  string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Coordinator drives requests through the ingest state machine.
//
// INVARIANTS:
//   - a record is appended only after a successful classification
//   - each request is classified at most once
//   - the record timestamp comes from the coordinator's clock
type Coordinator struct {
	pool      *Pool
	store     store.Writer
	labels    *scan.LabelSet
	clock     Clock
	publisher Publisher
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the record timestamp source. Default: SystemClock.
func WithClock(c Clock) CoordinatorOption {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithPublisher enables "scan recorded" notifications.
func WithPublisher(p Publisher) CoordinatorOption {
	return func(co *Coordinator) {
		co.publisher = p
	}
}

// WithLogger sets the coordinator's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(co *Coordinator) {
		if l != nil {
			co.logger = l
		}
	}
}

// WithMetrics records ingest results on m.
func WithMetrics(m *observability.Metrics) CoordinatorOption {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// NewCoordinator wires the pool, record writer and label set together.
func NewCoordinator(pool *Pool, w store.Writer, labels *scan.LabelSet, opts ...CoordinatorOption) *Coordinator {
	co := &Coordinator{
		pool:   pool,
		store:  w,
		labels: labels,
		clock:  SystemClock{},
		tracer: observability.Tracer(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Ingest classifies req.Image and persists the result for req.UserID.
//
// Errors carry a scan.Kind naming the failed stage:
// KindInvalidInput (validating), KindClassification (classifying) or
// KindStorage (persisting).
func (c *Coordinator) Ingest(ctx context.Context, req Request) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "ingest",
		trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer span.End()

	res, stage, err := c.ingest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage.String())
		c.metrics.IngestResult(strings.ToLower(string(scan.KindOf(err))))
		c.logger.Debug("ingest failed", "user", req.UserID, "stage", stage, "error", err)
		return Result{}, err
	}

	c.metrics.IngestResult(StageDone.String())
	c.logger.Debug("ingest done",
		"user", req.UserID,
		"id", res.RecordID,
		"label", res.Label,
		"confidence", res.Confidence)

	c.publish(ctx, res, req)
	return res, nil
}

// ingest runs the stages and reports the stage that was active when it stopped.
func (c *Coordinator) ingest(ctx context.Context, req Request) (Result, Stage, error) {
	c.transition(ctx, req.UserID, StageValidating)
	if err := c.validate(&req); err != nil {
		return Result{}, StageValidating, err
	}

	c.transition(ctx, req.UserID, StageClassifying)
	pred, err := c.classify(ctx, req.Image)
	if err != nil {
		return Result{}, StageClassifying, err
	}

	c.transition(ctx, req.UserID, StagePersisting)
	rec := scan.Record{
		UserID:     req.UserID,
		Timestamp:  c.clock.Now().Truncate(scan.TimestampPrecision),
		Label:      pred.Label,
		Confidence: pred.Confidence,
		Image:      req.Image,
	}
	id, err := c.persist(ctx, rec)
	if err != nil {
		return Result{}, StagePersisting, err
	}

	c.transition(ctx, req.UserID, StageDone)
	return Result{Prediction: pred, RecordID: id, Timestamp: rec.Timestamp}, StageDone, nil
}

func (c *Coordinator) validate(req *Request) error {
	const op = "ingest.validate"

	if strings.TrimSpace(req.UserID) == "" {
		return scan.Errorf(scan.KindInvalidInput, op, "user id is required")
	}
	if len(req.Image) == 0 {
		return scan.Errorf(scan.KindInvalidInput, op, "image payload is empty")
	}

	ct := strings.TrimSpace(req.ContentType)
	if ct == "" {
		ct = mimetype.Detect(req.Image).String()
	}
	if !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return scan.Errorf(scan.KindInvalidInput, op, "file must be an image, got %q", ct)
	}
	req.ContentType = ct
	return nil
}

func (c *Coordinator) classify(ctx context.Context, image []byte) (scan.Prediction, error) {
	const op = "ingest.classify"

	ctx, span := c.tracer.Start(ctx, op)
	defer span.End()

	fut, err := c.pool.Submit(ctx, image)
	if err != nil {
		return scan.Prediction{}, scan.E(scan.KindClassification, op, err)
	}

	pred, err := fut.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return scan.Prediction{}, scan.E(scan.KindClassification, op, fmt.Errorf("abandoned: %w", err))
		}
		span.RecordError(err)
		return scan.Prediction{}, scan.E(scan.KindClassification, op, err)
	}

	label, ok := c.labels.Canonical(pred.Label)
	if !ok {
		return scan.Prediction{}, scan.Errorf(scan.KindClassification, op,
			"classifier returned unknown label %q", pred.Label)
	}
	if !scan.ValidConfidence(pred.Confidence) {
		return scan.Prediction{}, scan.Errorf(scan.KindClassification, op,
			"classifier returned confidence %v outside [0, 1]", pred.Confidence)
	}

	span.SetAttributes(
		attribute.String("scan.label", label),
		attribute.Float64("scan.confidence", pred.Confidence))
	return scan.Prediction{Label: label, Confidence: pred.Confidence}, nil
}

func (c *Coordinator) persist(ctx context.Context, rec scan.Record) (string, error) {
	const op = "ingest.persist"

	ctx, span := c.tracer.Start(ctx, op)
	defer span.End()

	id, err := c.store.Append(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return "", scan.E(scan.KindStorage, op, err)
	}
	span.SetAttributes(attribute.String("scan.id", id))
	return id, nil
}

func (c *Coordinator) publish(ctx context.Context, res Result, req Request) {
	if c.publisher == nil {
		return
	}

	rec := scan.Record{
		ID:         res.RecordID,
		UserID:     req.UserID,
		Timestamp:  res.Timestamp,
		Label:      res.Label,
		Confidence: res.Confidence,
	}
	if err := c.publisher.PublishRecorded(ctx, rec); err != nil {
		c.logger.Warn("publish scan recorded event failed",
			"id", res.RecordID,
			"user", req.UserID,
			"error", err)
	}
}

func (c *Coordinator) transition(ctx context.Context, userID string, to Stage) {
	trace.SpanFromContext(ctx).AddEvent("stage", trace.WithAttributes(attribute.String("stage", to.String())))
	c.logger.Debug("ingest stage", "user", userID, "stage", to)
}
