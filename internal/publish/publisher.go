// Package publish emits "scan recorded" events to Kafka after a record is
// persisted. Delivery is best effort; the ingest path logs and ignores
// publish errors.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roach88/skinscan/internal/scan"
)

// EventType is the type field of every event this package emits.
const EventType = "scan.recorded"

// DefaultWriteTimeout bounds a single publish.
const DefaultWriteTimeout = 5 * time.Second

// DefaultBatchTimeout is how long the writer holds a partial batch. Events
// are written one at a time on the ingest path.
const DefaultBatchTimeout = 5 * time.Millisecond

// Config holds the Kafka connection settings.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// Event is the message value. It carries no image payload.
type Event struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"result"`
	Confidence float64   `json:"confidence"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var errNilWriter = errors.New("publisher requires a writer")

// Kafka publishes events keyed by user id, so one user's events land on
// one partition in order.
//
// Thread-safety: Kafka is safe for concurrent use (kafka.Writer is).
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
	log     *slog.Logger
}

// NewKafka creates a publisher writing to cfg.Topic on cfg.Brokers.
func NewKafka(cfg Config, log *slog.Logger) (*Kafka, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	return newKafkaWithWriter(newWriter(cfg), cfg.WriteTimeout, log)
}

func newWriter(cfg Config) *kafka.Writer {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = DefaultBatchTimeout
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batch,
		AllowAutoTopicCreation: false,
	}
}

func newKafkaWithWriter(w messageWriter, timeout time.Duration, log *slog.Logger) (*Kafka, error) {
	if w == nil {
		return nil, errNilWriter
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Kafka{
		writer:  w,
		timeout: timeout,
		log:     log.With(slog.String("component", "publisher")),
	}, nil
}

// PublishRecorded writes one event for rec.
func (k *Kafka) PublishRecorded(ctx context.Context, rec scan.Record) error {
	value, err := json.Marshal(NewEvent(rec))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(rec.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventType)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", rec.ID, err)
	}

	k.log.Debug("event published", "id", rec.ID, "user", rec.UserID)
	return nil
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// NewEvent builds the event for rec.
func NewEvent(rec scan.Record) Event {
	return Event{
		Type:       EventType,
		ID:         rec.ID,
		UserID:     rec.UserID,
		Timestamp:  rec.Timestamp.UTC(),
		Label:      rec.Label,
		Confidence: rec.Confidence,
	}
}
