package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skinscan/internal/scan"
)

type stubWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	closed   bool
	deadline bool
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func testRecord() scan.Record {
	return scan.Record{
		ID:         "0190d6c4-1111-7000-8000-000000000001",
		UserID:     "u1",
		Timestamp:  time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC),
		Label:      "Rosacea",
		Confidence: 0.73,
		Image:      []byte("should not be published"),
	}
}

func TestKafka_PublishRecorded(t *testing.T) {
	w := &stubWriter{}
	k, err := newKafkaWithWriter(w, time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, k.PublishRecorded(context.Background(), testRecord()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "u1", string(msg.Key))
	assert.True(t, w.deadline, "publish is bounded by a timeout")
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventType, string(msg.Headers[0].Value))

	assert.JSONEq(t, `{
		"type": "scan.recorded",
		"id": "0190d6c4-1111-7000-8000-000000000001",
		"user_id": "u1",
		"timestamp": "2024-03-06T09:30:00Z",
		"result": "Rosacea",
		"confidence": 0.73
	}`, string(msg.Value))
}

func TestKafka_EventHasNoImage(t *testing.T) {
	data, err := json.Marshal(NewEvent(testRecord()))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "image")
}

func TestKafka_WriteErrorWrapped(t *testing.T) {
	cause := errors.New("leader not available")
	k, err := newKafkaWithWriter(&stubWriter{err: cause}, time.Second, nil)
	require.NoError(t, err)

	err = k.PublishRecorded(context.Background(), testRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestKafka_PublishIgnoresCallerCancellation(t *testing.T) {
	w := &stubWriter{}
	k, err := newKafkaWithWriter(w, time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, k.PublishRecorded(ctx, testRecord()))
	assert.Len(t, w.msgs, 1)
}

func TestKafka_Close(t *testing.T) {
	w := &stubWriter{}
	k, err := newKafkaWithWriter(w, 0, nil)
	require.NoError(t, err)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNewKafka_Validation(t *testing.T) {
	_, err := NewKafka(Config{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err, "missing topic")

	_, err = NewKafka(Config{Topic: "scans"}, nil)
	assert.Error(t, err, "missing brokers")

	k, err := NewKafka(Config{Brokers: []string{"localhost:9092"}, Topic: "scans"}, nil)
	require.NoError(t, err)
	assert.NoError(t, k.Close())
}

func TestNewKafka_BatchTimeout(t *testing.T) {
	k, err := NewKafka(Config{Brokers: []string{"localhost:9092"}, Topic: "scans"}, nil)
	require.NoError(t, err)
	defer k.Close()

	w, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultBatchTimeout, w.BatchTimeout)
	assert.Less(t, w.BatchTimeout, 100*time.Millisecond, "a lone event must not wait for a full batch")

	w = newWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "scans", BatchTimeout: time.Millisecond})
	assert.Equal(t, time.Millisecond, w.BatchTimeout)
	assert.Equal(t, "scans", w.Topic)
}

func TestNewKafkaWithWriter_Nil(t *testing.T) {
	_, err := newKafkaWithWriter(nil, 0, nil)
	assert.ErrorIs(t, err, errNilWriter)
}
