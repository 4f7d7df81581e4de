package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "fern.events", testLogger())

	err := p.Publish(context.Background(),
		Message{Key: "facility:1", EventType: "entity.created", Payload: map[string]any{"id": 1}},
		Message{Key: "facility:2", EventType: "entity.updated", Payload: map[string]any{"id": 2}},
	)
	require.NoError(t, err)
	require.Len(t, w.messages, 2)

	msg := w.messages[0]
	assert.Equal(t, "fern.events", msg.Topic)
	assert.Equal(t, "facility:1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "entity.created", string(msg.Headers[0].Value))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, float64(1), payload["id"])
}

func TestProducer_PublishNothing(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	p := NewProducerWithWriter(w, "fern.events", testLogger())
	assert.NoError(t, p.Publish(context.Background()))
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "fern.events", testLogger())
	err := p.Publish(context.Background(), Message{Key: "k", EventType: "x", Payload: 1})
	assert.EqualError(t, err, "broker down")
}
