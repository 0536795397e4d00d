package broker

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"order-reconciler/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeSource) FetchMessage(context.Context) (kafka.Message, error) {
	if len(f.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeSource) CommitMessage(_ context.Context, msg kafka.Message) error {
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type recordingSink struct {
	key   string
	event interface{}
}

func (r *recordingSink) PublishEvent(_ context.Context, key string, event interface{}) error {
	r.key = key
	r.event = event
	return nil
}

func TestKafkaStream_SkipsMalformedAndAcks(t *testing.T) {
	src := &fakeSource{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`garbage`)},
		{Offset: 2, Value: []byte(`{"data": {}}`)},
		{Offset: 3, Value: []byte(`{"event": "new_order", "data": {"fone": "5599999999"}}`)},
	}}
	stream := newKafkaStream(src)
	ctx := context.Background()

	msg, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PushEventNewOrder, msg.Event)
	assert.Equal(t, []int64{1, 2}, src.committed)

	require.NoError(t, stream.Ack(ctx))
	require.NoError(t, stream.Ack(ctx), "second ack is a no-op")
	assert.Equal(t, []int64{1, 2, 3}, src.committed)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, stream.Close())
	assert.True(t, src.closed)
}

func TestEventPublisher_KeysByPhone(t *testing.T) {
	sink := &recordingSink{}
	ep := NewEventPublisher(sink)

	event := &models.CascadeOutcomeEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeCascadePartial},
		Phone:     "5599999999",
		Report:    "failed items: #3",
	}
	require.NoError(t, ep.PublishCascadeOutcome(context.Background(), event))
	assert.Equal(t, "ticket-5599999999", sink.key)

	raw, err := json.Marshal(sink.event)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event_type":"CASCADE_PARTIAL"`)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.PublishCascadeOutcome(context.Background(), &models.CascadeOutcomeEvent{}))
}
