package message_broaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroker is a minimal implementation of MessageBroker for testing the interface contract.
type mockBroker struct {
	publishErr error
	published  [][]byte
}

func (m *mockBroker) Publish(ctx context.Context, queue string, message []byte) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, message)
	return nil
}

func (m *mockBroker) Consume(ctx context.Context, queue string) (<-chan Message, error) {
	ch := make(chan Message, len(m.published))
	for _, body := range m.published {
		ch <- Message{Body: body, Ack: func() error { return nil }, Nack: func(bool) error { return nil }}
	}
	close(ch)
	return ch, nil
}

func (m *mockBroker) Close() error { return nil }

func TestMessageBrokerInterface(t *testing.T) {
	var _ MessageBroker = (*mockBroker)(nil)
	var _ MessageBroker = (*RabbitMQ)(nil)
}

func TestMockBroker_PublishThenConsume(t *testing.T) {
	broker := &mockBroker{}
	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "membership-events", []byte(`{"action":"leave"}`)))

	ch, err := broker.Consume(ctx, "membership-events")
	require.NoError(t, err)
	msg, ok := <-ch
	require.True(t, ok)
	assert.JSONEq(t, `{"action":"leave"}`, string(msg.Body))
	assert.NoError(t, msg.Ack())

	_, ok = <-ch
	assert.False(t, ok)
}

func TestMockBroker_Publish_Error(t *testing.T) {
	broker := &mockBroker{publishErr: assert.AnError}
	err := broker.Publish(context.Background(), "queue", []byte("msg"))
	assert.Error(t, err)
}
