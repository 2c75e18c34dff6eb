package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishConsumeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus()

	require.NoError(t, b.Publish(ctx, TopicProcessEvent, Message{
		Type:    TypeProcessEvent,
		Key:     "event-1",
		Payload: json.RawMessage(`{"eventId":"event-1"}`),
	}))

	received := make(chan Message, 1)

	go func() {
		_ = b.Consume(ctx, TopicProcessEvent, func(_ context.Context, msg Message) error {
			received <- msg
			cancel()

			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "event-1", msg.Key)
		assert.Equal(t, TypeProcessEvent, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestMemoryBus_MultipleConsumersCompeteForMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus()

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(ctx, "t", Message{Key: "k"}))
	}

	delivered := make(chan struct{}, n)

	consumed := 0
	for c := 0; c < 3; c++ {
		go func() {
			_ = b.Consume(ctx, "t", func(_ context.Context, _ Message) error {
				delivered <- struct{}{}

				return nil
			})
		}()
	}

	for consumed < n {
		select {
		case <-delivered:
			consumed++
		case <-time.After(time.Second):
			t.Fatalf("only %d/%d messages delivered", consumed, n)
		}
	}

	assert.Equal(t, n, consumed)
}

func TestMemoryBus_HandlerErrorStopsConsume(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus()

	require.NoError(t, b.Publish(ctx, "t", Message{Key: "k"}))

	err := b.Consume(ctx, "t", func(_ context.Context, _ Message) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}
