package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(4)

	assert.Equal(t, 0, bus.Publish(Event{Type: TypeMailRequested}), "no subscribers")

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	require.Equal(t, 1, bus.Publish(Event{Type: TypeMailRequested, Payload: "hello"}))

	got := <-ch
	assert.Equal(t, TypeMailRequested, got.Type)
	assert.Equal(t, "hello", got.Payload)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestInMemoryBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	assert.Equal(t, 1, bus.Publish(Event{Type: TypeMailRequested}))
	assert.Equal(t, 0, bus.Publish(Event{Type: TypeMailRequested}))
}

func TestInMemoryBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(0)
	ch, unsubscribe := bus.Subscribe()

	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.Publish(Event{Type: TypeMailRequested}))
}
