package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixSubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	deliveries, unsubDel := b.SubscribePrefix(4, "delivery.")
	defer unsubAll()
	defer unsubDel()

	b.Publish(Event{Type: CycleSucceeded})
	b.Publish(Event{Type: DeliveryFailed, Data: "x"})

	require.Len(t, all, 2)
	require.Len(t, deliveries, 1)
	e := <-deliveries
	assert.Equal(t, DeliveryFailed, e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: CycleStarted})
	b.Publish(Event{Type: CycleStarted})
	assert.EqualValues(t, 1, b.Dropped())

	unsub()
	unsub()
	b.Publish(Event{Type: CycleStarted})
}
