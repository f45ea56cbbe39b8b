package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	setClock(t, baseTime)
	b := NewEventBus()
	a := b.Subscribe()
	c := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(CacheEvent{Kind: EventUpdate, Path: "/x"})
	for _, ch := range []chan CacheEvent{a, c} {
		ev := <-ch
		assert.Equal(t, EventUpdate, ev.Kind)
		assert.Equal(t, "/x", ev.Path)
		assert.Equal(t, baseTime, ev.Time)
	}
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe()
	for i := 0; i < 20; i++ {
		b.Publish(CacheEvent{Kind: EventClear})
	}
	assert.Len(t, ch, cap(ch))
}

func TestEventBus_Unsubscribe(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.Subscribers())

	_, open := <-ch
	require.False(t, open)

	// a second unsubscribe must not close twice
	assert.NotPanics(t, func() { b.Unsubscribe(ch) })
	assert.NotPanics(t, func() { b.Publish(CacheEvent{Kind: EventClear}) })
}
