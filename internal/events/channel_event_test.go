package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveWithin[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for event")
	}
	var zero T
	return zero
}

func assertNothingReceived[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Errorf("Unexpected value received: %v", v)
	default:
	}
}

func TestNewChannelEvent(t *testing.T) {
	event := NewChannelEvent[string](false)
	require.NotNil(t, event)
	assert.Equal(t, 0, event.ListenerCount())
	assert.False(t, event.reg.sendLastEventOnListen)
	assert.False(t, event.IsClosed())

	event2 := NewChannelEvent[int](true)
	require.NotNil(t, event2)
	assert.True(t, event2.reg.sendLastEventOnListen)
}

func TestChannelEvent_Listen_Notify_Basic(t *testing.T) {
	event := NewChannelEvent[string](false)

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	assert.Equal(t, 1, event.ListenerCount())

	assert.True(t, event.Notify("test1"))
	assert.True(t, event.Notify("test2"))

	assert.Equal(t, "test1", receiveWithin(t, ch, 100*time.Millisecond))
	assert.Equal(t, "test2", receiveWithin(t, ch, 100*time.Millisecond))

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("test3")
	assertNothingReceived(t, ch)
}

func TestChannelEvent_MultipleListeners(t *testing.T) {
	event := NewChannelEvent[int](false)

	ch1 := make(chan int, 10)
	ch2 := make(chan int, 10)
	unregister1 := event.Listen(ch1)
	unregister2 := event.Listen(ch2)
	assert.Equal(t, 2, event.ListenerCount())

	event.Notify(42)

	assert.Equal(t, 42, receiveWithin(t, ch1, 100*time.Millisecond))
	assert.Equal(t, 42, receiveWithin(t, ch2, 100*time.Millisecond))

	unregister1()
	unregister2()
	assert.Equal(t, 0, event.ListenerCount())
}

func TestChannelEvent_SendLastEventOnListen(t *testing.T) {
	event := NewChannelEvent[string](true)

	// Nothing to replay before the first Notify
	ch1 := make(chan string, 10)
	unregister1 := event.Listen(ch1)
	assertNothingReceived(t, ch1)

	event.Notify("first-event")
	assert.Equal(t, "first-event", receiveWithin(t, ch1, 100*time.Millisecond))

	// A late listener gets the last value straight away
	ch2 := make(chan string, 10)
	unregister2 := event.Listen(ch2)
	assert.Equal(t, "first-event", receiveWithin(t, ch2, 100*time.Millisecond))

	unregister1()
	unregister2()
}

func TestChannelEvent_SendLastEventOnListen_False(t *testing.T) {
	event := NewChannelEvent[string](false)
	event.Notify("first-event")

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	assertNothingReceived(t, ch)

	event.Notify("second-event")
	assert.Equal(t, "second-event", receiveWithin(t, ch, 100*time.Millisecond))
	unregister()
}

func TestChannelEvent_Listen_NilChannel(t *testing.T) {
	event := NewChannelEvent[string](false)
	assert.Panics(t, func() {
		event.Listen(nil)
	})
}

func TestChannelEvent_FullChannel(t *testing.T) {
	event := NewChannelEvent[string](false)

	ch := make(chan string, 1)
	unregister := event.Listen(ch)
	ch <- "blocking"

	// Skipped, the channel is full
	event.Notify("test1")
	assert.Equal(t, 1, len(ch))
	assert.Equal(t, "blocking", <-ch)

	event.Notify("test2")
	assert.Equal(t, "test2", receiveWithin(t, ch, 100*time.Millisecond))
	unregister()
}

func TestChannelEvent_Close(t *testing.T) {
	event := NewChannelEvent[int](true)

	ch := make(chan int, 10)
	event.Listen(ch)
	event.Notify(1)
	assert.Equal(t, 1, receiveWithin(t, ch, 100*time.Millisecond))

	event.Close()
	assert.True(t, event.IsClosed())
	assert.Equal(t, 0, event.ListenerCount())

	assert.False(t, event.Notify(2))
	assertNothingReceived(t, ch)

	// Listening after close neither registers nor replays
	late := make(chan int, 1)
	unregister := event.Listen(late)
	unregister()
	assert.Equal(t, 0, event.ListenerCount())
	assertNothingReceived(t, late)
}

func TestChannelEvent_ConcurrentAccess(t *testing.T) {
	event := NewChannelEvent[int](false)

	channels := make([]chan int, 10)
	for i := range channels {
		channels[i] = make(chan int, 100)
		event.Listen(channels[i])
	}
	assert.Equal(t, 10, event.ListenerCount())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(value int) {
			defer wg.Done()
			event.Notify(value)
		}(i)
	}
	wg.Wait()

	for i, ch := range channels {
		assert.Equal(t, 5, len(ch), "channel %d", i)
	}
}
