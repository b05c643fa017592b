package events

// ChannelEvent fans a value out to registered channels.
// Sends never block: a listener whose channel is full misses that value.
type ChannelEvent[T any] struct {
	reg registry[chan<- T, T]
}

// NewChannelEvent creates a new ChannelEvent.
// sendLastEventOnListen: if true, a new listener immediately receives the most recent value
// passed to Notify (when there is one)
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{reg: newRegistry[chan<- T, T](sendLastEventOnListen)}
}

// Listen registers ch and returns its deregistration function.
// Listening on a closed event is a no-op.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	id, replay, ok := e.reg.add(ch)
	if !ok {
		return func() {}
	}
	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}
	return func() { e.reg.remove(id) }
}

// Notify sends value to every listener without blocking.
// It returns false if the event is closed and nothing was sent.
func (e *ChannelEvent[T]) Notify(value T) bool {
	listeners, ok := e.reg.snapshot(value)
	if !ok {
		return false
	}
	for _, ch := range listeners {
		select {
		case ch <- value:
		default:
		}
	}
	return true
}

// Close drops all listeners. Every later Notify is discarded.
// Listener channels are not closed; they belong to the listeners.
func (e *ChannelEvent[T]) Close() {
	e.reg.close()
}

func (e *ChannelEvent[T]) IsClosed() bool {
	return e.reg.isClosed()
}

// ListenerCount returns the current number of registered listeners
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.reg.count()
}
