package events

// CallbackEvent calls registered callbacks synchronously on Notify.
// Callbacks run outside the internal lock, so they may Listen or unregister.
type CallbackEvent[T any] struct {
	reg registry[func(T), T]
}

// NewCallbackEvent creates a new CallbackEvent.
// sendLastEventOnListen: if true, a new callback is invoked immediately with the most recent
// value passed to Notify (when there is one)
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{reg: newRegistry[func(T), T](sendLastEventOnListen)}
}

// Listen registers callback and returns its deregistration function
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	id, replay, ok := e.reg.add(callback)
	if !ok {
		return func() {}
	}
	if replay != nil {
		callback(*replay)
	}
	return func() { e.reg.remove(id) }
}

// Notify invokes every registered callback with value.
// It returns false if the event is closed.
func (e *CallbackEvent[T]) Notify(value T) bool {
	callbacks, ok := e.reg.snapshot(value)
	if !ok {
		return false
	}
	for _, cb := range callbacks {
		cb(value)
	}
	return true
}

// Close drops all callbacks; later Notify calls are discarded
func (e *CallbackEvent[T]) Close() {
	e.reg.close()
}

func (e *CallbackEvent[T]) IsClosed() bool {
	return e.reg.isClosed()
}

// ListenerCount returns the current number of registered callbacks
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.reg.count()
}
