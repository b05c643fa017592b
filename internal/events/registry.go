package events

import "sync"

// registry is the listener bookkeeping shared by ChannelEvent and CallbackEvent.
// L is the listener type (a send channel or a callback), T the event value.
type registry[L any, T any] struct {
	mu                    sync.RWMutex
	listeners             map[uint64]L
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             *T
	closed                bool
}

func newRegistry[L any, T any](sendLastEventOnListen bool) registry[L, T] {
	return registry[L, T]{
		listeners:             make(map[uint64]L),
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// add registers l and returns its id plus a copy of the replay value, if any.
// ok is false when the registry has been closed.
func (r *registry[L, T]) add(l L) (id uint64, replay *T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, nil, false
	}
	id = r.nextID
	r.nextID++
	r.listeners[id] = l
	if r.sendLastEventOnListen && r.lastEvent != nil {
		v := *r.lastEvent
		replay = &v
	}
	return id, replay, true
}

func (r *registry[L, T]) remove(id uint64) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

// snapshot records value as the last event and returns the current listeners.
// ok is false when the registry has been closed; the value is then dropped.
func (r *registry[L, T]) snapshot(value T) (listeners []L, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if r.sendLastEventOnListen {
		v := value
		r.lastEvent = &v
	}
	listeners = make([]L, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	return listeners, true
}

func (r *registry[L, T]) close() {
	r.mu.Lock()
	r.closed = true
	r.listeners = make(map[uint64]L)
	r.lastEvent = nil
	r.mu.Unlock()
}

func (r *registry[L, T]) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *registry[L, T]) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
