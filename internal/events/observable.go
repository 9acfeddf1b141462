package events

import "sync"

// Observable is a typed observer registry. Listen returns an unsubscribe
// handle; there is no process-wide event namespace. With sticky enabled the
// last notified value is replayed to new listeners, which is what the
// connectivity event uses so late subscribers see the current link state.
type Observable[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]func(T)
	nextID    uint64

	sticky   bool
	last     *T
	notified bool
}

// NewObservable creates an Observable. If sticky is true, new listeners are
// invoked immediately with the last value passed to Notify, if any.
func NewObservable[T any](sticky bool) *Observable[T] {
	return &Observable[T]{
		listeners: make(map[uint64]func(T)),
		sticky:    sticky,
	}
}

// Listen registers callback and returns a function that removes it.
// Unsubscribing twice is harmless.
func (o *Observable[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("events: callback cannot be nil")
	}

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = callback

	var replay *T
	if o.sticky && o.notified && o.last != nil {
		v := *o.last
		replay = &v
	}
	o.mu.Unlock()

	// Replay outside the lock so the callback may itself call Listen.
	if replay != nil {
		callback(*replay)
	}

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Notify invokes every registered listener with value. Listeners run on the
// caller's goroutine, outside the registry lock.
func (o *Observable[T]) Notify(value T) {
	o.mu.Lock()
	if o.sticky {
		if o.last == nil {
			o.last = new(T)
		}
		*o.last = value
		o.notified = true
	}
	callbacks := make([]func(T), 0, len(o.listeners))
	for _, fn := range o.listeners {
		callbacks = append(callbacks, fn)
	}
	o.mu.Unlock()

	for _, fn := range callbacks {
		fn(value)
	}
}

// Len returns the number of registered listeners.
func (o *Observable[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.listeners)
}
