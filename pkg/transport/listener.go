package transport

import (
	"reflect"
	"sync"
)

// Listener observes one Socket. Callbacks are synchronous and run on the
// goroutine that detected the event: the reader for Connected and
// ReceivedObject, whichever goroutine closed the socket for Closed.
type Listener interface {
	// Connected fires once after a successful handshake.
	Connected(s *Socket)

	// ReceivedObject fires for each decoded inbound object, in wire order.
	ReceivedObject(s *Socket, obj any)

	// Closed fires exactly once when the socket terminates.
	Closed(s *Socket)

	// Exception reports the error behind a failure. It precedes Closed when
	// the error was fatal.
	Exception(s *Socket, err error)
}

// ListenerFuncs implements Listener with optional callbacks. Nil fields are
// skipped. Register a pointer so that RemoveListener can find it again.
type ListenerFuncs struct {
	OnConnected      func(s *Socket)
	OnReceivedObject func(s *Socket, obj any)
	OnClosed         func(s *Socket)
	OnException      func(s *Socket, err error)
}

func (f *ListenerFuncs) Connected(s *Socket) {
	if f.OnConnected != nil {
		f.OnConnected(s)
	}
}

func (f *ListenerFuncs) ReceivedObject(s *Socket, obj any) {
	if f.OnReceivedObject != nil {
		f.OnReceivedObject(s, obj)
	}
}

func (f *ListenerFuncs) Closed(s *Socket) {
	if f.OnClosed != nil {
		f.OnClosed(s)
	}
}

func (f *ListenerFuncs) Exception(s *Socket, err error) {
	if f.OnException != nil {
		f.OnException(s, err)
	}
}

// ListenerSet is an ordered set of listeners. Add, Remove and Snapshot
// share one mutex; callers notify from a snapshot so that a callback may
// add or remove listeners without deadlocking.
//
// Listeners are identified by interface equality, so register pointers.
// A listener whose dynamic type is not comparable (a struct value holding
// a map, slice or func) is never equal to anything: each Add registers it
// again and Remove cannot find it.
type ListenerSet struct {
	mu        sync.Mutex
	listeners []Listener
}

// Add registers l. Adding a listener that is already present does nothing.
func (ls *ListenerSet) Add(l Listener) {
	if l == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, existing := range ls.listeners {
		if sameListener(existing, l) {
			return
		}
	}
	ls.listeners = append(ls.listeners, l)
}

// Remove unregisters l and reports whether it was present.
func (ls *ListenerSet) Remove(l Listener) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.listeners {
		if sameListener(existing, l) {
			ls.listeners = append(ls.listeners[:i:i], ls.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (ls *ListenerSet) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.listeners)
}

// Snapshot returns a copy of the current listeners in registration order.
func (ls *ListenerSet) Snapshot() []Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]Listener, len(ls.listeners))
	copy(out, ls.listeners)
	return out
}

// Each calls fn for every listener in a snapshot, outside the lock.
func (ls *ListenerSet) Each(fn func(Listener)) {
	for _, l := range ls.Snapshot() {
		fn(l)
	}
}

// sameListener compares a and b without panicking on non-comparable types.
func sameListener(a, b Listener) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
