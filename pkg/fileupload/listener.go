package fileupload

import (
	"reflect"
	"sync"
)

// ListenerRegistry maps process ids to ordered listener lists and fans out
// upload events. It is shared across all request goroutines of one session
// and guarded by a single lock.
//
// Progress callbacks can fire once per network read, many times per second.
// The registry suppresses redundant notifications: a progress event whose
// BytesRead is not strictly greater than the previously notified value for
// that process id is dropped before any listener runs. Terminal events
// always pass the filter.
type ListenerRegistry struct {
	mu           sync.Mutex
	listeners    map[string][]Listener
	lastNotified map[string]int64
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners:    make(map[string][]Listener),
		lastNotified: make(map[string]int64),
	}
}

// Add registers a listener for a process id. Registering the same listener
// twice for the same id has no effect.
func (lr *ListenerRegistry) Add(processID string, listener Listener) {
	if listener == nil {
		return
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()

	for _, l := range lr.listeners[processID] {
		if sameListener(l, listener) {
			return
		}
	}
	lr.listeners[processID] = append(lr.listeners[processID], listener)
}

// Remove deregisters a listener from a process id. Removing a listener
// that was never added is a no-op.
func (lr *ListenerRegistry) Remove(processID string, listener Listener) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	list := lr.listeners[processID]
	for i, l := range list {
		if sameListener(l, listener) {
			lr.listeners[processID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Clear drops every listener registered for a process id and forgets its
// monotonic progress state. Used on cancel; a notification attempt for a
// cleared id finds no listeners and is a no-op.
func (lr *ListenerRegistry) Clear(processID string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	delete(lr.listeners, processID)
	delete(lr.lastNotified, processID)
}

// ResetProgress forgets the monotonic filter state for a process id so a
// fresh upload attempt under the same id starts clean.
func (lr *ListenerRegistry) ResetProgress(processID string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	delete(lr.lastNotified, processID)
}

// Notify dispatches one event to every listener registered for its process
// id, in registration order. Successive calls for the same id are delivered
// in call order. Redundant progress events are dropped by the monotonic
// filter.
func (lr *ListenerRegistry) Notify(event Event) {
	lr.mu.Lock()
	if event.Kind == EventProgress {
		if last, ok := lr.lastNotified[event.ProcessID]; ok && event.BytesRead <= last {
			lr.mu.Unlock()
			return
		}
		lr.lastNotified[event.ProcessID] = event.BytesRead
	}
	targets := make([]Listener, len(lr.listeners[event.ProcessID]))
	copy(targets, lr.listeners[event.ProcessID])
	lr.mu.Unlock()

	// Dispatch outside the lock so listeners can add or remove
	// registrations while a notification is in flight.
	for _, l := range targets {
		l.HandleUpload(event)
	}
}

// clearAll drops every registration and all monotonic state. Used on scope
// teardown.
func (lr *ListenerRegistry) clearAll() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.listeners = make(map[string][]Listener)
	lr.lastNotified = make(map[string]int64)
}

// Count returns the number of listeners registered for a process id.
func (lr *ListenerRegistry) Count(processID string) int {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return len(lr.listeners[processID])
}

// sameListener reports whether two listeners are the same registration.
// Incomparable dynamic types (funcs) never match.
func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
