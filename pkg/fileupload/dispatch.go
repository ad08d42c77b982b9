package fileupload

import "sync"

// Dispatcher adapts a listener to single-goroutine delivery. Notifications
// arrive on whatever request goroutine drives the upload; wrapping a
// listener in a Dispatcher moves delivery onto one dedicated goroutine so
// the listener never runs concurrently with itself and never blocks the
// upload stream. Events are delivered in the order they were handed in.
type Dispatcher struct {
	sink   Listener
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewDispatcher wraps sink in a dispatcher with the given event buffer.
// A non-positive buffer selects a default of 64. The caller must Close the
// dispatcher when done with it.
func NewDispatcher(sink Listener, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		sink:   sink,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		d.sink.HandleUpload(ev)
	}
}

// HandleUpload queues one event for delivery. Blocks while the buffer is
// full; events handed to a closed dispatcher are dropped.
func (d *Dispatcher) HandleUpload(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.events <- ev
}

// Close stops the dispatcher after delivering every queued event. Close is
// idempotent and returns once the delivery goroutine has exited.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}
