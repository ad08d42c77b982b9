package fileupload

import "context"

// Await blocks until the upload for a process id reaches a terminal state
// and returns the terminal event. A failed upload is a successful await;
// inspect Event.Err for the failure, which is ErrCancelled when the process
// was cancelled while waiting. Await returns an error only when no terminal
// event can be obtained: the context ended or the scope is closed.
//
// Await is safe to call from any goroutine and multiple waiters may await
// the same process id.
func Await(ctx context.Context, scope *Scope, processID string) (Event, error) {
	if scope == nil || scope.Closed() {
		return Event{}, ErrScopeClosed
	}

	w := &awaitListener{ch: make(chan Event, 1)}
	scope.AddListener(processID, w)
	defer scope.RemoveListener(processID, w)

	// The upload may already have finished before we subscribed.
	if rec := scope.Processes().Get(processID); rec != nil {
		if ev := rec.Snapshot(); ev.Kind != EventProgress {
			return ev, nil
		}
	}

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// awaitListener forwards the first terminal event into its channel. The
// pointer identity makes the registration removable.
type awaitListener struct {
	ch chan Event
}

func (w *awaitListener) HandleUpload(ev Event) {
	if ev.Kind == EventProgress {
		return
	}
	select {
	case w.ch <- ev:
	default:
	}
}
