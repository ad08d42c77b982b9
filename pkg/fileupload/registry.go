package fileupload

import (
	"log/slog"
	"os"
	"sync"
)

// ProcessRegistry maps process ids to tracking records for one session.
// Entries persist across repeated polling requests for the same id; they
// disappear only through Remove, Cancel, or Scope teardown.
//
// One registry lock guards the whole map. Contention is low (one browser
// tab drives at most one upload and one poller per process id), and every
// mutating operation holds the lock for its full critical section to avoid
// lost updates.
type ProcessRegistry struct {
	mu        sync.Mutex
	records   map[string]*TrackingRecord
	listeners *ListenerRegistry
	logger    *slog.Logger
}

// newProcessRegistry creates an empty registry whose Cancel operation also
// clears bindings in the given listener registry.
func newProcessRegistry(listeners *ListenerRegistry, logger *slog.Logger) *ProcessRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRegistry{
		records:   make(map[string]*TrackingRecord),
		listeners: listeners,
		logger:    logger.With("component", "process_registry"),
	}
}

// GetOrCreate returns the record for a process id, atomically creating a
// fresh zero-state record if none exists.
func (pr *ProcessRegistry) GetOrCreate(processID string) *TrackingRecord {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	rec, ok := pr.records[processID]
	if !ok {
		rec = newTrackingRecord(processID)
		pr.records[processID] = rec
	}
	return rec
}

// Get returns the record for a process id, or nil if the id is unknown.
func (pr *ProcessRegistry) Get(processID string) *TrackingRecord {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.records[processID]
}

// Reset clears the accumulated state of an existing record in place so the
// same process id can be reused for a new attempt. The record pointer is
// preserved, which keeps listener bindings keyed on the id intact. Unknown
// ids are ignored.
func (pr *ProcessRegistry) Reset(processID string) {
	pr.mu.Lock()
	rec := pr.records[processID]
	pr.mu.Unlock()

	if rec != nil {
		rec.Reset()
		pr.listeners.ResetProgress(processID)
	}
}

// Remove deregisters a process id. The record, if any, is left untouched.
func (pr *ProcessRegistry) Remove(processID string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	delete(pr.records, processID)
}

// Cancel removes a process id and proactively cleans up everything bound to
// it: listeners receive a final failed event carrying ErrCancelled, their
// registrations are dropped, and any file already buffered for the id is
// deleted, so a retry under a fresh attempt starts clean. An upload already
// in flight is not interrupted; its final notification will find no
// listeners and fizzle.
func (pr *ProcessRegistry) Cancel(processID string) {
	pr.mu.Lock()
	rec := pr.records[processID]
	delete(pr.records, processID)
	pr.mu.Unlock()

	ev := Event{
		Kind:          EventFailed,
		ProcessID:     processID,
		BytesRead:     unknownLength,
		ContentLength: unknownLength,
		Err:           ErrCancelled,
	}
	if rec != nil {
		ev.FileName = rec.FileName()
		ev.ContentType = rec.ContentType()
		ev.BytesRead = rec.BytesRead()
		ev.ContentLength = rec.ContentLength()
	}
	pr.listeners.Notify(ev)
	pr.listeners.Clear(processID)

	if rec != nil {
		if path := rec.StoredFile(); path != "" {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				pr.logger.Warn("failed to delete buffered upload on cancel",
					"process_id", processID,
					"path", path,
					"error", err)
			}
		}
		rec.Reset()
	}

	pr.logger.Debug("upload process cancelled", "process_id", processID)
}

// Len returns the number of registered process ids.
func (pr *ProcessRegistry) Len() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.records)
}

// clear drops every record. Used on scope teardown.
func (pr *ProcessRegistry) clear() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.records = make(map[string]*TrackingRecord)
}
