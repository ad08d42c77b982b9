package fileupload

import (
	"log/slog"
	"sync"
)

// Scope bundles the per-session upload state: the process registry, the
// listener registry, and the cleaning tracker. Create one Scope when a user
// session starts and Close it when the session ends. Handlers, sockets, and
// pollers all reach upload state through their Scope; there is no global
// lookup.
type Scope struct {
	processes *ProcessRegistry
	listeners *ListenerRegistry
	cleaner   *CleaningTracker
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewScope creates the upload state for one session. A nil logger falls
// back to slog.Default.
func NewScope(logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "fileupload")

	listeners := NewListenerRegistry()
	return &Scope{
		processes: newProcessRegistry(listeners, logger),
		listeners: listeners,
		cleaner:   NewCleaningTracker(logger),
		logger:    logger,
	}
}

// Processes returns the session's process registry.
func (s *Scope) Processes() *ProcessRegistry {
	return s.processes
}

// Listeners returns the session's listener registry.
func (s *Scope) Listeners() *ListenerRegistry {
	return s.listeners
}

// Cleaner returns the session's temporary-file tracker.
func (s *Scope) Cleaner() *CleaningTracker {
	return s.cleaner
}

// AddListener registers a listener for a process id.
func (s *Scope) AddListener(processID string, listener Listener) {
	s.listeners.Add(processID, listener)
}

// RemoveListener deregisters a listener from a process id.
func (s *Scope) RemoveListener(processID string, listener Listener) {
	s.listeners.Remove(processID, listener)
}

// Cancel discards all bookkeeping for a process id so a retry starts clean.
// An in-flight upload for the id keeps running, but its notifications find
// no listeners.
func (s *Scope) Cancel(processID string) {
	s.processes.Cancel(processID)
}

// BytesRead returns the bytes read so far for a process id, or 0 if the id
// is unknown or nothing has been read.
func (s *Scope) BytesRead(processID string) int64 {
	if rec := s.processes.Get(processID); rec != nil {
		if n := rec.BytesRead(); n > 0 {
			return n
		}
	}
	return 0
}

// ContentLength returns the declared content length for a process id, or 0
// if the id is unknown or the length has not been reported yet.
func (s *Scope) ContentLength(processID string) int64 {
	if rec := s.processes.Get(processID); rec != nil {
		if n := rec.ContentLength(); n > 0 {
			return n
		}
	}
	return 0
}

// Err returns the terminal failure of a process id, or nil.
func (s *Scope) Err(processID string) error {
	if rec := s.processes.Get(processID); rec != nil {
		return rec.Err()
	}
	return nil
}

// StoredFile returns where the receiver stored the upload for a process id,
// or "" if nothing has been stored.
func (s *Scope) StoredFile(processID string) string {
	if rec := s.processes.Get(processID); rec != nil {
		return rec.StoredFile()
	}
	return ""
}

// Closed reports whether the scope has been torn down.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the scope down: every listener binding and tracking record is
// dropped and all tracked temporary files are deleted. Deletion failures
// are logged, never returned as errors. Close is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.listeners.clearAll()
	s.processes.clear()
	s.cleaner.ExitWhenFinished()

	if failures := s.cleaner.DeleteFailures(); len(failures) > 0 {
		s.logger.Warn("temporary files could not be deleted on session teardown",
			"count", len(failures))
	}
	s.logger.Debug("upload scope closed")
}
