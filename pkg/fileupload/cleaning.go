package fileupload

import (
	"log/slog"
	"os"
	"sync"
)

// CleaningTracker records temporary files created during a session and
// deletes them on demand or on session teardown. Deletion failures are
// recorded, never raised; a path that is already gone counts as a failure
// so callers can observe the discrepancy.
type CleaningTracker struct {
	mu             sync.Mutex
	filesToDelete  []string
	deleteFailures []string
	logger         *slog.Logger
}

// NewCleaningTracker creates an empty tracker. A nil logger falls back to
// slog.Default.
func NewCleaningTracker(logger *slog.Logger) *CleaningTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleaningTracker{
		logger: logger.With("component", "cleaning_tracker"),
	}
}

// Track registers a path for later deletion. It never deletes immediately
// and never fails.
func (t *CleaningTracker) Track(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesToDelete = append(t.filesToDelete, path)
}

// TrackCount returns the number of paths currently tracked.
func (t *CleaningTracker) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.filesToDelete)
}

// DeleteTemporaryFiles attempts to delete every tracked path and clears the
// tracked set regardless of individual outcomes. Paths that could not be
// deleted are appended to the failure list and returned. The lock is held
// for the whole sweep so no two sweeps run concurrently.
func (t *CleaningTracker) DeleteTemporaryFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var failed []string
	for _, path := range t.filesToDelete {
		if err := os.Remove(path); err != nil {
			failed = append(failed, path)
			t.logger.Warn("failed to delete temporary file",
				"path", path,
				"error", err)
		}
	}
	t.filesToDelete = nil
	t.deleteFailures = append(t.deleteFailures, failed...)
	return failed
}

// DeleteFailures returns all paths that could not be deleted so far.
func (t *CleaningTracker) DeleteFailures() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.deleteFailures))
	copy(out, t.deleteFailures)
	return out
}

// ExitWhenFinished is the session-teardown hook. It is equivalent to
// calling DeleteTemporaryFiles.
func (t *CleaningTracker) ExitWhenFinished() {
	t.DeleteTemporaryFiles()
}
