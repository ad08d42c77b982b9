package fileupload_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vango-dev/fileupload/pkg/fileupload"
)

func writeTempFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCleaningTracker_DeletesTrackedFiles(t *testing.T) {
	dir := t.TempDir()
	tracker := fileupload.NewCleaningTracker(nil)

	a := writeTempFile(t, dir, "a.tmp")
	b := writeTempFile(t, dir, "b.tmp")
	tracker.Track(a)
	tracker.Track(b)

	if got := tracker.TrackCount(); got != 2 {
		t.Fatalf("TrackCount = %d, want 2", got)
	}

	failed := tracker.DeleteTemporaryFiles()
	if len(failed) != 0 {
		t.Fatalf("failures = %v, want none", failed)
	}
	for _, path := range []string{a, b} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("file %s still exists: %v", path, err)
		}
	}
	if got := tracker.TrackCount(); got != 0 {
		t.Fatalf("TrackCount after sweep = %d, want 0", got)
	}
}

func TestCleaningTracker_RecordsFailures(t *testing.T) {
	tracker := fileupload.NewCleaningTracker(nil)
	missing := filepath.Join(t.TempDir(), "never-created.tmp")
	tracker.Track(missing)

	failed := tracker.DeleteTemporaryFiles()
	if len(failed) != 1 || failed[0] != missing {
		t.Fatalf("failures = %v, want [%s]", failed, missing)
	}
	if got := tracker.DeleteFailures(); len(got) != 1 || got[0] != missing {
		t.Fatalf("DeleteFailures = %v, want [%s]", got, missing)
	}

	// The tracked set is cleared even when deletion failed.
	if got := tracker.TrackCount(); got != 0 {
		t.Fatalf("TrackCount = %d, want 0", got)
	}
}

func TestCleaningTracker_ExitWhenFinishedSweeps(t *testing.T) {
	dir := t.TempDir()
	tracker := fileupload.NewCleaningTracker(nil)
	path := writeTempFile(t, dir, "c.tmp")
	tracker.Track(path)

	tracker.ExitWhenFinished()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after ExitWhenFinished: %v", err)
	}
}
