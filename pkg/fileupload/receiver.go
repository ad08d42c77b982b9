package fileupload

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// FileDetails describes the file being received.
type FileDetails struct {
	// FileName is the sanitized client file name.
	FileName string

	// ContentType is the client-declared MIME type. May be empty.
	ContentType string

	// ContentLength is the declared length of the upload request, or -1 if
	// the client did not declare one. It includes multipart framing and is
	// an upper bound on the file size, not the exact file size.
	ContentLength int64
}

// Receiver persists the bytes of an uploaded file. Receive is invoked
// exactly once per successful upload with the decoded file stream; it
// returns the storage location (a path, object key, or URL) for retrieval
// and cleanup registration, or "" if the receiver keeps no addressable
// copy. A Receiver must remove any partial output before returning an
// error.
type Receiver interface {
	Receive(r io.Reader, details FileDetails) (location string, err error)
}

// DiskReceiver streams uploads to temporary files on the local filesystem.
// Target files are registered with the session's cleaning tracker so they
// are deleted when the session ends; claim them earlier by moving them.
type DiskReceiver struct {
	dir     string
	cleaner *CleaningTracker
}

// NewDiskReceiver creates a receiver that stores uploads in dir (the
// system temp directory if empty), tracking every target file with the
// given cleaner. A nil cleaner disables tracking.
func NewDiskReceiver(dir string, cleaner *CleaningTracker) (*DiskReceiver, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileupload: create upload dir: %w", err)
	}
	return &DiskReceiver{dir: dir, cleaner: cleaner}, nil
}

// Receive copies the upload into a fresh temp file and returns its path.
// On failure the partial file is removed before the error is returned.
func (d *DiskReceiver) Receive(r io.Reader, details FileDetails) (string, error) {
	f, err := os.CreateTemp(d.dir, "upload.*.tmp")
	if err != nil {
		return "", fmt.Errorf("fileupload: create target file: %w", err)
	}
	path := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("fileupload: write upload data: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("fileupload: close target file: %w", err)
	}

	if d.cleaner != nil {
		d.cleaner.Track(path)
	}
	return path, nil
}

// Dir returns the directory uploads are stored in.
func (d *DiskReceiver) Dir() string {
	return d.dir
}

// stripFileName removes any path prefix from a client-supplied file name.
// Clients on both separator conventions exist, so both '/' and '\' are
// stripped regardless of the server platform.
func stripFileName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i != -1 {
		return name[i+1:]
	}
	if i := strings.LastIndexByte(name, '\\'); i != -1 {
		return name[i+1:]
	}
	return name
}
