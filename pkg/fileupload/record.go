package fileupload

import "sync"

// unknownLength is the sentinel for "content length not yet known".
const unknownLength int64 = -1

// TrackingRecord holds the mutable state of a single upload attempt under
// one process id. By protocol only the active upload request mutates a
// record, but polling and UI goroutines read it concurrently, so every
// access is synchronized. Violating the one-writer protocol yields stale
// reads, never corruption.
type TrackingRecord struct {
	processID string

	mu            sync.Mutex
	fileName      string
	contentType   string
	bytesRead     int64
	contentLength int64
	err           error
	storedFile    string
}

// newTrackingRecord creates a record in its reset state.
func newTrackingRecord(processID string) *TrackingRecord {
	r := &TrackingRecord{processID: processID}
	r.Reset()
	return r
}

// ProcessID returns the process id this record tracks.
func (r *TrackingRecord) ProcessID() string {
	return r.processID
}

// Reset clears all state accumulated by a previous upload attempt so the
// record can be reused for the same process id. Listener bindings are keyed
// on the process id and survive a reset.
func (r *TrackingRecord) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileName = ""
	r.contentType = ""
	r.bytesRead = unknownLength
	r.contentLength = unknownLength
	r.err = nil
	r.storedFile = ""
}

// UpdateProgress records the bytes read so far and the declared content
// length. No-op once the record is in a failed state.
func (r *TrackingRecord) UpdateProgress(bytesRead, contentLength int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.bytesRead = bytesRead
	r.contentLength = contentLength
}

// SetFileMeta records the sanitized file name and declared content type
// once the multipart part headers have been parsed.
func (r *TrackingRecord) SetFileMeta(fileName, contentType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileName = fileName
	r.contentType = contentType
}

// SetStoredFile records where the receiver stored the upload. The record
// holds only the reference; the file itself is owned by the receiver and
// the cleaning tracker.
func (r *TrackingRecord) SetStoredFile(location string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storedFile = location
}

// StoredFile returns the receiver-reported storage location, or "" if
// nothing has been stored.
func (r *TrackingRecord) StoredFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storedFile
}

// Fail puts the record into its terminal failed state. The first failure
// wins; bytesRead and contentLength are frozen at their last values.
func (r *TrackingRecord) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Finish marks the upload complete. If the content length was never
// declared, it is fixed to the bytes actually read so that the finished
// condition bytesRead == contentLength holds.
func (r *TrackingRecord) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if r.bytesRead < 0 {
		r.bytesRead = 0
	}
	if r.contentLength < 0 || r.contentLength != r.bytesRead {
		r.contentLength = r.bytesRead
	}
}

// BytesRead returns the number of request bytes read so far, or -1 before
// the first chunk.
func (r *TrackingRecord) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesRead
}

// ContentLength returns the declared content length, or -1 if unknown.
func (r *TrackingRecord) ContentLength() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentLength
}

// Err returns the terminal failure cause, or nil.
func (r *TrackingRecord) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// FileName returns the sanitized client file name.
func (r *TrackingRecord) FileName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileName
}

// ContentType returns the declared content type of the file part.
func (r *TrackingRecord) ContentType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentType
}

// Snapshot returns a consistent view of the record as an Event. The kind is
// decided by the record state: a failure wins over everything, a known
// content length fully read means finished, anything else is progress.
func (r *TrackingRecord) Snapshot() Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := EventProgress
	switch {
	case r.err != nil:
		kind = EventFailed
	case r.contentLength != unknownLength && r.bytesRead == r.contentLength:
		kind = EventFinished
	}

	return Event{
		Kind:          kind,
		ProcessID:     r.processID,
		FileName:      r.fileName,
		ContentType:   r.contentType,
		BytesRead:     r.bytesRead,
		ContentLength: r.contentLength,
		Err:           r.err,
	}
}
