package fileupload

import "errors"

// ErrSizeLimitExceeded is returned when an upload exceeds the configured
// maximum file or request size. The tracking record carries this error so
// the GUI can show a specific message, distinct from generic failures.
var ErrSizeLimitExceeded = errors.New("fileupload: size limit exceeded")

// ErrNoFileInRequest is returned when a multipart body contains no file
// field at all.
var ErrNoFileInRequest = errors.New("fileupload: no file upload data found in request")

// ErrScopeClosed is returned when an operation is attempted on a closed Scope.
var ErrScopeClosed = errors.New("fileupload: scope is closed")

// ErrCancelled is carried by the terminal failed event delivered when an
// upload process is cancelled before it completes.
var ErrCancelled = errors.New("fileupload: upload cancelled")

// EventKind identifies the three mutually exclusive upload notifications.
type EventKind int

const (
	// EventProgress reports bytes read so far against the declared length.
	EventProgress EventKind = iota

	// EventFinished reports a completed upload with its file details.
	EventFinished

	// EventFailed reports a failed upload with its cause.
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a single upload notification. Exactly one kind is delivered per
// notification; which one is decided by the record state at dispatch time.
type Event struct {
	// Kind selects progress, finished, or failed.
	Kind EventKind

	// ProcessID identifies the upload process the event belongs to.
	ProcessID string

	// FileName is the sanitized client file name. Empty until the multipart
	// headers have been parsed.
	FileName string

	// ContentType is the client-declared MIME type of the file part. May be
	// empty if the client did not send one.
	ContentType string

	// BytesRead is the number of request bytes read so far.
	BytesRead int64

	// ContentLength is the declared length of the request, or -1 if unknown.
	ContentLength int64

	// Err is the failure cause. Set only on EventFailed.
	Err error
}

// Listener receives upload events for a process id. Listeners are called
// synchronously in registration order; they must not block.
//
// Listeners are tracked by identity: registering the same listener value
// twice for one process id is a no-op. Func-typed listeners created with
// ListenerFunc have no usable identity and are always treated as distinct.
type Listener interface {
	HandleUpload(Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(Event)

// HandleUpload calls f(event).
func (f ListenerFunc) HandleUpload(event Event) {
	f(event)
}
