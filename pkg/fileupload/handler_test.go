package fileupload_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/vango-dev/fileupload/pkg/fileupload"
)

func newTestHandler(t *testing.T, opts ...fileupload.Option) (*fileupload.Handler, *fileupload.Scope) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scope := fileupload.NewScope(logger)
	t.Cleanup(scope.Close)

	receiver, err := fileupload.NewDiskReceiver(t.TempDir(), scope.Cleaner())
	if err != nil {
		t.Fatalf("NewDiskReceiver: %v", err)
	}

	opts = append([]fileupload.Option{fileupload.WithLogger(logger)}, opts...)
	return fileupload.NewHandler(scope, receiver, opts...), scope
}

func newUploadRequest(t *testing.T, target, filename, contentType string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}

	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("part.Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

type eventRecorder struct {
	mu     sync.Mutex
	events []fileupload.Event
}

func (r *eventRecorder) HandleUpload(ev fileupload.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []fileupload.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fileupload.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) last(t *testing.T) fileupload.Event {
	t.Helper()
	events := r.all()
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	return events[len(events)-1]
}

type funcReceiver func(io.Reader, fileupload.FileDetails) (string, error)

func (f funcReceiver) Receive(r io.Reader, d fileupload.FileDetails) (string, error) {
	return f(r, d)
}

func TestHandler_UploadsFile(t *testing.T) {
	h, scope := newTestHandler(t)
	content := []byte(strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipisici elit. ", 50))

	recorder := &eventRecorder{}
	scope.AddListener("proc-1", recorder)

	req := newUploadRequest(t, h.UploadURL("proc-1"), "lorem.txt", "text/plain", content)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	stored := scope.StoredFile("proc-1")
	if stored == "" {
		t.Fatal("no stored file recorded")
	}
	data, err := os.ReadFile(stored)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("stored content mismatch: got %d bytes, want %d", len(data), len(content))
	}

	final := recorder.last(t)
	if final.Kind != fileupload.EventFinished {
		t.Fatalf("final event kind = %v, want %v", final.Kind, fileupload.EventFinished)
	}
	if final.FileName != "lorem.txt" {
		t.Fatalf("final FileName = %q, want %q", final.FileName, "lorem.txt")
	}
	if final.ContentType != "text/plain" {
		t.Fatalf("final ContentType = %q, want %q", final.ContentType, "text/plain")
	}
	if final.BytesRead != final.ContentLength {
		t.Fatalf("final BytesRead = %d, ContentLength = %d, want equal", final.BytesRead, final.ContentLength)
	}
	// The multipart encoding adds framing, so more bytes flow than the file
	// holds.
	if final.BytesRead <= int64(len(content)) {
		t.Fatalf("final BytesRead = %d, want > %d", final.BytesRead, len(content))
	}

	var prev int64
	for _, ev := range recorder.all() {
		if ev.Kind != fileupload.EventProgress {
			continue
		}
		if ev.BytesRead <= prev {
			t.Fatalf("progress not strictly increasing: %d after %d", ev.BytesRead, prev)
		}
		prev = ev.BytesRead
	}
}

func TestHandler_StripsClientPath(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     string
	}{
		{"unix path", "/tmp/some.txt", "some.txt"},
		{"windows path", `C:\temp\some.txt`, "some.txt"},
		{"bare name", "some.txt", "some.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, scope := newTestHandler(t)

			req := newUploadRequest(t, h.UploadURL("proc-1"), tt.fileName, "text/plain", []byte("x"))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := scope.Processes().Get("proc-1").FileName(); got != tt.want {
				t.Fatalf("FileName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandler_RejectsUnknownProcessID(t *testing.T) {
	h, scope := newTestHandler(t)

	recorder := &eventRecorder{}
	scope.AddListener("never-authorized", recorder)

	target := "/fileupload?processId=never-authorized&token=" + h.Token()
	req := newUploadRequest(t, target, "x.txt", "text/plain", []byte("x"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if got := len(recorder.all()); got != 0 {
		t.Fatalf("listener received %d events, want 0", got)
	}
	if scope.Processes().Get("never-authorized") != nil {
		t.Fatal("rejected request must not create a tracking record")
	}
}

func TestHandler_RejectsInvalidToken(t *testing.T) {
	h, _ := newTestHandler(t)
	h.UploadURL("proc-1")

	target := "/fileupload?processId=proc-1&token=wrong"
	req := newUploadRequest(t, target, "x.txt", "text/plain", []byte("x"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandler_RejectsNonPOST(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, h.UploadURL("proc-1"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_RejectsNonMultipart(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, h.UploadURL("proc-1"), bytes.NewBufferString("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnsupportedMediaType)
	}
}

func TestHandler_EnforcesMaxFileSize(t *testing.T) {
	h, scope := newTestHandler(t)
	h.Config().SetMaxFileSize(16)

	recorder := &eventRecorder{}
	scope.AddListener("proc-1", recorder)

	req := newUploadRequest(t, h.UploadURL("proc-1"), "big.bin", "application/octet-stream",
		bytes.Repeat([]byte("a"), 64*1024))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d; body=%q", rec.Code, http.StatusRequestEntityTooLarge, rec.Body.String())
	}
	if err := scope.Err("proc-1"); !errors.Is(err, fileupload.ErrSizeLimitExceeded) {
		t.Fatalf("record error = %v, want ErrSizeLimitExceeded", err)
	}

	final := recorder.last(t)
	if final.Kind != fileupload.EventFailed {
		t.Fatalf("final event kind = %v, want %v", final.Kind, fileupload.EventFailed)
	}
	if !errors.Is(final.Err, fileupload.ErrSizeLimitExceeded) {
		t.Fatalf("final event error = %v, want ErrSizeLimitExceeded", final.Err)
	}
}

func TestHandler_EnforcesMaxFileSizeOnSmallBody(t *testing.T) {
	h, scope := newTestHandler(t)
	h.Config().SetMaxFileSize(16)

	recorder := &eventRecorder{}
	scope.AddListener("proc-1", recorder)

	// Small enough that the whole request fits in the multipart reader's
	// internal buffer; the limit must still be enforced.
	req := newUploadRequest(t, h.UploadURL("proc-1"), "small.bin", "application/octet-stream",
		bytes.Repeat([]byte("a"), 500))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d; body=%q", rec.Code, http.StatusRequestEntityTooLarge, rec.Body.String())
	}
	if err := scope.Err("proc-1"); !errors.Is(err, fileupload.ErrSizeLimitExceeded) {
		t.Fatalf("record error = %v, want ErrSizeLimitExceeded", err)
	}
	if got := scope.StoredFile("proc-1"); got != "" {
		t.Fatalf("StoredFile = %q, want empty after rejected upload", got)
	}
	if final := recorder.last(t); final.Kind != fileupload.EventFailed {
		t.Fatalf("final event kind = %v, want %v", final.Kind, fileupload.EventFailed)
	}
}

func TestHandler_AcceptsFileAtExactLimit(t *testing.T) {
	h, scope := newTestHandler(t)
	h.Config().SetMaxFileSize(1024)

	content := bytes.Repeat([]byte("b"), 1024)
	req := newUploadRequest(t, h.UploadURL("proc-1"), "exact.bin", "application/octet-stream", content)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
	data, err := os.ReadFile(scope.StoredFile("proc-1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("stored %d bytes, want %d", len(data), len(content))
	}
}

func TestHandler_EnforcesMaxRequestSize(t *testing.T) {
	h, scope := newTestHandler(t)
	h.Config().SetMaxRequestSize(128)

	req := newUploadRequest(t, h.UploadURL("proc-1"), "big.bin", "", bytes.Repeat([]byte("a"), 4096))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if err := scope.Err("proc-1"); !errors.Is(err, fileupload.ErrSizeLimitExceeded) {
		t.Fatalf("record error = %v, want ErrSizeLimitExceeded", err)
	}
}

func TestHandler_EnforcesMaxRequestSizeOnSmallBody(t *testing.T) {
	h, scope := newTestHandler(t)
	h.Config().SetMaxRequestSize(128)

	// The whole request fits in the multipart reader's internal buffer, so
	// the parser can complete without ever surfacing the callback error;
	// the handler must still report the latched violation.
	req := newUploadRequest(t, h.UploadURL("proc-1"), "small.bin", "", bytes.Repeat([]byte("a"), 256))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d; body=%q", rec.Code, http.StatusRequestEntityTooLarge, rec.Body.String())
	}
	if err := scope.Err("proc-1"); !errors.Is(err, fileupload.ErrSizeLimitExceeded) {
		t.Fatalf("record error = %v, want ErrSizeLimitExceeded", err)
	}
}

func TestHandler_FailsWhenNoFileProvided(t *testing.T) {
	h, scope := newTestHandler(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("comment", "no file here"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, h.UploadURL("proc-1"), &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if err := scope.Err("proc-1"); !errors.Is(err, fileupload.ErrNoFileInRequest) {
		t.Fatalf("record error = %v, want ErrNoFileInRequest", err)
	}
}

func TestHandler_AcceptsEmptyFile(t *testing.T) {
	h, scope := newTestHandler(t)

	recorder := &eventRecorder{}
	scope.AddListener("proc-1", recorder)

	req := newUploadRequest(t, h.UploadURL("proc-1"), "empty.txt", "text/plain", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
	data, err := os.ReadFile(scope.StoredFile("proc-1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("stored %d bytes, want 0", len(data))
	}
	if final := recorder.last(t); final.Kind != fileupload.EventFinished {
		t.Fatalf("final event kind = %v, want %v", final.Kind, fileupload.EventFinished)
	}
}

func TestHandler_FirstFileFieldWins(t *testing.T) {
	h, scope := newTestHandler(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	first, err := writer.CreateFormFile("file", "first.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	first.Write([]byte("first content"))
	second, err := writer.CreateFormFile("extra", "second.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	second.Write([]byte("second content"))
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, h.UploadURL("proc-1"), &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	data, err := os.ReadFile(scope.StoredFile("proc-1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "first content" {
		t.Fatalf("stored content = %q, want %q", data, "first content")
	}
	if got := scope.Processes().Get("proc-1").FileName(); got != "first.txt" {
		t.Fatalf("FileName = %q, want %q", got, "first.txt")
	}
}

func TestHandler_MapsReceiverErrorTo500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scope := fileupload.NewScope(logger)
	t.Cleanup(scope.Close)

	receiver := funcReceiver(func(io.Reader, fileupload.FileDetails) (string, error) {
		return "", errors.New("disk full")
	})
	h := fileupload.NewHandler(scope, receiver, fileupload.WithLogger(logger))

	recorder := &eventRecorder{}
	scope.AddListener("proc-1", recorder)

	req := newUploadRequest(t, h.UploadURL("proc-1"), "x.txt", "text/plain", []byte("x"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if final := recorder.last(t); final.Kind != fileupload.EventFailed {
		t.Fatalf("final event kind = %v, want %v", final.Kind, fileupload.EventFailed)
	}
}

func TestHandler_RejectsAfterDispose(t *testing.T) {
	h, _ := newTestHandler(t)
	target := h.UploadURL("proc-1")

	h.Dispose()
	if !h.IsDisposed() {
		t.Fatal("IsDisposed = false after Dispose")
	}
	h.Dispose() // idempotent

	req := newUploadRequest(t, target, "x.txt", "text/plain", []byte("x"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandler_UploadURLAuthorizesProcess(t *testing.T) {
	h, scope := newTestHandler(t)

	raw := h.UploadURL("proc-42")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	if got := u.Query().Get("processId"); got != "proc-42" {
		t.Fatalf("processId = %q, want %q", got, "proc-42")
	}
	if got := u.Query().Get("token"); got != h.Token() {
		t.Fatalf("token = %q, want handler token", got)
	}
	if scope.Processes().Get("proc-42") == nil {
		t.Fatal("UploadURL did not authorize the process id")
	}
}

func TestHandler_ConcurrentPollingDuringUpload(t *testing.T) {
	h, scope := newTestHandler(t)
	content := bytes.Repeat([]byte("c"), 1<<20)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				scope.BytesRead("proc-1")
				scope.ContentLength("proc-1")
				scope.Err("proc-1")
				scope.StoredFile("proc-1")
			}
		}
	}()

	req := newUploadRequest(t, h.UploadURL("proc-1"), "big.bin", "application/octet-stream", content)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	close(stop)
	<-done

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := scope.BytesRead("proc-1"); got <= int64(len(content)) {
		t.Fatalf("BytesRead = %d, want > %d", got, len(content))
	}
}

func TestHandler_TracksStoredFileForCleanup(t *testing.T) {
	h, scope := newTestHandler(t)

	req := newUploadRequest(t, h.UploadURL("proc-1"), "x.txt", "text/plain", []byte("payload"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := scope.Cleaner().TrackCount(); got != 1 {
		t.Fatalf("TrackCount = %d, want 1", got)
	}

	stored := scope.StoredFile("proc-1")
	scope.Close()
	if _, err := os.Stat(stored); !os.IsNotExist(err) {
		t.Fatalf("stored file still exists after scope close: %v", err)
	}
}
