package fileupload

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler ingests multipart uploads for one upload endpoint instance. Each
// handler carries a random token; only clients holding an upload URL built
// by UploadURL can reach the streaming path. Mount the handler on any
// router and dispose it when the owning widget goes away.
type Handler struct {
	scope    *Scope
	receiver Receiver
	config   *Config
	token    string
	basePath string
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	disposed chan struct{}
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger. Default: slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithBasePath sets the path UploadURL prefixes to its query parameters.
// Default: "/fileupload".
func WithBasePath(path string) Option {
	return func(h *Handler) {
		h.basePath = path
	}
}

// WithMetrics attaches Prometheus instrumentation to the handler.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTracing enables OpenTelemetry tracing of upload requests. The tracer
// is resolved from the global tracer provider under the given name.
func WithTracing(tracerName string) Option {
	return func(h *Handler) {
		if tracerName == "" {
			tracerName = "fileupload"
		}
		h.tracer = otel.Tracer(tracerName)
	}
}

// NewHandler creates an upload handler bound to a session scope and a
// receiver. The handler's token is generated here; distribute it only
// through UploadURL.
func NewHandler(scope *Scope, receiver Receiver, opts ...Option) *Handler {
	h := &Handler{
		scope:    scope,
		receiver: receiver,
		config:   NewConfig(),
		token:    newToken(),
		basePath: "/fileupload",
		logger:   slog.Default(),
		disposed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "upload_handler")
	return h
}

// Config returns the handler's runtime-mutable limits.
func (h *Handler) Config() *Config {
	return h.config
}

// Token returns the capability token clients must present.
func (h *Handler) Token() string {
	return h.token
}

// UploadURL builds the URL for uploading under the given process id and
// authorizes the id with the session's process registry. Requests bearing
// an id that was never authorized are rejected.
func (h *Handler) UploadURL(processID string) string {
	if processID != "" {
		h.scope.Processes().GetOrCreate(processID)
	}
	q := url.Values{}
	q.Set("processId", processID)
	q.Set("token", h.token)
	return h.basePath + "?" + q.Encode()
}

// Dispose deactivates the handler. Requests arriving after Dispose are
// rejected like requests with an invalid token. Dispose is idempotent.
func (h *Handler) Dispose() {
	select {
	case <-h.disposed:
	default:
		close(h.disposed)
	}
}

// IsDisposed reports whether the handler has been disposed.
func (h *Handler) IsDisposed() bool {
	select {
	case <-h.disposed:
		return true
	default:
		return false
	}
}

// ServeHTTP handles one upload request end to end: token and process id
// checks, method and media-type validation, then streaming with progress
// fan-out and a terminal finished or failed notification. No failure
// escapes; every outcome maps to an HTTP status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var span trace.Span
	if h.tracer != nil {
		_, span = h.tracer.Start(r.Context(), "fileupload.ingest",
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
	}

	if h.scope == nil || h.scope.Closed() || h.IsDisposed() {
		h.reject(w, span, http.StatusForbidden, "forbidden", "no active upload session")
		return
	}

	query := r.URL.Query()
	processID := query.Get("processId")
	token := query.Get("token")
	if processID == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		h.reject(w, span, http.StatusForbidden, "forbidden", "invalid or missing token")
		return
	}
	if span != nil {
		span.SetAttributes(attribute.String("fileupload.process_id", processID))
	}

	// An unknown process id means the client never obtained an upload URL
	// for it. Reject without creating a record or touching listeners.
	rec := h.scope.Processes().Get(processID)
	if rec == nil {
		h.reject(w, span, http.StatusForbidden, "forbidden", "unknown upload process")
		return
	}

	if r.Method != http.MethodPost {
		h.reject(w, span, http.StatusMethodNotAllowed, "method", "only POST requests allowed")
		return
	}

	boundary, ok := multipartBoundary(r.Header.Get("Content-Type"))
	if !ok {
		h.reject(w, span, http.StatusUnsupportedMediaType, "media_type", "content must be multipart with a boundary")
		return
	}

	h.stream(w, r, span, rec, processID, boundary)
}

// stream drives the multipart body through the receiver while updating the
// tracking record and notifying listeners on every chunk read.
func (h *Handler) stream(
	w http.ResponseWriter,
	r *http.Request,
	span trace.Span,
	rec *TrackingRecord,
	processID string,
	boundary string,
) {
	start := time.Now()
	h.metrics.uploadStarted()
	defer h.metrics.uploadDone()

	// A fresh attempt under a reused process id must not see residue from
	// the previous one.
	h.scope.Processes().Reset(processID)

	declared := r.ContentLength
	if declared < 0 {
		declared = unknownLength
	}

	body := &progressReader{
		src: r.Body,
		onChunk: func(bytesRead int64) error {
			return h.onChunk(rec, processID, bytesRead, declared)
		},
	}
	parts := multipart.NewReader(body, boundary)

	received := false
	var failure error

	for failure == nil {
		part, err := parts.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			failure = err
			break
		}

		// Form fields and any file field after the first are drained and
		// ignored: one logical upload per process id, first file wins.
		if part.FileName() == "" || received {
			_, err = io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				failure = err
			}
			continue
		}

		fileName := stripFileName(part.FileName())
		contentType := part.Header.Get("Content-Type")
		rec.SetFileMeta(fileName, contentType)

		details := FileDetails{
			FileName:      fileName,
			ContentType:   contentType,
			ContentLength: declared,
		}
		// The callback checks request-level byte counts, which include
		// multipart framing and cannot enforce the file-size limit
		// precisely. This counts the file bytes themselves.
		src := io.Reader(part)
		if maxFile := h.config.MaxFileSize(); maxFile != Unlimited {
			src = &limitReader{r: part, remaining: maxFile}
		}
		location, err := h.receiver.Receive(src, details)
		part.Close()
		if err != nil {
			failure = err
			continue
		}
		rec.SetStoredFile(location)
		received = true
	}

	if failure == nil && body.err == nil {
		// Drain any epilogue so bytesRead reaches the declared length.
		if _, err := io.Copy(io.Discard, body); err != nil {
			failure = err
		}
	}
	// A callback error may never surface through the multipart reader when
	// the whole request fits in its internal buffer; the latched error is
	// authoritative.
	if failure == nil {
		failure = body.err
	}
	if failure == nil && !received {
		failure = ErrNoFileInRequest
	}

	if failure != nil {
		h.fail(w, span, rec, processID, failure, body.total, start)
		return
	}

	rec.Finish()
	h.scope.Listeners().Notify(rec.Snapshot())

	h.metrics.recordOutcome("finished", body.total, time.Since(start).Seconds())
	if span != nil {
		span.SetAttributes(attribute.Int64("fileupload.bytes_read", rec.BytesRead()))
		span.SetStatus(codes.Ok, "")
	}
	h.logger.Debug("upload finished",
		"process_id", processID,
		"file_name", rec.FileName(),
		"bytes_read", rec.BytesRead())

	w.WriteHeader(http.StatusOK)
}

// onChunk is the progress callback, invoked on every chunk read from the
// request body. The size limits are checked here, proactively, so an
// oversized upload fails fast instead of surfacing a parser error after
// the stream has been drained. The file-size comparison is coarse (request
// bytes include framing); the exact check happens per file part via
// limitReader.
func (h *Handler) onChunk(rec *TrackingRecord, processID string, bytesRead, contentLength int64) error {
	if maxFile := h.config.MaxFileSize(); maxFile != Unlimited {
		if (contentLength != unknownLength && contentLength > maxFile+sizeSlack) || bytesRead > maxFile+sizeSlack {
			return ErrSizeLimitExceeded
		}
	}
	if maxReq := h.config.MaxRequestSize(); maxReq != Unlimited {
		if (contentLength != unknownLength && contentLength > maxReq) || bytesRead > maxReq {
			return ErrSizeLimitExceeded
		}
	}

	rec.UpdateProgress(bytesRead, contentLength)
	h.scope.Listeners().Notify(rec.Snapshot())
	return nil
}

// sizeSlack allows for multipart framing overhead when checking the maximum
// file size against the request-level byte counts (the declared content
// length and the running count both include boundaries and part headers).
// Without it a file of exactly the maximum size would be rejected.
const sizeSlack = 1000

// fail puts the record into its terminal failed state, notifies listeners
// exactly once, and maps the failure category to an HTTP status.
func (h *Handler) fail(
	w http.ResponseWriter,
	span trace.Span,
	rec *TrackingRecord,
	processID string,
	err error,
	bytes int64,
	start time.Time,
) {
	rec.Fail(err)
	h.scope.Listeners().Notify(rec.Snapshot())

	status := http.StatusInternalServerError
	metric := "internal"
	switch {
	case errors.Is(err, ErrSizeLimitExceeded):
		status = http.StatusRequestEntityTooLarge
		metric = "size_limit"
	case errors.Is(err, ErrNoFileInRequest):
		status = http.StatusBadRequest
		metric = "no_file"
	}

	h.metrics.recordOutcome(metric, bytes, time.Since(start).Seconds())
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	h.logger.Debug("upload failed",
		"process_id", processID,
		"status", status,
		"error", err)

	http.Error(w, err.Error(), status)
}

// reject refuses a request before any record mutation or fan-out.
func (h *Handler) reject(w http.ResponseWriter, span trace.Span, status int, reason, message string) {
	h.metrics.recordRejected(reason)
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
	http.Error(w, message, status)
}

// multipartBoundary extracts the boundary from a multipart content type.
func multipartBoundary(contentType string) (string, bool) {
	if contentType == "" {
		return "", false
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return "", false
	}
	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		return "", false
	}
	return boundary, true
}

// progressReader counts the bytes flowing out of the request body and
// invokes the progress callback after every read. A callback error aborts
// the stream; it is also latched in err, because the multipart reader can
// satisfy the rest of a small request from bytes it buffered before the
// error and finish without ever reporting it.
type progressReader struct {
	src     io.Reader
	total   int64
	err     error
	onChunk func(bytesRead int64) error
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.src.Read(b)
	if n > 0 {
		p.total += int64(n)
		if cbErr := p.onChunk(p.total); cbErr != nil {
			if p.err == nil {
				p.err = cbErr
			}
			return n, cbErr
		}
	}
	return n, err
}

// limitReader returns ErrSizeLimitExceeded once more than the allowed
// number of file bytes has been read. A file of exactly the limit passes.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(b []byte) (int, error) {
	n, err := l.r.Read(b)
	if n > 0 {
		l.remaining -= int64(n)
		if l.remaining < 0 {
			return n, ErrSizeLimitExceeded
		}
	}
	return n, err
}

// newToken returns a cryptographically random capability token.
func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
