package fileupload

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// ProgressSocket streams upload progress over a WebSocket. A client opens
// the socket with a processId query parameter and receives one JSON message
// per notified event; after the terminal finished or failed message the
// server closes the connection with a normal closure.
//
// The socket is read-only for the client. Inbound messages are discarded;
// they only serve to detect disconnects.
type ProgressSocket struct {
	scope    *Scope
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// SocketOption configures a ProgressSocket.
type SocketOption func(*ProgressSocket)

// WithSocketLogger sets the socket's logger. Default: slog.Default.
func WithSocketLogger(logger *slog.Logger) SocketOption {
	return func(ps *ProgressSocket) {
		if logger != nil {
			ps.logger = logger
		}
	}
}

// WithCheckOrigin sets the origin check used during the WebSocket upgrade.
func WithCheckOrigin(check func(*http.Request) bool) SocketOption {
	return func(ps *ProgressSocket) {
		ps.upgrader.CheckOrigin = check
	}
}

// NewProgressSocket creates a progress socket bound to a session scope.
func NewProgressSocket(scope *Scope, opts ...SocketOption) *ProgressSocket {
	ps := &ProgressSocket{
		scope: scope,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ps)
	}
	ps.logger = ps.logger.With("component", "progress_socket")
	return ps
}

// progressMessage is the wire form of an Event.
type progressMessage struct {
	Kind          string `json:"kind"`
	ProcessID     string `json:"processId"`
	FileName      string `json:"fileName,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	BytesRead     int64  `json:"bytesRead"`
	ContentLength int64  `json:"contentLength"`
	Error         string `json:"error,omitempty"`
}

func toProgressMessage(ev Event) progressMessage {
	msg := progressMessage{
		Kind:          ev.Kind.String(),
		ProcessID:     ev.ProcessID,
		FileName:      ev.FileName,
		ContentType:   ev.ContentType,
		BytesRead:     ev.BytesRead,
		ContentLength: ev.ContentLength,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

func (ps *ProgressSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	processID := r.URL.Query().Get("processId")
	if processID == "" {
		http.Error(w, "missing processId", http.StatusBadRequest)
		return
	}
	if ps.scope == nil || ps.scope.Closed() {
		http.Error(w, "no active upload session", http.StatusForbidden)
		return
	}

	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ps.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sl := &socketListener{ch: make(chan Event, 32)}
	ps.scope.AddListener(processID, sl)
	defer ps.scope.RemoveListener(processID, sl)

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current state first so a subscriber joining mid-upload is
	// not blind until the next chunk arrives.
	if rec := ps.scope.Processes().Get(processID); rec != nil {
		ev := rec.Snapshot()
		if !ps.send(conn, ev) {
			return
		}
		if ev.Kind != EventProgress {
			ps.closeNormal(conn)
			return
		}
	}

	for {
		select {
		case ev := <-sl.ch:
			if !ps.send(conn, ev) {
				return
			}
			if ev.Kind != EventProgress {
				ps.closeNormal(conn)
				return
			}
		case <-disconnected:
			return
		}
	}
}

func (ps *ProgressSocket) send(conn *websocket.Conn, ev Event) bool {
	if err := conn.WriteJSON(toProgressMessage(ev)); err != nil {
		if websocket.IsUnexpectedCloseError(err,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			ps.logger.Debug("progress write failed", "error", err)
		}
		return false
	}
	return true
}

func (ps *ProgressSocket) closeNormal(conn *websocket.Conn) {
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// socketListener buffers events for one socket. Progress events are dropped
// when the buffer is full; a terminal event evicts a buffered progress
// event instead so it is never lost.
type socketListener struct {
	ch chan Event
}

func (sl *socketListener) HandleUpload(ev Event) {
	if ev.Kind == EventProgress {
		select {
		case sl.ch <- ev:
		default:
		}
		return
	}
	for {
		select {
		case sl.ch <- ev:
			return
		default:
			select {
			case <-sl.ch:
			default:
				return
			}
		}
	}
}
