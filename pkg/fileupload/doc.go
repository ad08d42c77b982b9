// Package fileupload provides tracked multipart file uploads for
// server-driven UI toolkits.
//
// A widget on the client submits a file to an upload URL obtained from a
// Handler. The server streams the multipart body, tracks bytes read against
// the declared content length, and fans out progress, finished, and failed
// events to listeners registered per upload process. Temporary files created
// along the way are tracked and deleted when the owning session ends.
//
// # Upload flow
//
//  1. The widget asks for an upload URL: handler.UploadURL(processID).
//     This authorizes the process id and binds it to the handler's token.
//  2. The client POSTs a multipart/form-data body to that URL.
//  3. The handler streams the body, updating the tracking record and
//     notifying listeners on each chunk read.
//  4. The first non-form file field is passed to the Receiver; remaining
//     fields are drained and ignored.
//  5. Listeners receive a terminal Finished or Failed event, always last.
//
// # Sessions
//
// All per-upload state lives in a Scope, one per user session. Create it
// when the session starts and Close it when the session ends; Close clears
// all listeners and deletes tracked temporary files. There is no global
// registry.
//
// # Threading
//
// Listeners are invoked synchronously on the goroutine that handles the
// upload request. A UI event loop that must not block upload I/O should
// subscribe through a Dispatcher, which queues events and delivers them
// from a single goroutine, or consume them over a ProgressSocket.
package fileupload
