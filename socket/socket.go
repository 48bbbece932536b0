// Package socket provides the transport-agnostic event surface a session
// depends on, plus a gorilla/websocket-backed implementation. Sessions
// never see a *websocket.Conn directly — only Socket.
package socket

import (
	"encoding/json"
)

// Envelope is the wire frame exchanged over the socket: {event, id,
// payload}. id is only populated on client requests that expect an ack and
// on the server's matching ack response; server-pushed events (ready,
// message, err) omit it.
type Envelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckFunc delivers a handler's outcome back to the client that requested
// it: (nil, result) on success, (err, nil) on failure.
type AckFunc func(err error, result any)

// EventHandler processes one client-sent event. ack is nil when the socket
// provided no correlation id for this call (e.g. disconnect never acks).
type EventHandler func(payload json.RawMessage, ack AckFunc)

// Socket is the surface session.Session drives. Exactly one Socket backs
// one session for its entire lifetime.
type Socket interface {
	// ID returns this connection's unique identifier.
	ID() string

	// OnEvent registers handler for event, replacing any previous handler
	// for the same name.
	OnEvent(event string, handler EventHandler)

	// Emit sends a server-pushed event with no ack expectation.
	Emit(event string, payload any) error

	// Close closes the underlying transport. Idempotent.
	Close() error
}
