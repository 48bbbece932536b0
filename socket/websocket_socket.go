package socket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	kerrors "github.com/c360/kasocki/errors"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketSocket adapts a gorilla/websocket connection to Socket.
type WebSocketSocket struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu  sync.Mutex
	mu       sync.RWMutex
	handlers map[string]EventHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// Upgrade upgrades an HTTP request to a WebSocket connection and returns a
// ready-to-use WebSocketSocket. The caller is responsible for calling Run
// to start the read loop.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WebSocketSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindKasocki, err, "socket", "Upgrade", "upgrade connection")
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &WebSocketSocket{
		id:       uuid.NewString(),
		conn:     conn,
		logger:   logger.With("socket", ""),
		handlers: make(map[string]EventHandler),
		closed:   make(chan struct{}),
	}
	s.logger = logger.With("socket", s.id)
	return s, nil
}

func (s *WebSocketSocket) ID() string { return s.id }

func (s *WebSocketSocket) OnEvent(event string, handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

// Emit sends a server-pushed event with no ack expectation.
func (s *WebSocketSocket) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return kerrors.Wrap(kerrors.KindKasocki, err, "socket", "Emit", "marshal payload")
	}
	return s.writeEnvelope(Envelope{Event: event, Payload: raw})
}

func (s *WebSocketSocket) writeEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return kerrors.Wrap(kerrors.KindKasocki, err, "socket", "writeEnvelope", "marshal envelope")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Idempotent.
func (s *WebSocketSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Run drives the read loop and keepalive pinging until the connection
// closes or is closed by the caller. It blocks; callers run it in its own
// goroutine per connection.
func (s *WebSocketSocket) Run() {
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	go s.pingLoop()

	defer s.Close()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.dispatch("disconnect", nil, nil)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("malformed envelope, dropping", "error", err)
			continue
		}

		s.dispatchEnvelope(env)
	}
}

func (s *WebSocketSocket) dispatchEnvelope(env Envelope) {
	id := env.ID
	var ack AckFunc
	if id != "" {
		ack = func(err error, result any) {
			s.sendAck(id, err, result)
		}
	}
	s.dispatch(env.Event, env.Payload, ack)
}

func (s *WebSocketSocket) dispatch(event string, payload json.RawMessage, ack AckFunc) {
	s.mu.RLock()
	handler, ok := s.handlers[event]
	s.mu.RUnlock()
	if !ok {
		return
	}
	handler(payload, ack)
}

func (s *WebSocketSocket) sendAck(id string, handlerErr error, result any) {
	var payload any
	if handlerErr != nil {
		payload = handlerErr
	} else {
		payload = result
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal ack payload", "error", err)
		return
	}

	if err := s.writeEnvelope(Envelope{Event: "ack", ID: id, Payload: raw}); err != nil {
		s.logger.Warn("failed to write ack", "error", err)
	}
}

func (s *WebSocketSocket) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}
