package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T, configure func(s *WebSocketSocket)) (*httptest.Server, string) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		configure(s)
		go s.Run()
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, wsURL
}

func TestWebSocketSocket_EmitDeliversEnvelope(t *testing.T) {
	_, url := startTestServer(t, func(s *WebSocketSocket) {
		_ = s.Emit("ready", map[string]any{"topics": []string{"orders"}})
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if env.Event != "ready" {
		t.Errorf("expected ready event, got %q", env.Event)
	}
}

func TestWebSocketSocket_DispatchesClientEventWithAck(t *testing.T) {
	received := make(chan string, 1)

	_, url := startTestServer(t, func(s *WebSocketSocket) {
		s.OnEvent("subscribe", func(payload json.RawMessage, ack AckFunc) {
			received <- string(payload)
			if ack != nil {
				ack(nil, map[string]any{"ok": true})
			}
		})
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	req := Envelope{Event: "subscribe", ID: "req-1", Payload: json.RawMessage(`"orders"`)}
	data, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case payload := <-received:
		if payload != `"orders"` {
			t.Errorf("expected payload orders, got %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler dispatch")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack failed: %v", err)
	}
	var ackEnv Envelope
	if err := json.Unmarshal(data, &ackEnv); err != nil {
		t.Fatalf("unmarshal ack failed: %v", err)
	}
	if ackEnv.Event != "ack" || ackEnv.ID != "req-1" {
		t.Errorf("expected ack envelope with matching id, got %+v", ackEnv)
	}
}
