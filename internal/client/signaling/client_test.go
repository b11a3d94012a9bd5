package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/gorilla/websocket"
)

// echoServer greets with welcome and echoes every text frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		welcome, _ := protocol.Encode(protocol.Welcome("s1"))
		if err := ws.WriteMessage(websocket.TextMessage, welcome); err != nil {
			return
		}
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, c *Client) *protocol.Message {
	t.Helper()
	select {
	case m, ok := <-c.Incoming():
		if !ok {
			t.Fatal("incoming closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)
	c, err := Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if m := recv(t, c); m.Type != protocol.TypeWelcome || m.SessionID != "s1" {
		t.Fatalf("first message = %+v", m)
	}
	if err := c.Send(&protocol.Message{Type: protocol.TypePing}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if m := recv(t, c); m.Type != protocol.TypePing {
		t.Fatalf("echo = %+v", m)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	srv := echoServer(t)
	c, err := Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Close()
	if err := c.Send(&protocol.Message{Type: protocol.TypePing}); err != ErrClosed {
		t.Fatalf("send after close = %v, want ErrClosed", err)
	}
	_ = c.Close()
}

func TestClientIncomingClosesWithServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		welcome, _ := protocol.Encode(protocol.Welcome("s1"))
		_ = ws.WriteMessage(websocket.TextMessage, welcome)
		_ = ws.Close()
	}))
	t.Cleanup(srv.Close)

	c, err := Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	recv(t, c)

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("incoming not closed after server hangup")
	}
}

func TestDialUnreachable(t *testing.T) {
	if _, err := Dial(t.Context(), "ws://127.0.0.1:1/api/ws/signal"); err == nil {
		t.Fatal("dial to closed port succeeded")
	}
}
