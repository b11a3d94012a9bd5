package signal

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MeetLink/internal/app"
	"github.com/dkeye/MeetLink/internal/app/orch"
	"github.com/dkeye/MeetLink/internal/config"
	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("k") || !rl.Allow("k") {
		t.Fatalf("first two messages rejected")
	}
	if rl.Allow("k") {
		t.Fatalf("third message inside the window allowed")
	}
	if !rl.Allow("other") {
		t.Fatalf("keys share a window")
	}

	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("k") {
		t.Fatalf("message after the window rejected")
	}

	rl.Forget("k")
	if !rl.Allow("k") || !rl.Allow("k") {
		t.Fatalf("forgotten key still limited")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatalf("disabled limiter rejected message %d", i)
		}
	}
}

func TestWsSignalConn_TrySend(t *testing.T) {
	kick := newWsSignalConn(nil, 2, false)
	if err := kick.TrySend(core.Frame("1")); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if err := kick.TrySend(core.Frame("2")); err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if err := kick.TrySend(core.Frame("3")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("full queue: %v", err)
	}

	drop := newWsSignalConn(nil, 2, true)
	for _, f := range []string{"1", "2", "3"} {
		if err := drop.TrySend(core.Frame(f)); err != nil {
			t.Fatalf("send %s: %v", f, err)
		}
	}
	if got := string(<-drop.send); got != "2" {
		t.Fatalf("oldest frame kept: head = %q", got)
	}
	if got := string(<-drop.send); got != "3" {
		t.Fatalf("newest frame lost: %q", got)
	}
}

func TestLimiterKey(t *testing.T) {
	if got := limiterKey("sid", "token"); got != "token" {
		t.Fatalf("got %q", got)
	}
	if got := limiterKey("sid", ""); got != "sid" {
		t.Fatalf("got %q", got)
	}
}

func TestRateLimiter_SweepsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		rl.Allow(uuid.NewString())
	}
	if rl.Len() != 20 {
		t.Fatalf("Len = %d, want 20", rl.Len())
	}

	now = now.Add(2 * time.Second)
	rl.Allow("live")
	if rl.Len() != 1 {
		t.Fatalf("idle keys kept: Len = %d", rl.Len())
	}
}

func newTestController(t *testing.T) (*SignalWSController, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v := config.New()
	v.Set("mode", "test")
	cfg, err := config.LoadFrom(v)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.PolicyFor(cfg.SlowConsumer))
	ctl := NewSignalWSController(o, cfg)

	r := gin.New()
	// Every connection arrives without a cookie and gets a fresh token.
	r.Use(func(c *gin.Context) {
		c.Set(ClientTokenKey, uuid.NewString())
		c.Set(ClientTokenMintedKey, true)
		c.Next()
	})
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(t.Context(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return ctl, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestMintedTokensForgottenOnDisconnect(t *testing.T) {
	ctl, url := newTestController(t)

	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("welcome %d: %v", i, err)
		}
		if err := conn.WriteJSON(&protocol.Message{Type: protocol.TypePing}); err != nil {
			t.Fatalf("ping %d: %v", i, err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("pong %d: %v", i, err)
		}
		if m, err := protocol.Decode(data); err != nil || m.Type != protocol.TypePong {
			t.Fatalf("pong %d: %s %v", i, data, err)
		}
		_ = conn.Close()
	}

	deadline := time.Now().Add(3 * time.Second)
	for ctl.limiter.Len() != 0 || ctl.Orch.Registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("after disconnects: limiter keys=%d sessions=%d", ctl.limiter.Len(), ctl.Orch.Registry.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
