package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/MeetLink/internal/app"
	"github.com/dkeye/MeetLink/internal/app/orch"
	"github.com/dkeye/MeetLink/internal/config"
	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// ClientTokenKey is the gin context key holding the browser's client token.
	ClientTokenKey = "client_token"
	// ClientTokenMintedKey is set when the token was created for this request,
	// i.e. the client sent no session cookie.
	ClientTokenMintedKey = "client_token_minted"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type SignalWSController struct {
	Orch     *orch.Orchestrator
	cfg      *config.Config
	limiter  *RateLimiter
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Interval),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn is the relay's outbound side of one session: a bounded queue
// drained by writePump.
type WsSignalConn struct {
	conn       *websocket.Conn
	send       chan core.Frame
	dropOldest bool

	mu     sync.Mutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int, dropOldest bool) *WsSignalConn {
	return &WsSignalConn{
		conn:       ws,
		send:       make(chan core.Frame, queue),
		dropOldest: dropOldest,
	}
}

// TrySend never blocks. With dropOldest the oldest queued frame is evicted
// to make room; otherwise a full queue is reported as ErrBackpressure.
func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
	}
	if !c.dropOldest {
		return ErrBackpressure
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString(ClientTokenKey)
	minted := c.GetBool(ClientTokenMintedKey)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.cfg.SendQueue, ctl.cfg.SlowConsumer == app.SlowConsumerDropOldest)
	sid := domain.NewSessionID()
	sess := core.NewMemberSession(domain.NewMember(sid, domain.DefaultName), conn)

	ctx, cancel := context.WithCancel(ctx)
	stop := func() {
		cancel()
		conn.Close()
	}
	ctl.Orch.Connect(sess, stop)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", token).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, token, minted, conn, stop)
}

func (ctl *SignalWSController) writeWait() time.Duration {
	if ctl.cfg.WriteWait <= 0 {
		return 5 * time.Second
	}
	return ctl.cfg.WriteWait
}
