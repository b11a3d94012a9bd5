package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/MeetLink/internal/app/orch"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.writeWait())); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.writeWait())); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump forgets the limiter key on exit when no other connection can share
// it: the session id, or a token minted for this connection alone.
func (ctl *SignalWSController) readPump(ctx context.Context, sid domain.SessionID, token string, minted bool, c *WsSignalConn, stop func()) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		stop()
		ctl.Orch.OnDisconnect(sid)
		if token == "" || minted {
			ctl.limiter.Forget(limiterKey(sid, token))
		}
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
		if !ctl.limiter.Allow(limiterKey(sid, token)) {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("rate limited, message dropped")
			continue
		}
		ctl.handleSignal(sid, c, data)
	}
}

func limiterKey(sid domain.SessionID, token string) string {
	if token != "" {
		return token
	}
	return string(sid)
}

// handleSignal never lets a bad message escape this session: malformed or
// unroutable input is logged and dropped.
func (ctl *SignalWSController) handleSignal(sid domain.SessionID, c *WsSignalConn, data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		return
	}

	switch m.Type {
	case protocol.TypeJoinRoom:
		ctl.handleJoin(sid, c, m)
	case protocol.TypeLeaveRoom:
		ctl.handleLeave(sid, c)
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		ctl.handleEnvelope(sid, m)
	case protocol.TypeChat:
		ctl.handleChat(sid, c, m)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) handleEnvelope(sid domain.SessionID, m *protocol.Message) {
	err := ctl.Orch.Forward(sid, m)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrUnknownRecipient):
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("envelope dropped")
	case errors.Is(err, protocol.ErrMalformedMessage), errors.Is(err, orch.ErrNotInRoom):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("envelope rejected")
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("envelope not delivered")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, m *protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
