package signal

import (
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	sid domain.SessionID,
	conn *WsSignalConn,
	m *protocol.Message,
) {
	if err := m.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(conn, protocol.ErrorMessage("bad_payload"))
		return
	}
	if m.SessionID != "" && m.SessionID != sid {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("claimed", string(m.SessionID)).Msg("join with foreign session id")
		ctl.sendJSON(conn, protocol.ErrorMessage("session_mismatch"))
		return
	}
	name, err := domain.NormalizeDisplayName(m.DisplayName)
	if err != nil {
		ctl.sendJSON(conn, protocol.ErrorMessage("invalid_name"))
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(m.RoomID)).Str("name", name).Msg("join")
	ctl.Orch.Join(sid, m.RoomID, name)
}

// handleLeave: leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid domain.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	ctl.sendJSON(conn, &protocol.Message{Type: protocol.TypeLeft})
}
