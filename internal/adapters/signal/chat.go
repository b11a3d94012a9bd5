package signal

import (
	"errors"

	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleChat(
	sid domain.SessionID,
	conn *WsSignalConn,
	m *protocol.Message,
) {
	if err := ctl.Orch.Chat(sid, m); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("chat rejected")
		if errors.Is(err, protocol.ErrMalformedMessage) {
			ctl.sendJSON(conn, protocol.ErrorMessage("bad_payload"))
		}
	}
}
