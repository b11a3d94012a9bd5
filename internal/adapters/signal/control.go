package signal

import "github.com/dkeye/MeetLink/internal/protocol"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, &protocol.Message{Type: protocol.TypePong})
}
