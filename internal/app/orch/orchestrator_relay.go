package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotInRoom = errors.New("session is not in a room")

// Forward routes an offer/answer/ice-candidate to its recipient. The payload
// is passed through untouched; only the sender header is stamped. Envelopes
// for recipients that are not connected to the same room are dropped.
func (o *Orchestrator) Forward(sid domain.SessionID, m *protocol.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotInRoom
	}
	if m.RoomID != roomID {
		return fmt.Errorf("%w: room %q, sender is in %q", protocol.ErrMalformedMessage, m.RoomID, roomID)
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok || m.To == sid || !room.Has(m.To) {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownRecipient, m.To)
	}

	m.From = sid
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := room.SendTo(m.To, b); err != nil {
		if errors.Is(err, core.ErrNotMember) {
			return fmt.Errorf("%w: %s", protocol.ErrUnknownRecipient, m.To)
		}
		if dst, ok := o.Registry.GetSession(m.To); ok {
			o.applyPolicy(roomID, core.PublishResult{Dropped: []core.MemberSession{dst}})
		}
		return err
	}
	log.Debug().Str("module", "orch").Str("type", string(m.Type)).Str("from", string(sid)).Str("to", string(m.To)).Msg("relayed envelope")
	return nil
}

// Chat fans a chat message out to the sender's room, skipping the members the
// sender already reached over a data channel.
func (o *Orchestrator) Chat(sid domain.SessionID, m *protocol.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotInRoom
	}
	if m.RoomID != roomID {
		return fmt.Errorf("%w: room %q, sender is in %q", protocol.ErrMalformedMessage, m.RoomID, roomID)
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return ErrNotInRoom
	}

	msg := *m.Chat
	msg.Sender = sid
	msg.SenderName = sess.Meta().DisplayName
	out := &protocol.Message{Type: protocol.TypeChat, RoomID: roomID, From: sid, Chat: &msg}
	b, err := protocol.Encode(out)
	if err != nil {
		return err
	}
	res := room.Broadcast(sid, b, m.Exclude...)
	o.applyPolicy(roomID, res)
	log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("from", string(sid)).Int("sent_to", res.SendTo).Int("excluded", len(m.Exclude)).Msg("relayed chat")
	return nil
}
