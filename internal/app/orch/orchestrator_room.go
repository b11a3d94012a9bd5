package orch

import (
	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join moves sid into roomID, leaving its current room first. The room queues
// the room-joined ack itself, after the user-joined events for existing
// members.
func (o *Orchestrator) Join(sid domain.SessionID, roomID domain.RoomID, displayName string) ([]domain.Member, bool) {
	if current, _, ok := o.Registry.RoomOf(sid); ok {
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left previous room")
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, false
	}
	if displayName != "" && displayName != sess.Meta().DisplayName {
		sess = core.NewMemberSession(domain.NewMember(sid, displayName), sess.Signal())
		o.Registry.UpdateSession(sid, sess)
	}

	// Recorded first: peers may answer the newcomer before Join returns.
	o.Registry.UpdateRoom(sid, roomID)
	others, res := o.Rooms.Join(roomID, sess)
	o.applyPolicy(roomID, res)

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Int("members", len(others)+1).Msg("added to room")
	return others, true
}

// Leave removes sid from its room; remaining members are told by the room.
func (o *Orchestrator) Leave(sid domain.SessionID) bool {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return false
	}
	res := o.Rooms.Leave(roomID, sid)
	o.Registry.RemoveRoom(sid)
	o.applyPolicy(roomID, res.PublishResult)
	return res.Removed
}

// OnDisconnect is the implicit leave performed when a signaling connection
// goes away.
func (o *Orchestrator) OnDisconnect(sid domain.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
}

// EvictRoom disconnects every member and forgets the room.
func (o *Orchestrator) EvictRoom(id domain.RoomID) int {
	members := o.Rooms.StopRoom(id)
	for _, m := range members {
		o.Registry.RemoveRoom(m.ID())
		o.Send(m, protocol.ErrorMessage("room closed"))
		o.Registry.Cancel(m.ID())
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Int("members", len(members)).Msg("room evicted")
	return len(members)
}
