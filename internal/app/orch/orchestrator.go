// Package orch glues the session registry and the room registry into the
// signaling relay: it admits sessions to rooms, routes negotiation envelopes
// and chat, and applies the backpressure policy to slow recipients.
package orch

import (
	"github.com/dkeye/MeetLink/internal/app"
	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

// Connect registers a freshly upgraded session and greets it with its id.
func (o *Orchestrator) Connect(sess core.MemberSession, cancel func()) {
	o.Registry.BindSignal(sess.ID(), sess, cancel)
	o.Send(sess, protocol.Welcome(sess.ID()))
}

// Send encodes m and queues it on the session without blocking.
func (o *Orchestrator) Send(sess core.MemberSession, m *protocol.Message) bool {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(m.Type)).Msg("encode")
		return false
	}
	if err := sess.Signal().TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Str("type", string(m.Type)).Msg("send rejected")
		return false
	}
	return true
}

func (o *Orchestrator) applyPolicy(roomID domain.RoomID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(roomID, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Str("room", string(roomID)).Msg("kicking slow consumer")
			o.Registry.Cancel(slow.ID())
		case app.DropFrame:
			log.Debug().Str("module", "orch").Str("sid", string(slow.ID())).Msg("frame dropped for slow consumer")
		case app.NoAction:
		}
	}
}
