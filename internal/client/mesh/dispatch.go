package mesh

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/MeetLink/internal/client/peer"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// dispatch is the only reader of the signaling connection, so relay messages
// are handled in arrival order.
func (c *Coordinator) dispatch(ctx context.Context, s *session) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.signal.Incoming():
			if !ok {
				c.signalLost(s)
				return
			}
			if ctx.Err() != nil {
				return
			}
			c.handle(s, m)
		}
	}
}

// signalLost runs on the dispatch goroutine once Incoming closes. Before the
// ack it fails the pending join; after it the session is torn down and
// reported, unless LeaveRoom already owns it.
func (c *Coordinator) signalLost(s *session) {
	c.mu.Lock()
	joined, closed := s.joined, s.closed
	if joined && !closed {
		// No leave-room over a dead connection.
		s.joined = false
		if c.sess == s {
			c.sess = nil
		}
	}
	c.mu.Unlock()

	if !joined {
		s.finishJoin(fmt.Errorf("%w: connection closed", ErrSignalingUnreachable))
		return
	}
	if closed {
		return
	}
	c.logger.Error().Str("room", string(s.room)).Msg("signaling connection lost")
	// teardown waits for this goroutine to exit.
	go func() {
		if err := c.teardown(s); err != nil {
			c.logger.Debug().Err(err).Msg("teardown after signaling loss")
		}
		c.sessionEnded.Emit(SessionEnd{Room: s.room, Err: &OpError{Op: "signal", Err: ErrSignalingLost}})
	}()
}

func (c *Coordinator) handle(s *session, m *protocol.Message) {
	switch m.Type {
	case protocol.TypeWelcome:
		c.mu.Lock()
		s.self = m.SessionID
		c.mu.Unlock()
		join := &protocol.Message{Type: protocol.TypeJoinRoom, RoomID: s.room, SessionID: m.SessionID, DisplayName: s.name}
		if err := s.signal.Send(join); err != nil {
			s.finishJoin(fmt.Errorf("%w: send join-room: %w", ErrSignalingUnreachable, err))
		}

	case protocol.TypeUserJoined:
		c.onUserJoined(s, domain.Member{SessionID: m.SessionID, DisplayName: m.DisplayName})

	case protocol.TypeRoomJoined:
		if m.RoomID != s.room {
			c.logger.Debug().Str("room", string(m.RoomID)).Msg("room-joined for another room dropped")
			return
		}
		c.mu.Lock()
		s.joined = true
		for _, member := range m.Members {
			c.ensureLinkLocked(s, member.SessionID, peer.RoleResponder)
		}
		c.mu.Unlock()
		s.finishJoin(nil)

	case protocol.TypeUserLeft:
		c.onUserLeft(s, m.SessionID)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		c.onEnvelope(s, m)

	case protocol.TypeChat:
		if m.RoomID != s.room || m.Chat == nil {
			return
		}
		c.messages.Emit(*m.Chat)

	case protocol.TypeError:
		c.logger.Warn().Str("error", m.Error).Msg("relay error")
		c.mu.Lock()
		joined := s.joined
		c.mu.Unlock()
		if !joined {
			s.finishJoin(fmt.Errorf("%w: %s", ErrJoinRejected, m.Error))
		}

	case protocol.TypePong, protocol.TypeLeft:
	default:
		c.logger.Debug().Str("type", string(m.Type)).Msg("unhandled relay message")
	}
}

// ensureLinkLocked creates a link toward remote unless one exists. Caller
// holds c.mu.
func (c *Coordinator) ensureLinkLocked(s *session, remote domain.SessionID, role peer.Role) (*peer.Link, bool) {
	if s.closed || remote == "" || remote == s.self {
		return nil, false
	}
	if l, ok := s.links[remote]; ok {
		return l, false
	}
	l := c.newLink(s, remote, role)
	s.links[remote] = l
	return l, true
}

// onUserJoined applies the initiator policy: a member announced before our
// own ack was already in the room and will offer to us; one announced after
// it is a newcomer we offer to.
func (c *Coordinator) onUserJoined(s *session, member domain.Member) {
	c.mu.Lock()
	if member.SessionID == s.self || member.SessionID == "" {
		c.mu.Unlock()
		return
	}
	delete(s.departed, member.SessionID)
	role := peer.RoleResponder
	if s.joined {
		role = peer.RoleInitiator
	}
	l, created := c.ensureLinkLocked(s, member.SessionID, role)
	c.mu.Unlock()

	if created && role == peer.RoleInitiator {
		l.Start()
	}
	c.logger.Info().Str("peer", string(member.SessionID)).Str("name", member.DisplayName).Str("role", role.String()).Msg("peer joined")
	c.peerJoined.Emit(member)
}

func (c *Coordinator) onUserLeft(s *session, id domain.SessionID) {
	c.mu.Lock()
	if id == s.self || s.closed {
		c.mu.Unlock()
		return
	}
	l := s.links[id]
	delete(s.links, id)
	s.departed[id] = struct{}{}
	c.mu.Unlock()

	if l != nil {
		if err := l.Close(); err != nil {
			c.logger.Warn().Err(err).Str("peer", string(id)).Msg("close link")
		}
	}
	c.logger.Info().Str("peer", string(id)).Msg("peer left")
	c.peerLeft.Emit(id)
}

func (c *Coordinator) onEnvelope(s *session, m *protocol.Message) {
	if m.RoomID != s.room || m.From == "" {
		c.logger.Debug().Str("type", string(m.Type)).Msg("envelope for another room dropped")
		return
	}
	c.mu.Lock()
	if _, gone := s.departed[m.From]; gone {
		c.mu.Unlock()
		c.logger.Debug().Str("type", string(m.Type)).Str("from", string(m.From)).Msg("envelope from departed peer dropped")
		return
	}
	l, ok := s.links[m.From]
	if !ok && m.Type == protocol.TypeOffer {
		l, ok = c.ensureLinkLocked(s, m.From, peer.RoleResponder)
	}
	c.mu.Unlock()
	if !ok || l == nil {
		c.logger.Debug().Str("type", string(m.Type)).Str("from", string(m.From)).Msg("envelope for unknown peer dropped")
		return
	}

	switch m.Type {
	case protocol.TypeOffer, protocol.TypeAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(m.Payload, &desc); err != nil {
			c.logger.Warn().Err(err).Str("from", string(m.From)).Msg("bad session description dropped")
			return
		}
		if m.Type == protocol.TypeOffer {
			l.HandleOffer(desc)
		} else {
			l.HandleAnswer(desc)
		}
	case protocol.TypeCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(m.Payload, &cand); err != nil {
			c.logger.Warn().Err(err).Str("from", string(m.From)).Msg("bad ice candidate dropped")
			return
		}
		l.HandleCandidate(cand)
	}
}
