package mesh

import (
	"github.com/dkeye/MeetLink/internal/client/peer"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
)

// SendMessage delivers text to every participant exactly once. Local
// subscribers see it first. Peers with an open data channel get it there; one
// relay message covers the rest, excluding the peers already served.
func (c *Coordinator) SendMessage(text string) (domain.ChatMessage, error) {
	s, ok := c.joinedSession()
	if !ok {
		return domain.ChatMessage{}, &OpError{Op: "send message", Err: ErrNotJoined}
	}
	c.mu.Lock()
	self := s.self
	links := make([]*peer.Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	msg, err := domain.NewChatMessage(self, s.name, text)
	if err != nil {
		return domain.ChatMessage{}, &OpError{Op: "send message", Err: err}
	}
	c.messages.Emit(msg)

	var served []domain.SessionID
	for _, l := range links {
		if l.SendChat(msg) {
			served = append(served, l.Remote())
		}
	}
	relay := &protocol.Message{Type: protocol.TypeChat, RoomID: s.room, Chat: &msg, Exclude: served}
	if err := s.signal.Send(relay); err != nil {
		return msg, &OpError{Op: "send message", Err: err}
	}
	c.logger.Debug().Int("data_channel", len(served)).Int("links", len(links)).Msg("chat sent")
	return msg, nil
}
