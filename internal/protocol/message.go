// Package protocol defines the JSON signaling messages exchanged between the
// relay and its clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/MeetLink/internal/domain"
)

type Type string

const (
	TypeWelcome    Type = "welcome"
	TypeJoinRoom   Type = "join-room"
	TypeRoomJoined Type = "room-joined"
	TypeUserJoined Type = "user-joined"
	TypeUserLeft   Type = "user-left"
	TypeLeaveRoom  Type = "leave-room"
	TypeLeft       Type = "left"
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "ice-candidate"
	TypeChat       Type = "chat-message"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
	TypeError      Type = "error"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// Message is the single envelope used on the signaling socket. Which fields
// are set depends on Type.
type Message struct {
	Type        Type                `json:"type"`
	RoomID      domain.RoomID       `json:"roomId,omitempty"`
	SessionID   domain.SessionID    `json:"sessionId,omitempty"`
	DisplayName string              `json:"displayName,omitempty"`
	From        domain.SessionID    `json:"fromSessionId,omitempty"`
	To          domain.SessionID    `json:"toSessionId,omitempty"`
	Payload     json.RawMessage     `json:"payload,omitempty"`
	Chat        *domain.ChatMessage `json:"message,omitempty"`
	Exclude     []domain.SessionID  `json:"exclude,omitempty"`
	Members     []domain.Member     `json:"members,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// IsNegotiation reports whether t is one of the envelope types the relay
// routes by recipient.
func (t Type) IsNegotiation() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}

func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return &m, nil
}

func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks the fields required by the message type. Payloads are never
// inspected.
func (m *Message) Validate() error {
	switch {
	case m.Type.IsNegotiation():
		if m.To == "" {
			return fmt.Errorf("%w: %s without toSessionId", ErrMalformedMessage, m.Type)
		}
		if m.RoomID == "" {
			return fmt.Errorf("%w: %s without roomId", ErrMalformedMessage, m.Type)
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("%w: %s without payload", ErrMalformedMessage, m.Type)
		}
	case m.Type == TypeJoinRoom:
		if err := m.RoomID.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	case m.Type == TypeChat:
		if m.RoomID == "" {
			return fmt.Errorf("%w: chat without roomId", ErrMalformedMessage)
		}
		if m.Chat == nil {
			return fmt.Errorf("%w: chat without message", ErrMalformedMessage)
		}
		if err := m.Chat.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}
	return nil
}

// NewEnvelope wraps a negotiation payload addressed to one session.
func NewEnvelope(t Type, room domain.RoomID, to domain.SessionID, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: t, RoomID: room, To: to, Payload: raw}, nil
}

func Welcome(sid domain.SessionID) *Message {
	return &Message{Type: TypeWelcome, SessionID: sid}
}

func UserJoined(m domain.Member) *Message {
	return &Message{Type: TypeUserJoined, SessionID: m.SessionID, DisplayName: m.DisplayName}
}

func UserLeft(sid domain.SessionID) *Message {
	return &Message{Type: TypeUserLeft, SessionID: sid}
}

func RoomJoined(room domain.RoomID, sid domain.SessionID, members []domain.Member) *Message {
	return &Message{Type: TypeRoomJoined, RoomID: room, SessionID: sid, Members: members}
}

func ErrorMessage(reason string) *Message {
	return &Message{Type: TypeError, Error: reason}
}
