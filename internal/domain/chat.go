package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxChatTextLen = 4096

var (
	ErrChatEmpty   = errors.New("chat message empty")
	ErrChatTooLong = errors.New("chat message too long")
)

// ChatMessage is immutable once created. Ordering is per recipient arrival.
type ChatMessage struct {
	ID         string    `json:"id" msgpack:"id"`
	Sender     SessionID `json:"sender" msgpack:"sender"`
	SenderName string    `json:"senderName,omitempty" msgpack:"senderName,omitempty"`
	Text       string    `json:"text" msgpack:"text"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
}

func NewChatMessage(sender SessionID, senderName, text string) (ChatMessage, error) {
	if text == "" {
		return ChatMessage{}, ErrChatEmpty
	}
	if len(text) > MaxChatTextLen {
		return ChatMessage{}, ErrChatTooLong
	}
	return ChatMessage{
		ID:         uuid.NewString(),
		Sender:     sender,
		SenderName: senderName,
		Text:       text,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (m ChatMessage) Validate() error {
	if m.ID == "" || m.Text == "" {
		return ErrChatEmpty
	}
	if len(m.Text) > MaxChatTextLen {
		return ErrChatTooLong
	}
	return nil
}
